// Copyright 2024-2026 Aiku AI

package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aiku/matrix-discord-bridge/pkg/store"
)

// maxAdminBodySize is the maximum allowed admin request body (1 MB).
const maxAdminBodySize = 1 << 20

// unbridgeRequest selects mappings to remove, either by room or by
// guild channel.
type unbridgeRequest struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	RoomID    string `json:"room_id"`
}

// AdminRouter serves the bridge's admin HTTP API.
func (b *Bridge) AdminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", b.handleHealth)
	r.Post("/api/unbridge", b.handleUnbridge)
	return r
}

func (b *Bridge) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUnbridge removes room mappings. A room_id removes that one
// room's mapping; a guild_id plus channel_id removes every room mapped
// to the channel.
func (b *Bridge) handleUnbridge(w http.ResponseWriter, r *http.Request) {
	b.log.Info().
		Str("remote_addr", r.RemoteAddr).
		Msg("Unbridge requested")

	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	var req unbridgeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var removed int
	switch {
	case req.RoomID != "":
		removed, err = b.UnbridgeRoom(ctx, req.RoomID)
	case req.GuildID != "" && req.ChannelID != "":
		removed, err = b.UnbridgeChannel(ctx, req.GuildID, req.ChannelID)
	default:
		http.Error(w, "need room_id or guild_id+channel_id", http.StatusBadRequest)
		return
	}

	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no matching mapping"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":     err.Error(),
			"unbridged": removed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unbridged": removed})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
