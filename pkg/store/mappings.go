// Copyright 2024-2026 Aiku AI

// Package store persists the Discord channel to Matrix room mappings.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned by lookups that match no mapping. Callers are
// expected to distinguish it from real database failures.
var ErrNotFound = errors.New("store: mapping not found")

// RoomMapping associates one Discord channel with one Matrix room.
// A channel may be mapped into several rooms; a room maps to at most
// one channel.
type RoomMapping struct {
	GuildID   string `db:"guild_id"`
	ChannelID string `db:"channel_id"`
	RoomID    string `db:"room_id"`
	// Plumbed marks mappings into pre-existing rooms rather than
	// rooms the bridge created itself.
	Plumbed     bool   `db:"plumbed"`
	UpdateName  bool   `db:"update_name"`
	UpdateTopic bool   `db:"update_topic"`
	CachedName  string `db:"cached_name"`
	CachedTopic string `db:"cached_topic"`
}

// Mappings provides database operations for room mappings.
type Mappings interface {
	// ByRemote retrieves all mappings for a Discord guild+channel pair.
	// Returns ErrNotFound if there are none.
	ByRemote(guildID, channelID string) ([]*RoomMapping, error)
	// ByRoom retrieves the mapping for a Matrix room.
	// Returns ErrNotFound if there is none.
	ByRoom(roomID string) (*RoomMapping, error)
	// Upsert inserts or updates a mapping keyed by room ID.
	Upsert(mapping *RoomMapping) error
	// RemoveByRoom deletes the mapping for a Matrix room.
	RemoveByRoom(roomID string) error
}

const schema = `
CREATE TABLE IF NOT EXISTS room_mappings (
	guild_id     TEXT NOT NULL,
	channel_id   TEXT NOT NULL,
	room_id      TEXT NOT NULL PRIMARY KEY,
	plumbed      BOOLEAN NOT NULL DEFAULT 0,
	update_name  BOOLEAN NOT NULL DEFAULT 1,
	update_topic BOOLEAN NOT NULL DEFAULT 1,
	cached_name  TEXT NOT NULL DEFAULT '',
	cached_topic TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_room_mappings_remote
	ON room_mappings (guild_id, channel_id);
`

var selectMappings = `SELECT * FROM room_mappings`

type sqliteMappingStore struct {
	db *sqlx.DB
}

// NewMappings creates a mapping store backed by the given database,
// creating the schema if needed.
func NewMappings(db *sqlx.DB) (Mappings, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize mapping schema: %w", err)
	}
	return &sqliteMappingStore{db: db}, nil
}

// ByRemote retrieves all mappings for a Discord guild+channel pair.
func (s *sqliteMappingStore) ByRemote(guildID, channelID string) ([]*RoomMapping, error) {
	query := selectMappings + " WHERE guild_id = ? AND channel_id = ?;"
	var mappings []*RoomMapping
	err := s.db.Select(&mappings, query, guildID, channelID)
	if err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return nil, ErrNotFound
	}
	return mappings, nil
}

// ByRoom retrieves the mapping for a Matrix room.
func (s *sqliteMappingStore) ByRoom(roomID string) (*RoomMapping, error) {
	query := selectMappings + " WHERE room_id = ?;"
	var mapping RoomMapping
	err := s.db.Get(&mapping, query, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

// Upsert inserts or updates a mapping keyed by room ID.
func (s *sqliteMappingStore) Upsert(mapping *RoomMapping) error {
	stmt := `
	INSERT INTO room_mappings (guild_id, channel_id, room_id, plumbed, update_name, update_topic, cached_name, cached_topic)
	VALUES (:guild_id, :channel_id, :room_id, :plumbed, :update_name, :update_topic, :cached_name, :cached_topic)
	ON CONFLICT (room_id)
	DO UPDATE SET
		guild_id = :guild_id,
		channel_id = :channel_id,
		plumbed = :plumbed,
		update_name = :update_name,
		update_topic = :update_topic,
		cached_name = :cached_name,
		cached_topic = :cached_topic
	;`

	_, err := s.db.NamedExec(stmt, mapping)
	return err
}

// RemoveByRoom deletes the mapping for a Matrix room.
func (s *sqliteMappingStore) RemoveByRoom(roomID string) error {
	_, err := s.db.Exec(`DELETE FROM room_mappings WHERE room_id = ?;`, roomID)
	return err
}
