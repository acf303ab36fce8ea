// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// GhostIntent is the per-virtual-user surface of the Matrix identity
// provider. Every operation may fail with a permission-denied
// condition; callers tolerate that without aborting.
type GhostIntent interface {
	EnsureRegistered(ctx context.Context) error
	EnsureJoined(ctx context.Context, roomID id.RoomID) error
	SendMessage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error)
	SendStateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, content any) error
	SetDisplayName(ctx context.Context, name string) error
	SetAvatarURL(ctx context.Context, mxcURI string) error
	SetPresence(ctx context.Context, presence event.Presence, statusMsg string) error
	SetTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) error
	UploadMedia(ctx context.Context, data []byte, mimeType string) (string, error)
	DownloadMedia(ctx context.Context, mxcURI string) ([]byte, error)
}

// IdentityProvider hands out intents acting as specific Matrix users.
// The production implementation wraps the appservice intent API; tests
// substitute fakes.
type IdentityProvider interface {
	// ActAs returns an intent acting as the given virtual user.
	ActAs(userID id.UserID) GhostIntent
	// Bot returns the intent for the bridge's own bot account.
	Bot() GhostIntent
	BotMXID() id.UserID
	// Profile fetches the display name and avatar URL of any user.
	Profile(ctx context.Context, userID id.UserID) (displayname, avatarMXC string, err error)
}

// GhostSender delivers a formatted message into a Matrix room as a
// Discord user's ghost. The direct implementation lives on Bridge;
// when the guild client is isolated in a worker, the worker proxy
// implements this instead.
type GhostSender interface {
	SendAsGhost(ctx context.Context, discordUserID string, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error)
}

// PresenceControl is the queue surface the orchestrator needs.
type PresenceControl interface {
	EnqueueUser(userID, username string)
	DequeueUser(userID string)
}
