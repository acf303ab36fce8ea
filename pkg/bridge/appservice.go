// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ASIdentityProvider implements IdentityProvider on top of the
// appservice intent API.
type ASIdentityProvider struct {
	AS *appservice.AppService
}

func (p *ASIdentityProvider) ActAs(userID id.UserID) GhostIntent {
	return &asIntent{intent: p.AS.Intent(userID)}
}

func (p *ASIdentityProvider) Bot() GhostIntent {
	return &asIntent{intent: p.AS.BotIntent()}
}

func (p *ASIdentityProvider) BotMXID() id.UserID {
	return p.AS.BotMXID()
}

func (p *ASIdentityProvider) Profile(ctx context.Context, userID id.UserID) (string, string, error) {
	profile, err := p.AS.BotIntent().GetProfile(ctx, userID)
	if err != nil {
		return "", "", err
	}
	return profile.DisplayName, profile.AvatarURL.String(), nil
}

// asIntent adapts one appservice intent to the GhostIntent surface.
type asIntent struct {
	intent *appservice.IntentAPI
}

func (i *asIntent) EnsureRegistered(ctx context.Context) error {
	return i.intent.EnsureRegistered(ctx)
}

func (i *asIntent) EnsureJoined(ctx context.Context, roomID id.RoomID) error {
	return i.intent.EnsureJoined(ctx, roomID)
}

func (i *asIntent) SendMessage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	resp, err := i.intent.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (i *asIntent) SendStateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, content any) error {
	_, err := i.intent.SendStateEvent(ctx, roomID, eventType, stateKey, content)
	return err
}

func (i *asIntent) SetDisplayName(ctx context.Context, name string) error {
	return i.intent.SetDisplayName(ctx, name)
}

func (i *asIntent) SetAvatarURL(ctx context.Context, mxcURI string) error {
	uri, err := id.ParseContentURI(mxcURI)
	if err != nil {
		return fmt.Errorf("parse avatar URI: %w", err)
	}
	return i.intent.SetAvatarURL(ctx, uri)
}

func (i *asIntent) SetPresence(ctx context.Context, presence event.Presence, statusMsg string) error {
	return i.intent.SetPresence(ctx, mautrix.ReqPresence{
		Presence:  presence,
		StatusMsg: statusMsg,
	})
}

func (i *asIntent) SetTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) error {
	_, err := i.intent.UserTyping(ctx, roomID, typing, timeout)
	return err
}

func (i *asIntent) UploadMedia(ctx context.Context, data []byte, mimeType string) (string, error) {
	resp, err := i.intent.UploadBytes(ctx, data, mimeType)
	if err != nil {
		return "", err
	}
	return resp.ContentURI.String(), nil
}

func (i *asIntent) DownloadMedia(ctx context.Context, mxcURI string) ([]byte, error) {
	uri, err := id.ParseContentURI(mxcURI)
	if err != nil {
		return nil, fmt.Errorf("parse media URI: %w", err)
	}
	return i.intent.DownloadBytes(ctx, uri)
}
