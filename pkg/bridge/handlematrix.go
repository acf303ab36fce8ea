// Copyright 2024-2026 Aiku AI

package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/bwmarrin/discordgo"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-discord-bridge/pkg/bridge/matrixfmt"
	"github.com/aiku/matrix-discord-bridge/pkg/store"
)

// DeliveryMode is how a Matrix message is placed into Discord.
type DeliveryMode int

const (
	// DeliverAsUser sends through the sender's own Discord account.
	DeliverAsUser DeliveryMode = iota
	// DeliverViaWebhook impersonates the sender's name and avatar
	// through the bridge webhook.
	DeliverViaWebhook
	// DeliverAsEmbed sends from the bridge account with the sender
	// named in an embed author header.
	DeliverAsEmbed
)

// SelectDelivery picks the delivery mode. A sender with their own
// Discord account always speaks as themselves. The webhook path
// cannot carry attachments, so those fall through to the embed form.
func SelectDelivery(bridgeOwned, webhookPresent, hasAttachment bool) DeliveryMode {
	if !bridgeOwned {
		return DeliverAsUser
	}
	if webhookPresent && !hasAttachment {
		return DeliverViaWebhook
	}
	return DeliverAsEmbed
}

// HandleMatrixEvent bridges a Matrix room message to Discord. Events
// from the bridge's own accounts and from its ghosts are ignored.
func (b *Bridge) HandleMatrixEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.ident.BotMXID() {
		return
	}
	if _, isGhost := ParseGhostMXID(evt.Sender); isGhost {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content == nil {
		return
	}
	mapping, err := b.store.ByRoom(string(evt.RoomID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			b.log.Debug().Stringer("room_id", evt.RoomID).Msg("Ignoring message in unbridged room")
		} else {
			b.log.Error().Err(err).Stringer("room_id", evt.RoomID).Msg("Failed to look up room mapping")
		}
		return
	}
	if err := b.sendToDiscord(ctx, evt, content, mapping); err != nil {
		b.log.Error().Err(err).
			Stringer("event_id", evt.ID).
			Str("channel_id", mapping.ChannelID).
			Msg("Failed to bridge message to Discord")
	}
}

// HandleMatrixTyping mirrors Matrix typing notifications into the
// mapped Discord channel. Typing by the bridge's own accounts and its
// ghosts is the bridge's output and is not relayed back.
func (b *Bridge) HandleMatrixTyping(ctx context.Context, evt *event.Event) {
	content, ok := evt.Content.Parsed.(*event.TypingEventContent)
	if !ok || content == nil {
		return
	}
	anyTyping := false
	for _, userID := range content.UserIDs {
		if userID == b.ident.BotMXID() {
			continue
		}
		if _, isGhost := ParseGhostMXID(userID); isGhost {
			continue
		}
		anyTyping = true
		break
	}
	if !anyTyping {
		return
	}
	mapping, err := b.store.ByRoom(string(evt.RoomID))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			b.log.Error().Err(err).Stringer("room_id", evt.RoomID).Msg("Failed to look up room mapping")
		}
		return
	}
	if err := b.discord.ChannelTyping(mapping.ChannelID, discordgo.WithContext(ctx)); err != nil {
		b.log.Debug().Err(err).Str("channel_id", mapping.ChannelID).Msg("Failed to relay typing to Discord")
	}
}

func (b *Bridge) sendToDiscord(ctx context.Context, evt *event.Event, content *event.MessageEventContent, mapping *store.RoomMapping) error {
	resolved, err := b.resolveChannel(mapping.GuildID, mapping.ChannelID, evt.Sender)
	if err != nil {
		return err
	}

	lock := b.channelLock(resolved.channel.ID)
	lock.Lock()
	defer lock.Unlock()

	hasAttachment := isAttachment(content.MsgType)
	text := matrixfmt.Parse(content)
	displayname, avatarMXC := b.senderProfile(ctx, evt.Sender)
	if content.MsgType == event.MsgEmote {
		text = "_" + displayname + " " + text + "_"
	}

	var webhook *discordgo.Webhook
	if resolved.bridgeOwned && !hasAttachment {
		webhook = b.bridgeWebhook(resolved.channel.ID)
	}

	var sent *discordgo.Message
	switch SelectDelivery(resolved.bridgeOwned, webhook != nil, hasAttachment) {
	case DeliverAsUser:
		sent, err = b.sendAsUser(ctx, resolved, content, text, hasAttachment)
	case DeliverViaWebhook:
		sent, err = resolved.session.WebhookExecute(webhook.ID, webhook.Token, true, &discordgo.WebhookParams{
			Content:   text,
			Username:  displayname,
			AvatarURL: b.mxcToHTTP(avatarMXC),
		}, discordgo.WithContext(ctx))
	case DeliverAsEmbed:
		sent, err = b.sendAsEmbed(ctx, resolved, content, text, displayname, avatarMXC, hasAttachment)
	}
	if err != nil {
		return err
	}
	if sent != nil {
		b.echo.Add(sent.ID)
	}
	return nil
}

// sendAsUser delivers through the sender's own Discord session.
func (b *Bridge) sendAsUser(ctx context.Context, resolved *resolvedChannel, content *event.MessageEventContent, text string, hasAttachment bool) (*discordgo.Message, error) {
	if !hasAttachment {
		return resolved.session.ChannelMessageSend(resolved.channel.ID, text, discordgo.WithContext(ctx))
	}
	send := &discordgo.MessageSend{Content: text}
	if err := b.attachFile(ctx, content, send); err != nil {
		return nil, err
	}
	return resolved.session.ChannelMessageSendComplex(resolved.channel.ID, send, discordgo.WithContext(ctx))
}

// sendAsEmbed delivers from the bridge account with the Matrix sender
// identified in the embed author header.
func (b *Bridge) sendAsEmbed(ctx context.Context, resolved *resolvedChannel, content *event.MessageEventContent, text, displayname, avatarMXC string, hasAttachment bool) (*discordgo.Message, error) {
	send := &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Author: &discordgo.MessageEmbedAuthor{
				Name:    displayname,
				IconURL: b.mxcToHTTP(avatarMXC),
			},
			Description: text,
		}},
	}
	if hasAttachment {
		if err := b.attachFile(ctx, content, send); err != nil {
			return nil, err
		}
	}
	return resolved.session.ChannelMessageSendComplex(resolved.channel.ID, send, discordgo.WithContext(ctx))
}

// attachFile downloads the event's media from the homeserver and adds
// it to the outgoing Discord message.
func (b *Bridge) attachFile(ctx context.Context, content *event.MessageEventContent, send *discordgo.MessageSend) error {
	if content.URL == "" {
		return fmt.Errorf("attachment event has no media URL")
	}
	data, err := b.ident.Bot().DownloadMedia(ctx, string(content.URL))
	if err != nil {
		return fmt.Errorf("download attachment: %w", err)
	}
	mimeType := ""
	if content.Info != nil {
		mimeType = content.Info.MimeType
	}
	name := content.FileName
	if name == "" {
		name = content.Body
	}
	send.Files = append(send.Files, &discordgo.File{
		Name:        synthesizeFilename(name, mimeType),
		ContentType: mimeType,
		Reader:      bytes.NewReader(data),
	})
	return nil
}

// synthesizeFilename keeps a caption that already carries a file
// extension and otherwise derives a name from the declared MIME type.
func synthesizeFilename(caption, mimeType string) string {
	if filepath.Ext(caption) != "" {
		return caption
	}
	base := caption
	if base == "" {
		base = "matrix-media"
	}
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return base
	}
	return base + exts[0]
}

func isAttachment(msgType event.MessageType) bool {
	switch msgType {
	case event.MsgImage, event.MsgVideo, event.MsgAudio, event.MsgFile:
		return true
	}
	return false
}

// senderProfile fetches the Matrix sender's profile, degrading to the
// localpart of their user ID.
func (b *Bridge) senderProfile(ctx context.Context, sender id.UserID) (displayname, avatarMXC string) {
	displayname, avatarMXC, err := b.ident.Profile(ctx, sender)
	if err != nil || displayname == "" {
		b.log.Debug().Err(err).Stringer("user_id", sender).Msg("Falling back to localpart for sender name")
		displayname = localpart(sender)
	}
	return displayname, avatarMXC
}

func localpart(userID id.UserID) string {
	s := strings.TrimPrefix(string(userID), "@")
	if colon := strings.IndexByte(s, ':'); colon >= 0 {
		return s[:colon]
	}
	return s
}

// mxcToHTTP converts an mxc:// URI to the homeserver's HTTP download
// URL so Discord can fetch it. Returns empty for anything else.
func (b *Bridge) mxcToHTTP(mxcURI string) string {
	rest, ok := strings.CutPrefix(mxcURI, "mxc://")
	if !ok {
		return ""
	}
	server, mediaID, ok := strings.Cut(rest, "/")
	if !ok || server == "" || mediaID == "" {
		return ""
	}
	return strings.TrimSuffix(b.cfg.HomeserverURL, "/") + "/_matrix/media/v3/download/" + server + "/" + mediaID
}
