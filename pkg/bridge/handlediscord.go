// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-discord-bridge/pkg/bridge/discordfmt"
	"github.com/aiku/matrix-discord-bridge/pkg/store"
)

const typingTimeout = 10 * time.Second

// RegisterHandlers attaches the bridge's gateway handlers to a Discord
// session.
func (b *Bridge) RegisterHandlers(session *discordgo.Session) {
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.HandleDiscordMessage(context.Background(), m.Message)
	})
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
		b.HandleDiscordMessageUpdate(context.Background(), m)
	})
	session.AddHandler(func(_ *discordgo.Session, t *discordgo.TypingStart) {
		b.HandleDiscordTyping(context.Background(), t)
	})
	session.AddHandler(func(_ *discordgo.Session, p *discordgo.PresenceUpdate) {
		b.HandleDiscordPresence(context.Background(), p)
	})
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) {
		b.HandleDiscordMemberUpdate(context.Background(), m)
	})
	session.AddHandler(func(_ *discordgo.Session, c *discordgo.ChannelUpdate) {
		b.HandleDiscordChannelUpdate(context.Background(), c)
	})
	session.AddHandler(func(_ *discordgo.Session, c *discordgo.ChannelDelete) {
		b.HandleDiscordChannelDelete(context.Background(), c)
	})
}

// shouldDrop applies the echo and self-origin filters that guard every
// inbound message event.
func (b *Bridge) shouldDrop(messageID, authorID string) bool {
	if b.echo.Observe(messageID) {
		b.log.Debug().Str("message_id", messageID).Msg("Discarding echo of own message")
		return true
	}
	if authorID != "" && authorID == b.getSelfID() {
		return true
	}
	if b.isPuppetDiscordUser(authorID) {
		return true
	}
	return false
}

// HandleDiscordMessage bridges a new Discord message into every Matrix
// room mapped to its channel.
func (b *Bridge) HandleDiscordMessage(ctx context.Context, m *discordgo.Message) {
	if m.Author == nil {
		return
	}
	if b.shouldDrop(m.ID, m.Author.ID) {
		return
	}
	mappings, err := b.store.ByRemote(m.GuildID, m.ChannelID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			b.log.Error().Err(err).Str("channel_id", m.ChannelID).Msg("Failed to look up channel mappings")
		}
		return
	}

	formatted := b.discordFmt.Format(ctx, m, b.formatOptions(m.GuildID))
	content := toMessageContent(formatted)
	for _, mapping := range mappings {
		roomID := id.RoomID(mapping.RoomID)
		if formatted.Body != "" {
			if _, err := b.ghosts.SendAsGhost(ctx, m.Author.ID, roomID, content); err != nil {
				b.log.Error().Err(err).
					Str("message_id", m.ID).
					Stringer("room_id", roomID).
					Msg("Failed to bridge message to Matrix")
			}
		}
		for _, att := range m.Attachments {
			b.relayAttachment(ctx, m.Author.ID, roomID, att)
		}
	}
}

// HandleDiscordMessageUpdate bridges a message edit as an old/new diff
// notice, using the cached previous body when the gateway provides it.
func (b *Bridge) HandleDiscordMessageUpdate(ctx context.Context, m *discordgo.MessageUpdate) {
	if m.Author == nil {
		// Embed-only updates (link previews resolving) have no author.
		return
	}
	if b.shouldDrop(m.ID, m.Author.ID) {
		return
	}
	mappings, err := b.store.ByRemote(m.GuildID, m.ChannelID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			b.log.Error().Err(err).Str("channel_id", m.ChannelID).Msg("Failed to look up channel mappings")
		}
		return
	}

	formatted := b.discordFmt.FormatEdit(ctx, m.BeforeUpdate, m.Message, b.formatOptions(m.GuildID))
	content := toMessageContent(formatted)
	for _, mapping := range mappings {
		roomID := id.RoomID(mapping.RoomID)
		if _, err := b.ghosts.SendAsGhost(ctx, m.Author.ID, roomID, content); err != nil {
			b.log.Error().Err(err).
				Str("message_id", m.ID).
				Stringer("room_id", roomID).
				Msg("Failed to bridge edit to Matrix")
		}
	}
}

// HandleDiscordTyping mirrors a typing burst into the mapped rooms and
// starts tracking the typist's presence.
func (b *Bridge) HandleDiscordTyping(ctx context.Context, t *discordgo.TypingStart) {
	if t.UserID == b.getSelfID() || b.isPuppetDiscordUser(t.UserID) {
		return
	}
	mappings, err := b.store.ByRemote(t.GuildID, t.ChannelID)
	if err != nil {
		return
	}
	intent := b.ident.ActAs(MakeGhostMXID(t.UserID, b.cfg.HomeserverDomain))
	for _, mapping := range mappings {
		if err := intent.SetTyping(ctx, id.RoomID(mapping.RoomID), true, typingTimeout); err != nil {
			b.log.Debug().Err(err).Str("user_id", t.UserID).Msg("Failed to mirror typing")
		}
	}
	if b.presence != nil {
		b.presence.EnqueueUser(t.UserID, "")
	}
}

// HandleDiscordPresence starts tracking a user when they come online.
// Going offline is not handled here; the queue publishes the final
// offline state and drops the user on its own.
func (b *Bridge) HandleDiscordPresence(_ context.Context, p *discordgo.PresenceUpdate) {
	if p.User == nil || b.presence == nil {
		return
	}
	if p.User.ID == b.getSelfID() || p.Status == discordgo.StatusOffline {
		return
	}
	b.presence.EnqueueUser(p.User.ID, p.User.Username)
}

// HandleDiscordMemberUpdate syncs the member's ghost profile and
// starts presence tracking.
func (b *Bridge) HandleDiscordMemberUpdate(ctx context.Context, m *discordgo.GuildMemberUpdate) {
	if m.User == nil || m.User.ID == b.getSelfID() {
		return
	}
	b.syncGhostProfile(ctx, m.User, m.Nick)
	if b.presence != nil {
		b.presence.EnqueueUser(m.User.ID, m.User.Username)
	}
}

// HandleDiscordChannelUpdate pushes channel name and topic drift into
// mapped rooms that opted in to those updates.
func (b *Bridge) HandleDiscordChannelUpdate(ctx context.Context, c *discordgo.ChannelUpdate) {
	mappings, err := b.store.ByRemote(c.GuildID, c.ID)
	if err != nil {
		return
	}
	bot := b.ident.Bot()
	for _, mapping := range mappings {
		roomID := id.RoomID(mapping.RoomID)
		changed := false
		if mapping.UpdateName && mapping.CachedName != c.Name {
			err := bot.SendStateEvent(ctx, roomID, event.StateRoomName, "", &event.RoomNameEventContent{Name: c.Name})
			if err != nil {
				b.log.Warn().Err(err).Stringer("room_id", roomID).Msg("Failed to update room name")
			} else {
				mapping.CachedName = c.Name
				changed = true
			}
		}
		if mapping.UpdateTopic && mapping.CachedTopic != c.Topic {
			err := bot.SendStateEvent(ctx, roomID, event.StateTopic, "", &event.TopicEventContent{Topic: c.Topic})
			if err != nil {
				b.log.Warn().Err(err).Stringer("room_id", roomID).Msg("Failed to update room topic")
			} else {
				mapping.CachedTopic = c.Topic
				changed = true
			}
		}
		if changed {
			if err := b.store.Upsert(mapping); err != nil {
				b.log.Error().Err(err).Stringer("room_id", roomID).Msg("Failed to persist channel metadata")
			}
		}
	}
}

// HandleDiscordChannelDelete unbridges every room mapped to a deleted
// channel.
func (b *Bridge) HandleDiscordChannelDelete(ctx context.Context, c *discordgo.ChannelDelete) {
	removed, err := b.UnbridgeChannel(ctx, c.GuildID, c.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		b.log.Error().Err(err).Str("channel_id", c.ID).Msg("Failed to unbridge deleted channel")
	}
	if removed > 0 {
		b.log.Info().Str("channel_id", c.ID).Int("rooms", removed).Msg("Unbridged deleted channel")
	}
}

// syncGhostProfile pushes display name and avatar onto the ghost.
func (b *Bridge) syncGhostProfile(ctx context.Context, user *discordgo.User, nick string) {
	intent := b.ident.ActAs(MakeGhostMXID(user.ID, b.cfg.HomeserverDomain))
	name := b.cfg.FormatDisplayname(DisplaynameParams{Username: user.Username, Nickname: nick})
	if err := intent.SetDisplayName(ctx, name); err != nil {
		if isPermissionDenied(err) {
			if regErr := intent.EnsureRegistered(ctx); regErr == nil {
				err = intent.SetDisplayName(ctx, name)
			}
		}
		if err != nil {
			b.log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to sync ghost display name")
		}
	}
	if user.Avatar != "" {
		if uri := b.uploadAvatar(ctx, user); uri != "" {
			if err := intent.SetAvatarURL(ctx, uri); err != nil {
				b.log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to sync ghost avatar")
			}
		}
	}
}

// uploadAvatar reuploads a Discord avatar to the homeserver, keyed by
// its hash so unchanged avatars are not refetched.
func (b *Bridge) uploadAvatar(ctx context.Context, user *discordgo.User) string {
	b.avatarMu.Lock()
	if uri, ok := b.avatars[user.Avatar]; ok {
		b.avatarMu.Unlock()
		return uri
	}
	b.avatarMu.Unlock()

	resolver, ok := b.discordFmt.Resolver.(*sessionResolver)
	if !ok {
		return ""
	}
	data, err := resolver.fetch(ctx, user.AvatarURL("256"))
	if err != nil {
		b.log.Debug().Err(err).Str("user_id", user.ID).Msg("Failed to fetch avatar")
		return ""
	}
	uri, err := b.ident.Bot().UploadMedia(ctx, data, "image/png")
	if err != nil {
		b.log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to upload avatar")
		return ""
	}

	b.avatarMu.Lock()
	b.avatars[user.Avatar] = uri
	b.avatarMu.Unlock()
	return uri
}

// relayAttachment reuploads a Discord attachment to the homeserver and
// sends it as a media event.
func (b *Bridge) relayAttachment(ctx context.Context, authorID string, roomID id.RoomID, att *discordgo.MessageAttachment) {
	resolver, ok := b.discordFmt.Resolver.(*sessionResolver)
	if !ok {
		return
	}
	data, err := resolver.fetch(ctx, att.URL)
	if err != nil {
		b.log.Warn().Err(err).Str("attachment_id", att.ID).Msg("Failed to fetch attachment")
		return
	}
	uri, err := b.ident.Bot().UploadMedia(ctx, data, att.ContentType)
	if err != nil {
		b.log.Warn().Err(err).Str("attachment_id", att.ID).Msg("Failed to upload attachment")
		return
	}
	content := &event.MessageEventContent{
		MsgType: attachmentMsgType(att.ContentType),
		Body:    att.Filename,
		URL:     id.ContentURIString(uri),
		Info: &event.FileInfo{
			MimeType: att.ContentType,
			Size:     len(data),
		},
	}
	if _, err := b.ghosts.SendAsGhost(ctx, authorID, roomID, content); err != nil {
		b.log.Error().Err(err).Str("attachment_id", att.ID).Msg("Failed to bridge attachment")
	}
}

func attachmentMsgType(contentType string) event.MessageType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return event.MsgImage
	case strings.HasPrefix(contentType, "video/"):
		return event.MsgVideo
	case strings.HasPrefix(contentType, "audio/"):
		return event.MsgAudio
	}
	return event.MsgFile
}

func toMessageContent(f discordfmt.Formatted) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: f.MsgType,
		Body:    f.Body,
	}
	if f.FormattedBody != "" {
		content.Format = event.FormatHTML
		content.FormattedBody = f.FormattedBody
	}
	return content
}
