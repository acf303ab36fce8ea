// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/jellydator/ttlcache/v3"
	"maunium.net/go/mautrix/id"
)

// ErrChannelNotFound means every resolution strategy failed to locate
// the channel.
var ErrChannelNotFound = errors.New("bridge: channel not found")

// resolvedChannel is the outcome of channel resolution: the channel
// itself plus the session that could see it.
type resolvedChannel struct {
	channel *discordgo.Channel
	session DiscordSession
	// bridgeOwned is true when the session is the bridge's own account
	// rather than the sender's puppet.
	bridgeOwned bool
}

// resolveChannel locates a guild channel on behalf of a Matrix sender.
// The sender's own puppet session is tried first so their permissions
// apply; any failure falls back to the bridge session. Exhausting both
// yields ErrChannelNotFound.
func (b *Bridge) resolveChannel(guildID, channelID string, sender id.UserID) (*resolvedChannel, error) {
	type strategy struct {
		name        string
		session     DiscordSession
		bridgeOwned bool
	}
	var strategies []strategy
	if puppet := b.puppetFor(sender); puppet != nil {
		strategies = append(strategies, strategy{"puppet", puppet.Session, false})
	}
	strategies = append(strategies, strategy{"bridge", b.discord, true})

	for _, s := range strategies {
		ch, err := s.session.Channel(channelID)
		if err != nil {
			b.log.Debug().Err(err).
				Str("strategy", s.name).
				Str("channel_id", channelID).
				Msg("Channel resolution strategy failed")
			continue
		}
		if guildID != "" && ch.GuildID != guildID {
			b.log.Debug().
				Str("strategy", s.name).
				Str("channel_id", channelID).
				Str("expected_guild", guildID).
				Str("actual_guild", ch.GuildID).
				Msg("Resolved channel belongs to a different guild")
			continue
		}
		return &resolvedChannel{channel: ch, session: s.session, bridgeOwned: s.bridgeOwned}, nil
	}
	return nil, ErrChannelNotFound
}

// bridgeWebhook finds the bridge's webhook in a channel, if one
// exists. Results are cached with a TTL; absence is not cached so a
// newly created webhook is picked up on the next message.
func (b *Bridge) bridgeWebhook(channelID string) *discordgo.Webhook {
	if item := b.webhooks.Get(channelID); item != nil {
		return item.Value()
	}
	hooks, err := b.discord.ChannelWebhooks(channelID)
	if err != nil {
		b.log.Debug().Err(err).Str("channel_id", channelID).Msg("Failed to list channel webhooks")
		return nil
	}
	for _, hook := range hooks {
		if hook.Name == b.cfg.WebhookName {
			b.webhooks.Set(channelID, hook, ttlcache.DefaultTTL)
			return hook
		}
	}
	return nil
}

// sessionResolver implements discordfmt.Resolver against the bridge
// session: emoji images are pulled from the Discord CDN and reuploaded
// to the homeserver, channel references become room aliases.
type sessionResolver struct {
	bridge *Bridge

	mu sync.Mutex
	// emoji caches emoji ID -> uploaded mxc URI.
	emoji map[string]string
}

func (r *sessionResolver) ResolveEmoji(ctx context.Context, emojiID, name string, animated bool) (string, error) {
	r.mu.Lock()
	if r.emoji == nil {
		r.emoji = make(map[string]string)
	}
	if uri, ok := r.emoji[emojiID]; ok {
		r.mu.Unlock()
		return uri, nil
	}
	r.mu.Unlock()

	ext, mimeType := "png", "image/png"
	if animated {
		ext, mimeType = "gif", "image/gif"
	}
	url := fmt.Sprintf("https://cdn.discordapp.com/emojis/%s.%s", emojiID, ext)
	data, err := r.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	uri, err := r.bridge.ident.Bot().UploadMedia(ctx, data, mimeType)
	if err != nil {
		return "", fmt.Errorf("upload emoji %s: %w", name, err)
	}

	r.mu.Lock()
	r.emoji[emojiID] = uri
	r.mu.Unlock()
	return uri, nil
}

func (r *sessionResolver) ResolveChannel(ctx context.Context, channelID string) (string, string, error) {
	ch, err := r.bridge.discord.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return "", "", err
	}
	alias := MakeRoomAlias(ch.GuildID, ch.ID, r.bridge.cfg.HomeserverDomain)
	return string(alias), ch.Name, nil
}

func (r *sessionResolver) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.bridge.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}
