// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hashicorp/go-multierror"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-discord-bridge/pkg/bridge/discordfmt"
	"github.com/aiku/matrix-discord-bridge/pkg/presence"
	"github.com/aiku/matrix-discord-bridge/pkg/store"
)

// DiscordSession is the subset of the Discord client the bridge calls.
// *discordgo.Session satisfies it directly.
type DiscordSession interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ChannelWebhooks(channelID string, options ...discordgo.RequestOption) ([]*discordgo.Webhook, error)
	WebhookExecute(appID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// MemberSource exposes guild membership for mention rewriting. A nil
// source disables display-name rewriting but nothing else.
type MemberSource interface {
	Members(guildID string) []discordfmt.Member
	Roles(guildID string) map[string]string
}

// Puppet is a Matrix user bridged through their own Discord account.
type Puppet struct {
	MXID    id.UserID
	Session DiscordSession
	// UserID is the Discord account's own user ID, used to suppress
	// the puppet's gateway events.
	UserID string
}

// Bridge orchestrates message flow between a Discord guild and Matrix
// rooms.
type Bridge struct {
	cfg     *Config
	log     zerolog.Logger
	store   store.Mappings
	ident   IdentityProvider
	discord DiscordSession
	members MemberSource

	discordFmt *discordfmt.Formatter
	echo       *EchoTracker
	presence   PresenceControl
	ghosts     GhostSender
	httpClient *http.Client

	// selfID is the bridge bot's own Discord user ID, known once the
	// gateway session is open.
	selfMu sync.RWMutex
	selfID string

	puppets map[id.UserID]*Puppet

	webhooks *ttlcache.Cache[string, *discordgo.Webhook]

	// channelLocks serializes Matrix->Discord sends per channel so the
	// webhook lookup and send cannot interleave across events.
	lockMu       sync.Mutex
	channelLocks map[string]*sync.Mutex

	avatarMu sync.Mutex
	// avatars caches Discord avatar hash -> uploaded mxc URI.
	avatars map[string]string
}

// New assembles a bridge from its collaborators. Wire* methods adjust
// optional pieces before the bridge starts handling events.
func New(cfg *Config, log zerolog.Logger, mappings store.Mappings, ident IdentityProvider, discord DiscordSession) *Bridge {
	b := &Bridge{
		cfg:     cfg,
		log:     log.With().Str("component", "bridge").Logger(),
		store:   mappings,
		ident:   ident,
		discord: discord,
		echo:    NewEchoTracker(secondsOrDefault(cfg.EchoTTL), cfg.EchoCapacity),
		webhooks: ttlcache.New(
			ttlcache.WithTTL[string, *discordgo.Webhook](DefaultEchoTTL),
		),
		channelLocks: make(map[string]*sync.Mutex),
		puppets:      make(map[id.UserID]*Puppet),
		avatars:      make(map[string]string),
		httpClient:   http.DefaultClient,
	}
	b.discordFmt = &discordfmt.Formatter{
		Resolver: &sessionResolver{bridge: b},
		Domain:   cfg.HomeserverDomain,
	}
	b.ghosts = directGhostSender{b}
	return b
}

// WirePresence attaches the presence queue (or its worker proxy).
func (b *Bridge) WirePresence(p PresenceControl) {
	b.presence = p
}

// WireGhostSender replaces the direct ghost send path, typically with
// a worker proxy.
func (b *Bridge) WireGhostSender(s GhostSender) {
	b.ghosts = s
}

// WireMembers attaches the guild membership source.
func (b *Bridge) WireMembers(m MemberSource) {
	b.members = m
}

// AddPuppet registers a double-puppeted Matrix user.
func (b *Bridge) AddPuppet(p *Puppet) {
	b.puppets[p.MXID] = p
}

// SetSelfID records the bridge bot's Discord user ID once known.
func (b *Bridge) SetSelfID(userID string) {
	b.selfMu.Lock()
	b.selfID = userID
	b.selfMu.Unlock()
}

func (b *Bridge) getSelfID() string {
	b.selfMu.RLock()
	defer b.selfMu.RUnlock()
	return b.selfID
}

// Start launches background maintenance (echo set expiry, webhook
// cache expiry).
func (b *Bridge) Start() {
	b.echo.Start()
	go b.webhooks.Start()
}

// Stop halts background maintenance.
func (b *Bridge) Stop() {
	b.echo.Stop()
	b.webhooks.Stop()
}

func secondsOrDefault(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func (b *Bridge) channelLock(channelID string) *sync.Mutex {
	b.lockMu.Lock()
	defer b.lockMu.Unlock()
	lock, ok := b.channelLocks[channelID]
	if !ok {
		lock = &sync.Mutex{}
		b.channelLocks[channelID] = lock
	}
	return lock
}

func (b *Bridge) puppetFor(mxid id.UserID) *Puppet {
	return b.puppets[mxid]
}

func (b *Bridge) isPuppetDiscordUser(discordUserID string) bool {
	for _, p := range b.puppets {
		if p.UserID == discordUserID {
			return true
		}
	}
	return false
}

// isPermissionDenied reports whether an identity provider error means
// the ghost is missing or lacks access, which an EnsureRegistered
// retry can fix.
func isPermissionDenied(err error) bool {
	return errors.Is(err, mautrix.MForbidden) || errors.Is(err, mautrix.MUnknownToken)
}

// directGhostSender is the in-process ghost send path.
type directGhostSender struct {
	b *Bridge
}

func (s directGhostSender) SendAsGhost(ctx context.Context, discordUserID string, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	return s.b.SendAsGhost(ctx, discordUserID, roomID, content)
}

// SendAsGhost delivers content into a room as the Discord user's
// ghost, provisioning the ghost once if the first attempt is denied.
func (b *Bridge) SendAsGhost(ctx context.Context, discordUserID string, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	intent := b.ident.ActAs(MakeGhostMXID(discordUserID, b.cfg.HomeserverDomain))
	evtID, err := intent.SendMessage(ctx, roomID, content)
	if isPermissionDenied(err) {
		if regErr := intent.EnsureRegistered(ctx); regErr != nil {
			return "", fmt.Errorf("register ghost: %w", regErr)
		}
		if joinErr := intent.EnsureJoined(ctx, roomID); joinErr != nil {
			return "", fmt.Errorf("join ghost to room: %w", joinErr)
		}
		evtID, err = intent.SendMessage(ctx, roomID, content)
	}
	return evtID, err
}

// PublishPresence implements presence.Publisher on top of the ghost
// intents, recovering once from a missing ghost.
func (b *Bridge) PublishPresence(ctx context.Context, discordUserID string, status presence.Status) error {
	intent := b.ident.ActAs(MakeGhostMXID(discordUserID, b.cfg.HomeserverDomain))
	err := intent.SetPresence(ctx, status.Presence, status.StatusMsg)
	if isPermissionDenied(err) {
		if regErr := intent.EnsureRegistered(ctx); regErr != nil {
			return fmt.Errorf("register ghost: %w", regErr)
		}
		err = intent.SetPresence(ctx, status.Presence, status.StatusMsg)
	}
	return err
}

// UnbridgeChannel removes every room mapping of a guild channel and
// notifies the affected rooms. Partial failures are collected so the
// caller sees both the removal count and what went wrong.
func (b *Bridge) UnbridgeChannel(ctx context.Context, guildID, channelID string) (int, error) {
	mappings, err := b.store.ByRemote(guildID, channelID)
	if err != nil {
		return 0, err
	}
	var merr *multierror.Error
	removed := 0
	for _, m := range mappings {
		if err := b.store.RemoveByRoom(m.RoomID); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("room %s: %w", m.RoomID, err))
			continue
		}
		removed++
		b.notifyUnbridged(ctx, id.RoomID(m.RoomID))
	}
	return removed, merr.ErrorOrNil()
}

// UnbridgeRoom removes the mapping of a single room.
func (b *Bridge) UnbridgeRoom(ctx context.Context, roomID string) (int, error) {
	if _, err := b.store.ByRoom(roomID); err != nil {
		return 0, err
	}
	if err := b.store.RemoveByRoom(roomID); err != nil {
		return 0, err
	}
	b.notifyUnbridged(ctx, id.RoomID(roomID))
	return 1, nil
}

func (b *Bridge) notifyUnbridged(ctx context.Context, roomID id.RoomID) {
	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    "This room is no longer bridged to Discord.",
	}
	if _, err := b.ident.Bot().SendMessage(ctx, roomID, content); err != nil {
		b.log.Warn().Err(err).Stringer("room_id", roomID).Msg("Failed to announce unbridge")
	}
}

// formatOptions builds the per-message formatter context from the
// guild membership source.
func (b *Bridge) formatOptions(guildID string) discordfmt.Options {
	if b.members == nil {
		return discordfmt.Options{}
	}
	return discordfmt.Options{
		Members: b.members.Members(guildID),
		Roles:   b.members.Roles(guildID),
	}
}
