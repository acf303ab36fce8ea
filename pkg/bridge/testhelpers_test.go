// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-discord-bridge/pkg/store"
)

// sentMessage records one ghost message send.
type sentMessage struct {
	UserID  id.UserID
	RoomID  id.RoomID
	Content *event.MessageEventContent
}

// fakeIntent records GhostIntent calls for one acting user.
type fakeIntent struct {
	provider *fakeIdentity
	userID   id.UserID
}

func (i *fakeIntent) EnsureRegistered(_ context.Context) error {
	i.provider.mu.Lock()
	defer i.provider.mu.Unlock()
	i.provider.registered[i.userID] = true
	return i.provider.RegisterErr
}

func (i *fakeIntent) EnsureJoined(_ context.Context, _ id.RoomID) error {
	return nil
}

func (i *fakeIntent) SendMessage(_ context.Context, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	i.provider.mu.Lock()
	defer i.provider.mu.Unlock()
	if i.provider.SendErr != nil && !i.provider.registered[i.userID] {
		return "", i.provider.SendErr
	}
	i.provider.sent = append(i.provider.sent, sentMessage{UserID: i.userID, RoomID: roomID, Content: content})
	return id.EventID("$sent"), nil
}

func (i *fakeIntent) SendStateEvent(_ context.Context, roomID id.RoomID, eventType event.Type, _ string, content any) error {
	i.provider.mu.Lock()
	defer i.provider.mu.Unlock()
	i.provider.stateEvents = append(i.provider.stateEvents, stateEvent{RoomID: roomID, Type: eventType, Content: content})
	return i.provider.StateErr
}

func (i *fakeIntent) SetDisplayName(_ context.Context, name string) error {
	i.provider.mu.Lock()
	defer i.provider.mu.Unlock()
	i.provider.displayNames[i.userID] = name
	return nil
}

func (i *fakeIntent) SetAvatarURL(_ context.Context, mxcURI string) error {
	i.provider.mu.Lock()
	defer i.provider.mu.Unlock()
	i.provider.avatars[i.userID] = mxcURI
	return nil
}

func (i *fakeIntent) SetPresence(_ context.Context, presence event.Presence, statusMsg string) error {
	i.provider.mu.Lock()
	defer i.provider.mu.Unlock()
	if i.provider.PresenceErr != nil && !i.provider.registered[i.userID] {
		return i.provider.PresenceErr
	}
	i.provider.presences = append(i.provider.presences, presenceCall{UserID: i.userID, Presence: presence, StatusMsg: statusMsg})
	return nil
}

func (i *fakeIntent) SetTyping(_ context.Context, roomID id.RoomID, typing bool, _ time.Duration) error {
	i.provider.mu.Lock()
	defer i.provider.mu.Unlock()
	i.provider.typing = append(i.provider.typing, typingCall{UserID: i.userID, RoomID: roomID, Typing: typing})
	return nil
}

func (i *fakeIntent) UploadMedia(_ context.Context, data []byte, _ string) (string, error) {
	i.provider.mu.Lock()
	defer i.provider.mu.Unlock()
	i.provider.uploads++
	return "mxc://example.com/uploaded", nil
}

func (i *fakeIntent) DownloadMedia(_ context.Context, _ string) ([]byte, error) {
	if i.provider.DownloadErr != nil {
		return nil, i.provider.DownloadErr
	}
	return []byte("media-bytes"), nil
}

type stateEvent struct {
	RoomID  id.RoomID
	Type    event.Type
	Content any
}

type presenceCall struct {
	UserID    id.UserID
	Presence  event.Presence
	StatusMsg string
}

type typingCall struct {
	UserID id.UserID
	RoomID id.RoomID
	Typing bool
}

// fakeIdentity implements IdentityProvider with recorded state shared
// across intents.
type fakeIdentity struct {
	mu           sync.Mutex
	sent         []sentMessage
	stateEvents  []stateEvent
	presences    []presenceCall
	typing       []typingCall
	displayNames map[id.UserID]string
	avatars      map[id.UserID]string
	registered   map[id.UserID]bool
	uploads      int

	// SendErr and PresenceErr fail calls until the acting user has
	// been registered, modeling an unprovisioned ghost.
	SendErr     error
	PresenceErr error
	RegisterErr error
	StateErr    error
	DownloadErr error

	Profiles map[id.UserID][2]string
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		displayNames: make(map[id.UserID]string),
		avatars:      make(map[id.UserID]string),
		registered:   make(map[id.UserID]bool),
		Profiles:     make(map[id.UserID][2]string),
	}
}

func (f *fakeIdentity) ActAs(userID id.UserID) GhostIntent {
	return &fakeIntent{provider: f, userID: userID}
}

func (f *fakeIdentity) Bot() GhostIntent {
	return &fakeIntent{provider: f, userID: f.BotMXID()}
}

func (f *fakeIdentity) BotMXID() id.UserID {
	return "@discordbot:example.com"
}

func (f *fakeIdentity) Profile(_ context.Context, userID id.UserID) (string, string, error) {
	if p, ok := f.Profiles[userID]; ok {
		return p[0], p[1], nil
	}
	return "", "", errors.New("profile not found")
}

func (f *fakeIdentity) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentMessage, len(f.sent))
	copy(cp, f.sent)
	return cp
}

func (f *fakeIdentity) Presences() []presenceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]presenceCall, len(f.presences))
	copy(cp, f.presences)
	return cp
}

// discordCall records one Discord API call made by the bridge.
type discordCall struct {
	Method    string
	ChannelID string
	Content   string
	Params    *discordgo.WebhookParams
	Send      *discordgo.MessageSend
}

// fakeDiscord implements DiscordSession with canned responses.
type fakeDiscord struct {
	mu    sync.Mutex
	calls []discordCall

	// Channels maps channel ID to channel; missing IDs error.
	Channels map[string]*discordgo.Channel
	// Webhooks maps channel ID to webhook list.
	Webhooks map[string][]*discordgo.Webhook

	ChannelErr error
	SendErr    error

	nextID int
}

func newFakeDiscord() *fakeDiscord {
	return &fakeDiscord{
		Channels: make(map[string]*discordgo.Channel),
		Webhooks: make(map[string][]*discordgo.Webhook),
	}
}

func (f *fakeDiscord) record(c discordCall) *discordgo.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	f.nextID++
	return &discordgo.Message{ID: "sent-" + strconv.Itoa(f.nextID)}
}

func (f *fakeDiscord) Calls() []discordCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]discordCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeDiscord) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.ChannelErr != nil {
		return nil, f.ChannelErr
	}
	f.mu.Lock()
	ch, ok := f.Channels[channelID]
	f.mu.Unlock()
	if !ok {
		return nil, errors.New("unknown channel")
	}
	return ch, nil
}

func (f *fakeDiscord) ChannelTyping(channelID string, _ ...discordgo.RequestOption) error {
	f.record(discordCall{Method: "typing", ChannelID: channelID})
	return nil
}

func (f *fakeDiscord) ChannelWebhooks(channelID string, _ ...discordgo.RequestOption) ([]*discordgo.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Webhooks[channelID], nil
}

func (f *fakeDiscord) WebhookExecute(webhookID, token string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.SendErr != nil {
		return nil, f.SendErr
	}
	return f.record(discordCall{Method: "webhook", ChannelID: webhookID, Content: data.Content, Params: data}), nil
}

func (f *fakeDiscord) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.SendErr != nil {
		return nil, f.SendErr
	}
	return f.record(discordCall{Method: "send", ChannelID: channelID, Content: content}), nil
}

func (f *fakeDiscord) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.SendErr != nil {
		return nil, f.SendErr
	}
	return f.record(discordCall{Method: "complex", ChannelID: channelID, Content: data.Content, Send: data}), nil
}

// testBridge bundles a bridge with its fakes.
type testBridge struct {
	Bridge   *Bridge
	Identity *fakeIdentity
	Discord  *fakeDiscord
	Store    *store.MemoryMappings
}

func newTestBridge() *testBridge {
	cfg := &Config{
		HomeserverURL:    "https://example.com",
		HomeserverDomain: "example.com",
	}
	if err := cfg.PostProcess(); err != nil {
		panic(err)
	}
	identity := newFakeIdentity()
	discord := newFakeDiscord()
	mappings := store.NewMemoryMappings()
	b := New(cfg, zerolog.Nop(), mappings, identity, discord)
	b.SetSelfID("bridge-bot-discord-id")
	return &testBridge{Bridge: b, Identity: identity, Discord: discord, Store: mappings}
}

// addMapping registers a guild channel <-> room pair.
func (tb *testBridge) addMapping(guildID, channelID, roomID string) {
	err := tb.Store.Upsert(&store.RoomMapping{
		GuildID:   guildID,
		ChannelID: channelID,
		RoomID:    roomID,
	})
	if err != nil {
		panic(err)
	}
	tb.Discord.Channels[channelID] = &discordgo.Channel{ID: channelID, GuildID: guildID, Name: "general"}
}

// matrixMessage builds a parsed Matrix message event.
func matrixMessage(sender id.UserID, roomID id.RoomID, body string) *event.Event {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: body}
	return &event.Event{
		ID:      id.EventID("$evt"),
		Sender:  sender,
		RoomID:  roomID,
		Type:    event.EventMessage,
		Content: event.Content{Parsed: content},
	}
}
