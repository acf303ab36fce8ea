// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"maunium.net/go/mautrix/event"

	"github.com/aiku/matrix-discord-bridge/pkg/bridge/discordfmt"
	"github.com/aiku/matrix-discord-bridge/pkg/store"
)

func discordMessage(id, guildID, channelID, authorID, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		GuildID:   guildID,
		ChannelID: channelID,
		Author:    &discordgo.User{ID: authorID, Username: "author"},
		Content:   content,
	}
}

func TestHandleDiscordMessageBridged(t *testing.T) {
	t.Parallel()
	tb := newTestBridge()
	tb.addMapping("guild1", "chan1", "!room1:example.com")

	tb.Bridge.HandleDiscordMessage(context.Background(), discordMessage("m1", "guild1", "chan1", "user1", "hello matrix"))

	sent := tb.Identity.Sent()
	if len(sent) != 1 {
		t.Fatalf("got %d ghost sends, want 1", len(sent))
	}
	if sent[0].UserID != "@_discord_user1:example.com" {
		t.Errorf("sender = %q, want ghost of user1", sent[0].UserID)
	}
	if sent[0].RoomID != "!room1:example.com" {
		t.Errorf("room = %q, want !room1:example.com", sent[0].RoomID)
	}
	if sent[0].Content.Body != "hello matrix" {
		t.Errorf("body = %q, want %q", sent[0].Content.Body, "hello matrix")
	}
}

func TestHandleDiscordMessageFansOutToAllRooms(t *testing.T) {
	t.Parallel()
	tb := newTestBridge()
	tb.addMapping("guild1", "chan1", "!room1:example.com")
	tb.addMapping("guild1", "chan1", "!room2:example.com")

	tb.Bridge.HandleDiscordMessage(context.Background(), discordMessage("m1", "guild1", "chan1", "user1", "hi"))

	if sent := tb.Identity.Sent(); len(sent) != 2 {
		t.Errorf("got %d ghost sends, want 2", len(sent))
	}
}

func TestHandleDiscordMessageEchoDiscardedOnce(t *testing.T) {
	t.Parallel()
	tb := newTestBridge()
	tb.addMapping("guild1", "chan1", "!room1:example.com")
	tb.Bridge.echo.Add("m1")

	msg := discordMessage("m1", "guild1", "chan1", "user1", "echo")
	tb.Bridge.HandleDiscordMessage(context.Background(), msg)
	if sent := tb.Identity.Sent(); len(sent) != 0 {
		t.Fatalf("echo was bridged: %d sends", len(sent))
	}

	// The same ID arriving again is not an echo anymore.
	tb.Bridge.HandleDiscordMessage(context.Background(), msg)
	if sent := tb.Identity.Sent(); len(sent) != 1 {
		t.Errorf("got %d sends after second event, want 1", len(sent))
	}
}

func TestHandleDiscordMessageSelfSuppressed(t *testing.T) {
	t.Parallel()
	tb := newTestBridge()
	tb.addMapping("guild1", "chan1", "!room1:example.com")

	tb.Bridge.HandleDiscordMessage(context.Background(), discordMessage("m1", "guild1", "chan1", "bridge-bot-discord-id", "from self"))

	if sent := tb.Identity.Sent(); len(sent) != 0 {
		t.Errorf("got %d sends, want 0 for own messages", len(sent))
	}
}

func TestHandleDiscordMessagePuppetSuppressed(t *testing.T) {
	t.Parallel()
	tb := newTestBridge()
	tb.addMapping("guild1", "chan1", "!room1:example.com")
	tb.Bridge.AddPuppet(&Puppet{MXID: "@alice:example.com", Session: newFakeDiscord(), UserID: "alice-discord"})

	tb.Bridge.HandleDiscordMessage(context.Background(), discordMessage("m1", "guild1", "chan1", "alice-discord", "from puppet"))

	if sent := tb.Identity.Sent(); len(sent) != 0 {
		t.Errorf("got %d sends, want 0 for puppet messages", len(sent))
	}
}

func TestHandleDiscordMessageUnmappedChannel(t *testing.T) {
	t.Parallel()
	tb := newTestBridge()

	tb.Bridge.HandleDiscordMessage(context.Background(), discordMessage("m1", "guild1", "chan-unmapped", "user1", "hello"))

	if sent := tb.Identity.Sent(); len(sent) != 0 {
		t.Errorf("got %d sends, want 0 for unmapped channel", len(sent))
	}
}

func TestHandleDiscordMessageUpdate(t *testing.T) {
	t.Parallel()
	tb := newTestBridge()
	tb.addMapping("guild1", "chan1", "!room1:example.com")

	update := &discordgo.MessageUpdate{
		Message:      discordMessage("m1", "guild1", "chan1", "user1", "new text"),
		BeforeUpdate: discordMessage("m1", "guild1", "chan1", "user1", "old text"),
	}
	tb.Bridge.HandleDiscordMessageUpdate(context.Background(), update)

	sent := tb.Identity.Sent()
	if len(sent) != 1 {
		t.Fatalf("got %d ghost sends, want 1", len(sent))
	}
	if !strings.Contains(sent[0].Content.Body, "old text") || !strings.Contains(sent[0].Content.Body, "new text") {
		t.Errorf("edit body %q should contain old and new text", sent[0].Content.Body)
	}
}

func TestHandleDiscordMessageUpdateNoAuthor(t *testing.T) {
	t.Parallel()
	tb := newTestBridge()
	tb.addMapping("guild1", "chan1", "!room1:example.com")

	update := &discordgo.MessageUpdate{
		Message: &discordgo.Message{ID: "m1", GuildID: "guild1", ChannelID: "chan1"},
	}
	tb.Bridge.HandleDiscordMessageUpdate(context.Background(), update)

	if sent := tb.Identity.Sent(); len(sent) != 0 {
		t.Errorf("got %d sends, want 0 for embed-only update", len(sent))
	}
}

func TestHandleDiscordTyping(t *testing.T) {
	t.Parallel()
	tb := newTestBridge()
	tb.addMapping("guild1", "chan1", "!room1:example.com")
	queue := &recordingPresence{}
	tb.Bridge.WirePresence(queue)

	tb.Bridge.HandleDiscordTyping(context.Background(), &discordgo.TypingStart{
		UserID: "user1", ChannelID: "chan1", GuildID: "guild1",
	})

	tb.Identity.mu.Lock()
	typing := tb.Identity.typing
	tb.Identity.mu.Unlock()
	if len(typing) != 1 || !typing[0].Typing {
		t.Fatalf("typing calls = %+v, want one active typing", typing)
	}
	if typing[0].UserID != "@_discord_user1:example.com" {
		t.Errorf("typing user = %q, want ghost of user1", typing[0].UserID)
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0] != "user1" {
		t.Errorf("enqueued = %v, want [user1]", queue.enqueued)
	}
}

func TestHandleDiscordPresenceEnqueues(t *testing.T) {
	t.Parallel()
	tb := newTestBridge()
	queue := &recordingPresence{}
	tb.Bridge.WirePresence(queue)

	tb.Bridge.HandleDiscordPresence(context.Background(), &discordgo.PresenceUpdate{
		Presence: discordgo.Presence{
			User:   &discordgo.User{ID: "user1", Username: "alice"},
			Status: discordgo.StatusOnline,
		},
	})
	tb.Bridge.HandleDiscordPresence(context.Background(), &discordgo.PresenceUpdate{
		Presence: discordgo.Presence{
			User:   &discordgo.User{ID: "user2", Username: "bob"},
			Status: discordgo.StatusOffline,
		},
	})

	if len(queue.enqueued) != 1 || queue.enqueued[0] != "user1" {
		t.Errorf("enqueued = %v, want only the online user", queue.enqueued)
	}
}

func TestHandleDiscordMemberUpdateSyncsProfile(t *testing.T) {
	t.Parallel()
	tb := newTestBridge()

	tb.Bridge.HandleDiscordMemberUpdate(context.Background(), &discordgo.GuildMemberUpdate{
		Member: &discordgo.Member{
			GuildID: "guild1",
			Nick:    "Nicky",
			User:    &discordgo.User{ID: "user1", Username: "nick"},
		},
	})

	ghost := MakeGhostMXID("user1", "example.com")
	tb.Identity.mu.Lock()
	name := tb.Identity.displayNames[ghost]
	tb.Identity.mu.Unlock()
	if name != "Nicky" {
		t.Errorf("ghost display name = %q, want %q", name, "Nicky")
	}
}

func TestHandleDiscordChannelUpdateDrift(t *testing.T) {
	t.Parallel()
	tb := newTestBridge()
	if err := tb.Store.Upsert(&store.RoomMapping{
		GuildID: "guild1", ChannelID: "chan1", RoomID: "!room1:example.com",
		UpdateName: true, UpdateTopic: true,
		CachedName: "old-name", CachedTopic: "old topic",
	}); err != nil {
		t.Fatal(err)
	}

	tb.Bridge.HandleDiscordChannelUpdate(context.Background(), &discordgo.ChannelUpdate{
		Channel: &discordgo.Channel{ID: "chan1", GuildID: "guild1", Name: "new-name", Topic: "new topic"},
	})

	tb.Identity.mu.Lock()
	states := tb.Identity.stateEvents
	tb.Identity.mu.Unlock()
	if len(states) != 2 {
		t.Fatalf("got %d state events, want 2", len(states))
	}

	mapping, err := tb.Store.ByRoom("!room1:example.com")
	if err != nil {
		t.Fatal(err)
	}
	if mapping.CachedName != "new-name" || mapping.CachedTopic != "new topic" {
		t.Errorf("cached metadata = (%q, %q), want updated values", mapping.CachedName, mapping.CachedTopic)
	}
}

func TestHandleDiscordChannelUpdateOptedOut(t *testing.T) {
	t.Parallel()
	tb := newTestBridge()
	tb.addMapping("guild1", "chan1", "!room1:example.com")

	tb.Bridge.HandleDiscordChannelUpdate(context.Background(), &discordgo.ChannelUpdate{
		Channel: &discordgo.Channel{ID: "chan1", GuildID: "guild1", Name: "new-name"},
	})

	tb.Identity.mu.Lock()
	states := tb.Identity.stateEvents
	tb.Identity.mu.Unlock()
	if len(states) != 0 {
		t.Errorf("got %d state events, want 0 when updates are opted out", len(states))
	}
}

func TestHandleDiscordChannelDelete(t *testing.T) {
	t.Parallel()
	tb := newTestBridge()
	tb.addMapping("guild1", "chan1", "!room1:example.com")

	tb.Bridge.HandleDiscordChannelDelete(context.Background(), &discordgo.ChannelDelete{
		Channel: &discordgo.Channel{ID: "chan1", GuildID: "guild1"},
	})

	if _, err := tb.Store.ByRoom("!room1:example.com"); err == nil {
		t.Error("mapping should be removed after channel delete")
	}
}

func TestToMessageContentPlain(t *testing.T) {
	t.Parallel()
	content := toMessageContent(discordfmt.Formatted{Body: "hello", MsgType: event.MsgText})
	if content.Format != "" || content.FormattedBody != "" {
		t.Errorf("plain content should not carry HTML: %+v", content)
	}
}

// recordingPresence captures presence control calls.
type recordingPresence struct {
	enqueued []string
	dequeued []string
}

func (r *recordingPresence) EnqueueUser(userID, _ string) {
	r.enqueued = append(r.enqueued, userID)
}

func (r *recordingPresence) DequeueUser(userID string) {
	r.dequeued = append(r.dequeued, userID)
}
