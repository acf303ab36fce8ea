// Copyright 2024-2026 Aiku AI

package bridge

import (
	"testing"

	"maunium.net/go/mautrix/id"
)

func TestMakeGhostMXID(t *testing.T) {
	t.Parallel()
	got := MakeGhostMXID("123456789", "example.com")
	want := id.UserID("@_discord_123456789:example.com")
	if got != want {
		t.Errorf("MakeGhostMXID() = %q, want %q", got, want)
	}
}

func TestParseGhostMXID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		input  id.UserID
		wantID string
		wantOK bool
	}{
		{"ghost", "@_discord_123456789:example.com", "123456789", true},
		{"real user", "@alice:example.com", "", false},
		{"other bridge prefix", "@_telegram_123:example.com", "", false},
		{"missing domain", "@_discord_123", "", false},
		{"empty discord id", "@_discord_:example.com", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gotID, gotOK := ParseGhostMXID(tt.input)
			if gotID != tt.wantID || gotOK != tt.wantOK {
				t.Errorf("ParseGhostMXID(%q) = (%q, %v), want (%q, %v)", tt.input, gotID, gotOK, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestMakeRoomAlias(t *testing.T) {
	t.Parallel()
	got := MakeRoomAlias("111", "222", "example.com")
	want := id.RoomAlias("#_discord_111_222:example.com")
	if got != want {
		t.Errorf("MakeRoomAlias() = %q, want %q", got, want)
	}
}

func TestGhostMXIDRoundTrip(t *testing.T) {
	t.Parallel()
	mxid := MakeGhostMXID("987654", "matrix.example.org")
	gotID, ok := ParseGhostMXID(mxid)
	if !ok || gotID != "987654" {
		t.Errorf("ParseGhostMXID(MakeGhostMXID()) = (%q, %v), want (%q, true)", gotID, ok, "987654")
	}
}
