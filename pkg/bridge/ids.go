// Copyright 2024-2026 Aiku AI

package bridge

import (
	"fmt"
	"strings"

	"maunium.net/go/mautrix/id"
)

const ghostLocalpartPrefix = "_discord_"

// MakeGhostMXID returns the Matrix user ID of the ghost representing a
// Discord user on the given homeserver domain.
func MakeGhostMXID(discordUserID, domain string) id.UserID {
	return id.NewUserID(ghostLocalpartPrefix+discordUserID, domain)
}

// ParseGhostMXID extracts the Discord user ID from a ghost MXID.
// Returns false for anything that is not one of this bridge's ghosts.
func ParseGhostMXID(userID id.UserID) (string, bool) {
	s := string(userID)
	if !strings.HasPrefix(s, "@"+ghostLocalpartPrefix) {
		return "", false
	}
	localpart := strings.TrimPrefix(s, "@"+ghostLocalpartPrefix)
	colon := strings.IndexByte(localpart, ':')
	if colon <= 0 {
		return "", false
	}
	return localpart[:colon], true
}

// MakeRoomAlias returns the canonical alias for a bridged guild
// channel.
func MakeRoomAlias(guildID, channelID, domain string) id.RoomAlias {
	return id.NewRoomAlias(fmt.Sprintf("%s%s_%s", ghostLocalpartPrefix, guildID, channelID), domain)
}
