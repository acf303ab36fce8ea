// Copyright 2024-2026 Aiku AI

package bridge

import (
	"github.com/bwmarrin/discordgo"

	"github.com/aiku/matrix-discord-bridge/pkg/bridge/discordfmt"
)

// StateMemberSource reads guild membership from the gateway session's
// state cache.
type StateMemberSource struct {
	Session *discordgo.Session
}

func (s *StateMemberSource) Members(guildID string) []discordfmt.Member {
	guild, err := s.Session.State.Guild(guildID)
	if err != nil {
		return nil
	}
	members := make([]discordfmt.Member, 0, len(guild.Members))
	for _, m := range guild.Members {
		if m.User == nil {
			continue
		}
		name := m.Nick
		if name == "" {
			name = m.User.Username
		}
		members = append(members, discordfmt.Member{
			UserID:      m.User.ID,
			DisplayName: name,
		})
	}
	return members
}

func (s *StateMemberSource) Roles(guildID string) map[string]string {
	guild, err := s.Session.State.Guild(guildID)
	if err != nil {
		return nil
	}
	roles := make(map[string]string, len(guild.Roles))
	for _, r := range guild.Roles {
		roles[r.ID] = r.Name
	}
	return roles
}

// StatePresenceSource resolves a user's current presence from the
// state cache, checking every guild the session can see. A user
// visible nowhere reads as offline.
type StatePresenceSource struct {
	Session *discordgo.Session
}

func (s *StatePresenceSource) Presence(userID string) (*discordgo.Presence, error) {
	for _, guild := range s.Session.State.Guilds {
		if p, err := s.Session.State.Presence(guild.ID, userID); err == nil && p != nil {
			return p, nil
		}
	}
	return nil, nil
}
