// Copyright 2024-2026 Aiku AI

// Package presence keeps Matrix informed about Discord user presence.
//
// Matrix forgets a user's presence roughly 55 seconds after the last
// update, so the bridge must keep republishing it. The Queue spreads
// that work out to one user per tick to stay inside the homeserver's
// call budget regardless of how many users are tracked.
package presence

import (
	"github.com/bwmarrin/discordgo"
	"maunium.net/go/mautrix/event"
)

// Status is the Matrix-side rendition of a Discord presence record.
type Status struct {
	Presence  event.Presence
	StatusMsg string
	// Drop signals that the user should leave the republish cycle
	// after this status is published.
	Drop bool
}

// Derive converts a raw Discord presence into the Matrix status to
// publish. A nil presence is treated as offline.
func Derive(p *discordgo.Presence) Status {
	if p == nil {
		return Status{Presence: event.PresenceOffline, Drop: true}
	}

	var st Status
	switch p.Status {
	case discordgo.StatusOnline:
		st.Presence = event.PresenceOnline
	case discordgo.StatusDoNotDisturb:
		st.Presence = event.PresenceOnline
		st.StatusMsg = "Do not disturb"
	case discordgo.StatusIdle:
		st.Presence = event.PresenceUnavailable
	default:
		// Offline and anything unrecognized drops out of the cycle.
		return Status{Presence: event.PresenceOffline, Drop: true}
	}

	if line := activityLine(p.Activities); line != "" {
		if st.StatusMsg != "" {
			st.StatusMsg += " | " + line
		} else {
			st.StatusMsg = line
		}
	}
	return st
}

// activityLine renders the first named activity as a status line.
func activityLine(activities []*discordgo.Activity) string {
	for _, activity := range activities {
		if activity == nil || activity.Name == "" {
			continue
		}
		var line string
		if activity.Type == discordgo.ActivityTypeStreaming {
			line = "Streaming " + activity.Name
		} else {
			line = "Playing " + activity.Name
		}
		if activity.URL != "" {
			line += " | " + activity.URL
		}
		return line
	}
	return ""
}
