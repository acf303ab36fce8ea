// Copyright 2024-2026 Aiku AI

package discordfmt

import (
	"context"
	"html"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// shortEditLimit is the longest new body that still renders as an
// inline strikethrough-arrow edit.
const shortEditLimit = 80

// FormatEdit renders an edit as a strikethrough-old/arrow-new diff.
// Short single-line edits use an inline form; anything multi-line or
// long uses a rule-separated block form.
func (f *Formatter) FormatEdit(ctx context.Context, oldMsg, newMsg *discordgo.Message, opts Options) Formatted {
	oldFmt := f.Format(ctx, safeMessage(oldMsg), opts)
	newFmt := f.Format(ctx, safeMessage(newMsg), opts)

	oldHTML := orEscaped(oldFmt)
	newHTML := orEscaped(newFmt)

	result := Formatted{MsgType: newFmt.MsgType}
	if isBlockEdit(oldFmt.Body, newFmt.Body) {
		result.Body = oldFmt.Body + "\n->\n" + newFmt.Body
		result.FormattedBody = "<p><del>" + oldHTML + "</del></p><hr/><p>" + newHTML + "</p>"
	} else {
		result.Body = oldFmt.Body + " -> " + newFmt.Body
		result.FormattedBody = "<del>" + oldHTML + "</del> -&gt; " + newHTML
	}
	return result
}

func isBlockEdit(oldBody, newBody string) bool {
	return strings.Contains(oldBody, "\n") ||
		strings.Contains(newBody, "\n") ||
		len(newBody) > shortEditLimit
}

// orEscaped returns the HTML body, falling back to the escaped plain
// body for unformatted messages.
func orEscaped(f Formatted) string {
	if f.FormattedBody != "" {
		return f.FormattedBody
	}
	return html.EscapeString(f.Body)
}

func safeMessage(msg *discordgo.Message) *discordgo.Message {
	if msg == nil {
		return &discordgo.Message{}
	}
	return msg
}

// NewEditMessage wraps a raw old/new body pair for FormatEdit when
// only text is available (e.g. the previous body came from a cache).
func NewEditMessage(body string, author *discordgo.User) *discordgo.Message {
	return &discordgo.Message{Content: body, Author: author}
}
