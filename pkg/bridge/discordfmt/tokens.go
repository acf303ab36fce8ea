// Copyright 2024-2026 Aiku AI

package discordfmt

import (
	"context"
	"html"
	"regexp"
	"strings"
)

// The parser walk is synchronous, but emoji and channel references need
// network lookups to render. Instead of blocking the walk, each such
// reference is emitted as a control-framed token and a second pass
// resolves every token before the result is returned. The delimiter is
// a control character that never survives into a returned body: input
// is scrubbed of it up front and resolveTokens consumes every token.
const tokenDelim = "\x01"

const (
	tokenKindEmoji         = "emoji"
	tokenKindAnimatedEmoji = "aemoji"
	tokenKindChannel       = "channel"
)

var tokenRe = regexp.MustCompile("\x01(emoji|aemoji|channel)\x01([^\x01]*)\x01([^\x01]*)\x01")

// makeToken frames one deferred reference. id and name are entity
// references from Discord's own grammar and cannot contain the
// delimiter (the input is scrubbed before tokenization).
func makeToken(kind, id, name string) string {
	return tokenDelim + kind + tokenDelim + id + tokenDelim + name + tokenDelim
}

// scrub removes the token delimiter and the placeholder marker from
// untrusted input so user content can never forge a token.
func scrub(s string) string {
	s = strings.ReplaceAll(s, "\x01", "")
	return strings.ReplaceAll(s, "\x00", "")
}

// Resolver performs the asynchronous lookups behind deferred tokens.
type Resolver interface {
	// ResolveEmoji returns the mxc:// URI for a custom emoji image.
	ResolveEmoji(ctx context.Context, emojiID, name string, animated bool) (string, error)
	// ResolveChannel returns the Matrix alias and display name for a
	// Discord channel.
	ResolveChannel(ctx context.Context, channelID string) (alias, name string, err error)
}

// resolveTokens replaces every deferred token in s with its resolved
// form. Lookup failures degrade to the literal Discord reference; the
// pass never fails and leaves no delimiter behind.
func (f *Formatter) resolveTokens(ctx context.Context, s string, asHTML bool) string {
	return tokenRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := tokenRe.FindStringSubmatch(match)
		kind, id, name := parts[1], parts[2], parts[3]
		switch kind {
		case tokenKindEmoji, tokenKindAnimatedEmoji:
			return f.renderEmoji(ctx, id, name, kind == tokenKindAnimatedEmoji, asHTML)
		case tokenKindChannel:
			return f.renderChannel(ctx, id, asHTML)
		}
		return ""
	})
}

func (f *Formatter) renderEmoji(ctx context.Context, id, name string, animated, asHTML bool) string {
	if f.Resolver == nil {
		return emojiFallback(id, name, animated, asHTML)
	}
	uri, err := f.Resolver.ResolveEmoji(ctx, id, name, animated)
	if err != nil || uri == "" {
		return emojiFallback(id, name, animated, asHTML)
	}
	if asHTML {
		alt := html.EscapeString(":" + name + ":")
		return `<img data-mx-emoticon src="` + html.EscapeString(uri) + `" alt="` + alt + `" title="` + alt + `" height="32"/>`
	}
	return ":" + name + ":"
}

// emojiFallback renders the literal Discord emoji reference.
func emojiFallback(id, name string, animated, asHTML bool) string {
	prefix := "<:"
	if animated {
		prefix = "<a:"
	}
	literal := prefix + name + ":" + id + ">"
	if asHTML {
		return html.EscapeString(literal)
	}
	return literal
}

func (f *Formatter) renderChannel(ctx context.Context, id string, asHTML bool) string {
	if f.Resolver == nil {
		return channelFallback(id, asHTML)
	}
	alias, name, err := f.Resolver.ResolveChannel(ctx, id)
	if err != nil || alias == "" {
		return channelFallback(id, asHTML)
	}
	if name == "" {
		name = alias
	}
	if asHTML {
		return `<a href="https://matrix.to/#/` + html.EscapeString(alias) + `">#` + html.EscapeString(name) + `</a>`
	}
	return "#" + name
}

// channelFallback renders the literal Discord channel reference.
func channelFallback(id string, asHTML bool) string {
	literal := "<#" + id + ">"
	if asHTML {
		return html.EscapeString(literal)
	}
	return literal
}
