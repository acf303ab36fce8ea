// Copyright 2024-2026 Aiku AI

// Package matrixfmt converts Matrix HTML to Discord markdown.
package matrixfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"
)

var (
	strongRe     = regexp.MustCompile(`<strong>(.*?)</strong>`)
	bRe          = regexp.MustCompile(`<b>(.*?)</b>`)
	emRe         = regexp.MustCompile(`<em>(.*?)</em>`)
	iRe          = regexp.MustCompile(`<i>(.*?)</i>`)
	uRe          = regexp.MustCompile(`<u>(.*?)</u>`)
	delRe        = regexp.MustCompile(`<del>(.*?)</del>`)
	spoilerRe    = regexp.MustCompile(`<span[^>]*data-mx-spoiler[^>]*>(.*?)</span>`)
	codeRe       = regexp.MustCompile(`<code>(.*?)</code>`)
	preRe        = regexp.MustCompile(`(?s)<pre><code(?: class="language-([^"]*)")?>(.*?)</code></pre>`)
	pillRe       = regexp.MustCompile(`<a href="https://matrix\.to/#/(@[^"]+)"[^>]*>(.*?)</a>`)
	roomPillRe   = regexp.MustCompile(`<a href="https://matrix\.to/#/(#[^"]+)"[^>]*>(.*?)</a>`)
	linkRe       = regexp.MustCompile(`<a href="([^"]+)"[^>]*>(.*?)</a>`)
	emoticonRe   = regexp.MustCompile(`<img[^>]*data-mx-emoticon[^>]*alt="([^"]*)"[^>]*/?>`)
	brRe         = regexp.MustCompile(`<br\s*/?>`)
	blockquoteRe = regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`)
	headingRe    = regexp.MustCompile(`<h([1-6])>(.*?)</h[1-6]>`)
	ulRe         = regexp.MustCompile(`(?s)<ul>(.*?)</ul>`)
	olRe         = regexp.MustCompile(`(?s)<ol>(.*?)</ol>`)
	liRe         = regexp.MustCompile(`<li>(.*?)</li>`)
	pRe          = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	// Only strips real HTML tags; Discord mention tokens like <@123>
	// produced earlier in the pass must survive.
	tagRe = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

	ghostMXIDRe = regexp.MustCompile(`^@_discord_(\d+):`)
)

// Parse converts Matrix message content to Discord markdown. Mention
// pills for bridge ghosts become real Discord mentions; anything else
// keeps its display name.
func Parse(content *event.MessageEventContent) string {
	if content == nil {
		return ""
	}
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return content.Body
	}

	text := content.FormattedBody

	// Code blocks first, preserving content and language hints.
	text = preRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := preRe.FindStringSubmatch(match)
		return "```" + parts[1] + "\n" + parts[2] + "\n```"
	})
	text = codeRe.ReplaceAllString(text, "`$1`")

	// Mention pills before generic links.
	text = pillRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := pillRe.FindStringSubmatch(match)
		mxid, label := parts[1], parts[2]
		if m := ghostMXIDRe.FindStringSubmatch(mxid); m != nil {
			return "<@" + m[1] + ">"
		}
		return "@" + label
	})
	text = roomPillRe.ReplaceAllString(text, "$2")
	text = emoticonRe.ReplaceAllString(text, "$1")

	// Inline formatting.
	text = strongRe.ReplaceAllString(text, "**$1**")
	text = bRe.ReplaceAllString(text, "**$1**")
	text = uRe.ReplaceAllString(text, "__${1}__")
	text = emRe.ReplaceAllString(text, "_${1}_")
	text = iRe.ReplaceAllString(text, "_${1}_")
	text = delRe.ReplaceAllString(text, "~~$1~~")
	text = spoilerRe.ReplaceAllString(text, "||$1||")

	// Links.
	text = linkRe.ReplaceAllString(text, "[$2]($1)")

	// Headings.
	text = headingRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := headingRe.FindStringSubmatch(match)
		level, _ := strconv.Atoi(parts[1])
		return strings.Repeat("#", level) + " " + parts[2]
	})

	// Blockquotes.
	text = blockquoteRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := blockquoteRe.FindStringSubmatch(match)
		inner := brRe.ReplaceAllString(parts[1], "\n")
		lines := strings.Split(strings.TrimSpace(inner), "\n")
		for i, line := range lines {
			lines[i] = "> " + strings.TrimSpace(line)
		}
		return strings.Join(lines, "\n")
	})

	// Lists.
	text = ulRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		var result []string
		for _, item := range items {
			result = append(result, "- "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n")
	})
	text = olRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		var result []string
		for i, item := range items {
			result = append(result, strconv.Itoa(i+1)+". "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n")
	})

	// Paragraphs and line breaks.
	text = pRe.ReplaceAllString(text, "$1\n\n")
	text = brRe.ReplaceAllString(text, "\n")

	// Strip remaining tags and decode entities.
	text = tagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)

	return strings.TrimSpace(text)
}
