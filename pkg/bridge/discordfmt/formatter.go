// Copyright 2024-2026 Aiku AI

// Package discordfmt converts Discord messages to Matrix event content.
package discordfmt

import (
	"context"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"maunium.net/go/mautrix/event"
)

// Formatted holds the result of converting a Discord message to Matrix format.
type Formatted struct {
	Body          string
	FormattedBody string
	MsgType       event.MessageType
}

// Member is a guild member visible in the target room, used for
// display-name mention rewriting and mention pills.
type Member struct {
	UserID      string
	DisplayName string
}

// Options carries per-message context the formatter cannot look up itself.
type Options struct {
	Members []Member
	// Roles maps role IDs to role names for <@&id> mentions.
	Roles map[string]string
}

// Formatter converts Discord markdown and entity references to Matrix
// HTML. Deferred lookups (custom emoji, channel references) go through
// Resolver; see tokens.go.
type Formatter struct {
	Resolver Resolver
	// Domain is the homeserver domain used for ghost mention pills.
	Domain string
}

var (
	userMentionRe    = regexp.MustCompile(`<@!?(\d+)>`)
	roleMentionRe    = regexp.MustCompile(`<@&(\d+)>`)
	channelMentionRe = regexp.MustCompile(`<#(\d+)>`)
	customEmojiRe    = regexp.MustCompile(`<(a?):([A-Za-z0-9_~]+):(\d+)>`)
	everyoneRe       = regexp.MustCompile(`@(everyone|here)`)
	codeBlockRe      = regexp.MustCompile("(?s)```(\\w+)?\\n?(.*?)```")
	inlineCodeRe     = regexp.MustCompile("`([^`\n]+)`")
	boldRe           = regexp.MustCompile(`\*\*(.+?)\*\*`)
	underlineRe      = regexp.MustCompile(`__(.+?)__`)
	italicStarRe     = regexp.MustCompile(`\*([^*\n]+)\*`)
	italicUnderRe    = regexp.MustCompile(`(^|[^\w_])_([^_\n]+)_($|[^\w_])`)
	strikeRe         = regexp.MustCompile(`~~(.+?)~~`)
	spoilerRe        = regexp.MustCompile(`\|\|(.+?)\|\|`)
	linkRe           = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	blockquoteRe     = regexp.MustCompile(`(?m)^>\s+(.+)$`)
	headingRe        = regexp.MustCompile(`(?m)^(#{1,3})\s+(.+)$`)
	ulRe             = regexp.MustCompile(`(?m)^[-*]\s+(.+)$`)
	olRe             = regexp.MustCompile(`(?m)^\d+\.\s+(.+)$`)
)

// codeBlock holds extracted fenced code block data.
type codeBlock struct {
	lang    string
	content string
}

// entity is a synchronously resolved reference carrying both renderings.
type entity struct {
	plain string
	html  string
}

// Format converts a Discord message to Matrix event content. It always
// returns a best-effort result and never fails; individual reference
// lookups degrade to literal fallbacks.
func (f *Formatter) Format(ctx context.Context, msg *discordgo.Message, opts Options) Formatted {
	content := scrub(msg.Content)

	// Step 1: extract code spans so nothing inside them is reinterpreted.
	var blocks []codeBlock
	content = codeBlockRe.ReplaceAllStringFunc(content, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		idx := len(blocks)
		blocks = append(blocks, codeBlock{lang: parts[1], content: parts[2]})
		return "\x00CODEBLOCK" + strconv.Itoa(idx) + "\x00"
	})
	var inlines []string
	content = inlineCodeRe.ReplaceAllStringFunc(content, func(match string) string {
		parts := inlineCodeRe.FindStringSubmatch(match)
		idx := len(inlines)
		inlines = append(inlines, parts[1])
		return "\x00INLINECODE" + strconv.Itoa(idx) + "\x00"
	})
	content = RewriteMemberMentions(content, opts.Members)

	// Step 2: references that need async lookups become deferred tokens.
	content = customEmojiRe.ReplaceAllStringFunc(content, func(match string) string {
		parts := customEmojiRe.FindStringSubmatch(match)
		kind := tokenKindEmoji
		if parts[1] == "a" {
			kind = tokenKindAnimatedEmoji
		}
		return makeToken(kind, parts[3], parts[2])
	})
	content = channelMentionRe.ReplaceAllStringFunc(content, func(match string) string {
		parts := channelMentionRe.FindStringSubmatch(match)
		return makeToken(tokenKindChannel, parts[1], "")
	})

	// Step 3: synchronously resolvable references become indexed
	// placeholders carrying both renderings.
	var entities []entity
	addEntity := func(plain, htmlForm string) string {
		idx := len(entities)
		entities = append(entities, entity{plain: plain, html: htmlForm})
		return "\x00ENT" + strconv.Itoa(idx) + "\x00"
	}
	content = userMentionRe.ReplaceAllStringFunc(content, func(match string) string {
		parts := userMentionRe.FindStringSubmatch(match)
		userID := parts[1]
		name := mentionName(msg, opts, userID)
		mxid := "@_discord_" + userID + ":" + f.Domain
		pill := `<a href="https://matrix.to/#/` + mxid + `">` + html.EscapeString(name) + `</a>`
		return addEntity(name, pill)
	})
	content = roleMentionRe.ReplaceAllStringFunc(content, func(match string) string {
		parts := roleMentionRe.FindStringSubmatch(match)
		if name, ok := opts.Roles[parts[1]]; ok {
			return addEntity("@"+name, "<strong>@"+html.EscapeString(name)+"</strong>")
		}
		return addEntity(match, html.EscapeString(match))
	})
	content = everyoneRe.ReplaceAllStringFunc(content, func(string) string {
		return addEntity("@room", "@room")
	})

	plainBody := buildPlain(content, blocks, inlines, entities)
	htmlBody := f.buildHTML(content, blocks, inlines, entities)

	plainBody = f.resolveTokens(ctx, plainBody, false)
	htmlBody = f.resolveTokens(ctx, htmlBody, true)

	msgType := event.MsgText
	if msg.Author != nil && msg.Author.Bot {
		msgType = event.MsgNotice
	}

	plainBody, htmlBody = f.appendEmbeds(ctx, plainBody, htmlBody, msg)

	result := Formatted{Body: plainBody, MsgType: msgType}
	if htmlBody != html.EscapeString(plainBody) && htmlBody != plainBody {
		result.FormattedBody = htmlBody
	}
	return result
}

// mentionName picks the best display name for a mentioned user,
// preferring message mention data, then the member list, then the raw ID.
func mentionName(msg *discordgo.Message, opts Options, userID string) string {
	for _, user := range msg.Mentions {
		if user != nil && user.ID == userID {
			return user.Username
		}
	}
	for _, member := range opts.Members {
		if member.UserID == userID {
			return member.DisplayName
		}
	}
	return userID
}

// RewriteMemberMentions replaces display-name occurrences of known
// members with Discord mention tokens so that referring to a bridged
// user by name still produces a clickable mention after formatting.
// Only whole-word occurrences match; a name embedded in a longer word
// stays untouched.
func RewriteMemberMentions(content string, members []Member) string {
	for _, member := range members {
		if member.DisplayName == "" || member.UserID == "" {
			continue
		}
		re, err := regexp.Compile(`(^|[^\w])` + regexp.QuoteMeta(member.DisplayName) + `($|[^\w])`)
		if err != nil {
			continue
		}
		content = re.ReplaceAllString(content, "${1}<@"+member.UserID+">${2}")
	}
	return content
}

// buildPlain restores placeholders into a readable plain-text body,
// keeping the original markdown.
func buildPlain(content string, blocks []codeBlock, inlines []string, entities []entity) string {
	for i, e := range entities {
		content = strings.Replace(content, "\x00ENT"+strconv.Itoa(i)+"\x00", e.plain, 1)
	}
	for i, code := range inlines {
		content = strings.Replace(content, "\x00INLINECODE"+strconv.Itoa(i)+"\x00", "`"+code+"`", 1)
	}
	for i, block := range blocks {
		fence := "```" + block.lang + "\n" + block.content + "```"
		content = strings.Replace(content, "\x00CODEBLOCK"+strconv.Itoa(i)+"\x00", fence, 1)
	}
	return content
}

// buildHTML runs the structural and inline conversion passes and
// restores placeholders as HTML.
func (f *Formatter) buildHTML(content string, blocks []codeBlock, inlines []string, entities []entity) string {
	// Structural pass, line by line on escaped text.
	lines := strings.Split(content, "\n")
	var result []string
	var listType string
	var listItems []string

	flushList := func() {
		if len(listItems) == 0 {
			return
		}
		result = append(result, "<"+listType+">"+strings.Join(listItems, "")+"</"+listType+">")
		listItems = nil
		listType = ""
	}

	for _, line := range lines {
		if m := blockquoteRe.FindStringSubmatch(line); len(m) >= 2 {
			flushList()
			result = append(result, "<blockquote>"+html.EscapeString(m[1])+"</blockquote>")
			continue
		}
		if m := headingRe.FindStringSubmatch(line); len(m) >= 3 {
			flushList()
			lvl := strconv.Itoa(len(m[1]))
			result = append(result, "<h"+lvl+">"+html.EscapeString(m[2])+"</h"+lvl+">")
			continue
		}
		if m := ulRe.FindStringSubmatch(line); len(m) >= 2 {
			if listType != "ul" {
				flushList()
				listType = "ul"
			}
			listItems = append(listItems, "<li>"+html.EscapeString(m[1])+"</li>")
			continue
		}
		if m := olRe.FindStringSubmatch(line); len(m) >= 2 {
			if listType != "ol" {
				flushList()
				listType = "ol"
			}
			listItems = append(listItems, "<li>"+html.EscapeString(m[1])+"</li>")
			continue
		}
		flushList()
		result = append(result, html.EscapeString(line))
	}
	flushList()

	formatted := strings.Join(result, "\n")
	formatted = inlineMarkdown(formatted)

	// Restore code spans with escaping.
	for i, code := range inlines {
		placeholder := "\x00INLINECODE" + strconv.Itoa(i) + "\x00"
		formatted = strings.Replace(formatted, placeholder, "<code>"+html.EscapeString(code)+"</code>", 1)
	}
	for i, block := range blocks {
		placeholder := "\x00CODEBLOCK" + strconv.Itoa(i) + "\x00"
		escaped := html.EscapeString(block.content)
		var replacement string
		if block.lang != "" {
			replacement = `<pre><code class="language-` + html.EscapeString(block.lang) + `">` + escaped + `</code></pre>`
		} else {
			replacement = `<pre><code>` + escaped + `</code></pre>`
		}
		formatted = strings.Replace(formatted, placeholder, replacement, 1)
	}

	for i, e := range entities {
		formatted = strings.Replace(formatted, "\x00ENT"+strconv.Itoa(i)+"\x00", e.html, 1)
	}

	return strings.ReplaceAll(formatted, "\n", "<br/>")
}

// inlineMarkdown applies Discord's inline styling rules to escaped text.
func inlineMarkdown(text string) string {
	text = boldRe.ReplaceAllString(text, "<strong>$1</strong>")
	text = underlineRe.ReplaceAllString(text, "<u>$1</u>")
	text = italicStarRe.ReplaceAllString(text, "<em>$1</em>")
	text = italicUnderRe.ReplaceAllString(text, "$1<em>$2</em>$3")
	text = strikeRe.ReplaceAllString(text, "<del>$1</del>")
	text = spoilerRe.ReplaceAllString(text, `<span data-mx-spoiler>$1</span>`)

	// Masked links, safe URL schemes only.
	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		label, href := parts[1], parts[2]
		lower := strings.ToLower(strings.TrimSpace(href))
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
			return `<a href="` + href + `">` + label + `</a>`
		}
		return label
	})
	return text
}
