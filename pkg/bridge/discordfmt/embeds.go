// Copyright 2024-2026 Aiku AI

package discordfmt

import (
	"context"
	"html"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// appendEmbeds renders message embeds as rule-separated blocks after
// the main body. Embeds whose URL already appears in the message text
// are link previews and are skipped.
func (f *Formatter) appendEmbeds(ctx context.Context, plain, htmlBody string, msg *discordgo.Message) (string, string) {
	for _, embed := range msg.Embeds {
		if embed == nil {
			continue
		}
		if embed.URL != "" && strings.Contains(msg.Content, embed.URL) {
			continue
		}
		embedPlain, embedHTML := f.renderEmbed(ctx, embed)
		if embedPlain == "" {
			continue
		}
		if plain != "" {
			plain += "\n"
		}
		plain += "----\n" + embedPlain
		if htmlBody != "" {
			htmlBody += "<br/>"
		}
		htmlBody += "<hr/>" + embedHTML
	}
	return plain, htmlBody
}

func (f *Formatter) renderEmbed(ctx context.Context, embed *discordgo.MessageEmbed) (string, string) {
	var plainParts, htmlParts []string

	if embed.Title != "" {
		title := scrub(embed.Title)
		if embed.URL != "" {
			plainParts = append(plainParts, title+" ("+embed.URL+")")
			htmlParts = append(htmlParts, `<p><strong><a href="`+html.EscapeString(embed.URL)+`">`+html.EscapeString(title)+`</a></strong></p>`)
		} else {
			plainParts = append(plainParts, title)
			htmlParts = append(htmlParts, "<p><strong>"+html.EscapeString(title)+"</strong></p>")
		}
	}
	if embed.Description != "" {
		desc := scrub(embed.Description)
		plainParts = append(plainParts, desc)
		htmlParts = append(htmlParts, "<p>"+f.inlineFragment(ctx, desc)+"</p>")
	}
	for _, field := range embed.Fields {
		if field == nil {
			continue
		}
		name := scrub(field.Name)
		value := scrub(field.Value)
		plainParts = append(plainParts, name+"\n"+value)
		htmlParts = append(htmlParts, "<p><strong>"+html.EscapeString(name)+"</strong><br/>"+f.inlineFragment(ctx, value)+"</p>")
	}
	if embed.Image != nil && embed.Image.URL != "" {
		plainParts = append(plainParts, embed.Image.URL)
		htmlParts = append(htmlParts, `<p><a href="`+html.EscapeString(embed.Image.URL)+`">Image</a></p>`)
	}
	if embed.Footer != nil && embed.Footer.Text != "" {
		footer := scrub(embed.Footer.Text)
		plainParts = append(plainParts, footer)
		htmlParts = append(htmlParts, "<p><em>"+html.EscapeString(footer)+"</em></p>")
	}

	return strings.Join(plainParts, "\n"), strings.Join(htmlParts, "")
}

// inlineFragment applies the inline rules and token resolution to a
// single embed fragment. Field values use the same node-rendering
// rules as the message body.
func (f *Formatter) inlineFragment(ctx context.Context, text string) string {
	fragment := customEmojiRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := customEmojiRe.FindStringSubmatch(match)
		kind := tokenKindEmoji
		if parts[1] == "a" {
			kind = tokenKindAnimatedEmoji
		}
		return makeToken(kind, parts[3], parts[2])
	})
	fragment = channelMentionRe.ReplaceAllStringFunc(fragment, func(match string) string {
		parts := channelMentionRe.FindStringSubmatch(match)
		return makeToken(tokenKindChannel, parts[1], "")
	})
	fragment = inlineMarkdown(html.EscapeString(fragment))
	fragment = f.resolveTokens(ctx, fragment, true)
	return strings.ReplaceAll(fragment, "\n", "<br/>")
}
