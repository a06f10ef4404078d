package telegram

import (
	"context"
	"errors"
	"fmt"
	"linksummary/internal/domain"
	"linksummary/internal/linksummary"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"mvdan.cc/xurls/v2"
)

const maxLinksPerMessage = 3

const welcomeText = `🤖 *Link summarizer*

Send me a link to a web page and I will reply with a short summary\.
Up to 3 links per message are summarized\.`

const noLinksText = `✖️ No http or https links found\. Send me a link to a web page\.`

//nolint:gochecknoglobals // Compiled once, read-only.
var strictURL = xurls.Strict()

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) error {
	text := strings.TrimSpace(message.Text)
	if text == "" {
		text = strings.TrimSpace(message.Caption)
	}

	if strings.HasPrefix(text, "/start") || strings.HasPrefix(text, "/help") {
		return b.sendText(ctx, message.Chat.ID, welcomeText, 0)
	}

	links := extractLinks(text, maxLinksPerMessage)
	if len(links) == 0 {
		return b.sendText(ctx, message.Chat.ID, noLinksText, message.MessageID)
	}

	return b.withSpinner(ctx, message.Chat.ID, func() error {
		var errs []error

		for _, link := range links {
			c := newChatContext(b, message, link)
			if err := b.handler.Handle(ctx, c, domain.LinkRequest{Link: link}); err != nil {
				errs = append(errs, fmt.Errorf("handle link (link = %s): %w", link, err))
			}
		}

		return errors.Join(errs...)
	})
}

// extractLinks returns up to limit distinct http(s) links in order of appearance.
func extractLinks(text string, limit int) []string {
	var links []string
	seen := make(map[string]struct{})

	for _, candidate := range strictURL.FindAllString(text, -1) {
		link, err := linksummary.ValidateLink(candidate)
		if err != nil {
			continue
		}

		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}

		links = append(links, link)
		if len(links) == limit {
			break
		}
	}

	return links
}

func (b *Bot) sendText(ctx context.Context, chatID int64, text string, replyTo int) error {
	normalizedText := strings.ToValidUTF8(text, "?")
	if normalizedText != text {
		b.log.WarnContext(ctx, "Message text had invalid UTF-8 and was normalized",
			"chatID", chatID,
			"originalLen", len(text),
			"normalizedLen", len(normalizedText))
	}

	message := tgbotapi.NewMessage(chatID, normalizedText)

	// See https://core.telegram.org/bots/api#markdownv2-style.
	message.ParseMode = tgbotapi.ModeMarkdownV2

	message.DisableWebPagePreview = true
	message.ReplyToMessageID = replyTo

	if _, err := b.messenger.Send(ctx, message); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}
