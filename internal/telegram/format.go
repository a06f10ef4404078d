package telegram

import (
	"linksummary/internal/domain"
	"strings"
	"unicode/utf8"
)

// Telegram caps a message at 4096 characters counted after entity parsing,
// so MarkdownV2 escapes do not count toward it.
const maxSummaryRunes = 3500

// Taken from https://core.telegram.org/bots/api#markdownv2-style.
const mdV2SpecialChars = "_*[]()~`>#+-=|{}.!\\"

func formatReply(link string, resp domain.SummaryResponse) string {
	var b strings.Builder

	if resp.Type == domain.ResponseTypeError {
		b.WriteString("⚠️ *Could not summarize*\n")
		b.WriteString(escapeMarkdownV2(link))
		b.WriteString("\n\n")
		b.WriteString(escapeMarkdownV2(resp.Message))

		return b.String()
	}

	b.WriteString("📝 *Summary*\n")
	b.WriteString(escapeMarkdownV2(link))
	b.WriteString("\n\n")
	b.WriteString(escapeMarkdownV2(truncateRunes(resp.Message, maxSummaryRunes)))

	return b.String()
}

func escapeMarkdownV2(input string) string {
	if !strings.ContainsAny(input, mdV2SpecialChars) {
		return input
	}

	var b strings.Builder
	b.Grow(len(input) + len(input)/4)

	for _, r := range input {
		if r < utf8.RuneSelf && strings.ContainsRune(mdV2SpecialChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}

	return b.String()
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)

	return strings.TrimSpace(string(runes[:limit])) + "…"
}
