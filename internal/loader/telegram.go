package loader

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cloudwego/eino/schema"
)

const (
	telegramBaseURL = "https://t.me"

	minPartsForTelegramChannelSlugStartingWithS = 2
)

//nolint:gochecknoglobals // Compiled once, read-only.
var (
	telegramHosts  = []string{"t.me", "telegram.me"}
	telegramSlugRe = regexp.MustCompile(`^\w{5,32}$`)
)

// telegramTarget is a public channel, or one post in it when postID is set.
type telegramTarget struct {
	slug   string
	postID int
}

// parseTelegramURL recognizes t.me/<slug>, t.me/s/<slug> and
// t.me/<slug>/<post> links.
func parseTelegramURL(raw string) (telegramTarget, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return telegramTarget{}, false
	}

	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	isTelegram := false
	for _, h := range telegramHosts {
		if host == h {
			isTelegram = true
			break
		}
	}
	if !isTelegram {
		return telegramTarget{}, false
	}

	path := strings.Trim(u.Path, "/")
	if path == "" {
		return telegramTarget{}, false
	}

	parts := strings.Split(path, "/")
	if parts[0] == "s" {
		if len(parts) < minPartsForTelegramChannelSlugStartingWithS {
			return telegramTarget{}, false
		}
		parts = parts[1:]
	}

	target := telegramTarget{slug: strings.TrimSpace(parts[0])}
	if !telegramSlugRe.MatchString(target.slug) {
		return telegramTarget{}, false
	}

	if len(parts) > 1 {
		postID, convErr := strconv.Atoi(parts[1])
		if convErr != nil || postID <= 0 {
			return telegramTarget{}, false
		}
		target.postID = postID
	}

	return target, true
}

func (l *Loader) telegramPreviewURL(t telegramTarget) string {
	if t.postID > 0 {
		return fmt.Sprintf("%s/%s/%d?embed=1&mode=tme", l.telegramBaseURL, t.slug, t.postID)
	}

	return fmt.Sprintf("%s/s/%s", l.telegramBaseURL, t.slug)
}

// telegramDocuments returns one fragment per message on a channel preview
// or post embed page, oldest first.
func telegramDocuments(source string, body []byte) ([]*schema.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("meta[property='og:title']").AttrOr("content", ""))
	if title == "" {
		title = strings.TrimSpace(doc.Find(".tgme_channel_info_header_title").Text())
	}

	var docs []*schema.Document

	doc.Find(".tgme_widget_message").Each(func(i int, message *goquery.Selection) {
		text := telegramMessageText(message)
		if text == "" {
			return
		}

		itemSource := telegramMessageCanonicalURL(
			message.Find("a.tgme_widget_message_date").First().AttrOr("href", ""))
		if itemSource == "" {
			itemSource = fmt.Sprintf("%s#%d", source, i)
		}

		meta := map[string]any{MetaSource: itemSource}
		if title != "" {
			meta[MetaTitle] = title
		}

		datetime := strings.TrimSpace(message.Find("time").First().AttrOr("datetime", ""))
		if published, parseErr := time.Parse(time.RFC3339, datetime); parseErr == nil {
			meta[MetaPublished] = published.UTC()
		}

		docs = append(docs, &schema.Document{ID: itemSource, Content: text, MetaData: meta})
	})

	return docs, nil
}

func telegramMessageText(message *goquery.Selection) string {
	var b strings.Builder

	message.Find(".tgme_widget_message_text, .tgme_widget_message_caption").Each(
		func(_ int, inner *goquery.Selection) {
			inner.Find("br").Each(func(_ int, br *goquery.Selection) {
				br.ReplaceWithHtml("\n")
			})

			fragment := normalizeText(inner.Text())
			if fragment == "" {
				return
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(fragment)
		},
	)

	return strings.TrimSpace(b.String())
}

func telegramMessageCanonicalURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}

	u.RawQuery = ""
	u.Fragment = ""

	return u.String()
}
