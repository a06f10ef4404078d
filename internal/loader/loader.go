// Package loader retrieves a web page and turns it into ordered text fragments.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/cloudwego/eino/schema"
	"github.com/mmcdole/gofeed"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"

	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = int64(5 * 1024 * 1024)

	MetaSource      = "source"
	MetaTitle       = "title"
	MetaDescription = "description"
	MetaLanguage    = "language"
	MetaPublished   = "published"
)

type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

var (
	ErrUnsupportedContent = errors.New("unsupported content type")
	ErrUnexpectedStatus   = errors.New("unexpected status")
	ErrInvalidFormat      = errors.New("invalid loader format")
)

type Options struct {
	Format   Format
	Timeout  time.Duration
	MaxBytes int64
}

// Loader fetches one URL per call and holds no per-request state.
type Loader struct {
	client     *http.Client
	format     Format
	maxBytes   int64
	feedParser *gofeed.Parser
	log        *slog.Logger

	// telegramBaseURL serves channel and post previews for t.me links.
	telegramBaseURL string
}

func New(opts Options, log *slog.Logger) (*Loader, error) {
	format := Format(strings.ToLower(strings.TrimSpace(string(opts.Format))))
	switch format {
	case "":
		format = FormatText
	case FormatText, FormatMarkdown:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, opts.Format)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	return &Loader{
		client:     &http.Client{Timeout: timeout},
		format:     format,
		maxBytes:   maxBytes,
		feedParser: gofeed.NewParser(),
		log:        log,

		telegramBaseURL: telegramBaseURL,
	}, nil
}

// Load returns the fragments behind rawURL in document order. A page without
// readable text yields no fragments and no error.
func (l *Loader) Load(ctx context.Context, rawURL string) ([]*schema.Document, error) {
	rawURL = strings.TrimSpace(rawURL)

	if target, ok := parseTelegramURL(rawURL); ok {
		body, _, _, err := l.fetch(ctx, l.telegramPreviewURL(target))
		if err != nil {
			return nil, err
		}

		return telegramDocuments(rawURL, body)
	}

	body, source, mediaType, err := l.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	switch {
	case isHTML(mediaType):
		return l.loadHTML(source, body)
	case isFeed(mediaType):
		return l.loadFeed(ctx, source, body)
	case strings.HasPrefix(mediaType, "text/"):
		return loadPlainText(source, body), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContent, mediaType)
	}
}

// fetch returns the body of rawURL, the final URL after redirects and the
// media type of the body.
func (l *Loader) fetch(ctx context.Context, rawURL string) ([]byte, string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, "", "", fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			l.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"url", rawURL,
				"operation", "fetch")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, "", "", fmt.Errorf("do request: %w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes))
	if err != nil {
		return nil, "", "", fmt.Errorf("read body: %w", err)
	}

	if int64(len(body)) >= l.maxBytes {
		l.log.WarnContext(ctx, "Response body is truncated",
			"url", rawURL,
			"maxBytes", l.maxBytes)
	}

	source := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		source = resp.Request.URL.String()
	}

	return body, source, detectMediaType(resp.Header.Get("Content-Type"), body), nil
}

func (l *Loader) loadHTML(source string, body []byte) ([]*schema.Document, error) {
	page, err := parsePage(body)
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	content := page.text
	if l.format == FormatMarkdown {
		content, err = toMarkdown(source, page.html)
		if err != nil {
			return nil, fmt.Errorf("convert to markdown: %w", err)
		}
	}

	if content == "" {
		return nil, nil
	}

	meta := map[string]any{MetaSource: source}
	if page.title != "" {
		meta[MetaTitle] = page.title
	}
	if page.description != "" {
		meta[MetaDescription] = page.description
	}
	if page.language != "" {
		meta[MetaLanguage] = page.language
	}

	return []*schema.Document{{ID: source, Content: content, MetaData: meta}}, nil
}

// loadFeed returns one fragment per feed item.
func (l *Loader) loadFeed(ctx context.Context, source string, body []byte) ([]*schema.Document, error) {
	parsed, err := l.feedParser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed: %w", ErrUnsupportedContent, err)
	}

	docs := make([]*schema.Document, 0, len(parsed.Items))

	for i, item := range parsed.Items {
		doc, ok := feedItemDocument(source, i, item)
		if !ok {
			l.log.DebugContext(ctx, "Skipping feed item without text",
				"url", source,
				"itemIndex", i,
				"itemTitle", item.Title)

			continue
		}

		docs = append(docs, doc)
	}

	return docs, nil
}

func feedItemDocument(source string, index int, item *gofeed.Item) (*schema.Document, bool) {
	title := strings.TrimSpace(item.Title)

	raw := item.Content
	if strings.TrimSpace(raw) == "" {
		raw = item.Description
	}

	text := htmlFragmentText(raw)

	var b strings.Builder
	if title != "" {
		b.WriteString(title)
	}
	if text != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(text)
	}

	content := strings.TrimSpace(b.String())
	if content == "" {
		return nil, false
	}

	itemSource := strings.TrimSpace(item.Link)
	if itemSource == "" {
		itemSource = fmt.Sprintf("%s#%d", source, index)
	}

	meta := map[string]any{MetaSource: itemSource}
	if title != "" {
		meta[MetaTitle] = title
	}

	if item.PublishedParsed != nil {
		meta[MetaPublished] = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		meta[MetaPublished] = item.UpdatedParsed.UTC()
	}

	return &schema.Document{ID: itemSource, Content: content, MetaData: meta}, true
}

func loadPlainText(source string, body []byte) []*schema.Document {
	text := normalizeText(string(bytes.ToValidUTF8(body, []byte("?"))))
	if text == "" {
		return nil
	}

	return []*schema.Document{{
		ID:       source,
		Content:  text,
		MetaData: map[string]any{MetaSource: source},
	}}
}

func toMarkdown(source string, html string) (string, error) {
	domain := ""
	if u, err := url.Parse(source); err == nil {
		domain = u.Host
	}

	converter := md.NewConverter(domain, true, nil)

	markdown, err := converter.ConvertString(html)
	if err != nil {
		return "", err
	}

	lines := strings.Split(markdown, "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return strings.Join(result, "\n"), nil
}

func detectMediaType(contentType string, body []byte) string {
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}

	return mediaType
}

func isHTML(mediaType string) bool {
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func isFeed(mediaType string) bool {
	switch mediaType {
	case "application/rss+xml", "application/atom+xml", "application/feed+json",
		"application/xml", "text/xml":
		return true
	default:
		return false
	}
}
