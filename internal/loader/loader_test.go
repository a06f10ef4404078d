package loader_test

import (
	"context"
	"errors"
	"linksummary/internal/loader"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const articleHTML = `<!doctype html>
<html lang="en">
<head>
  <title>Go turns 15</title>
  <meta name="description" content="A look back.">
  <style>body { color: red; }</style>
</head>
<body>
  <nav>Home</nav>
  <article>
    <p>The Go project was announced in 2009.</p>
    <p>It has since become a <strong>important</strong> language for cloud infrastructure.</p>
    <p>The next release focuses on performance.</p>
  </article>
  <script>console.log("tracking")</script>
</body>
</html>`

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example feed</title>
  <link>https://example.com</link>
  <item>
    <title>First post</title>
    <link>https://example.com/1</link>
    <description>&lt;p&gt;First body&lt;/p&gt;</description>
  </item>
  <item>
    <title>Second post</title>
    <link>https://example.com/2</link>
    <description>Second body</description>
  </item>
</channel>
</rss>`

func newServer(t *testing.T, contentType string, status int, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func newLoader(t *testing.T, format loader.Format) *loader.Loader {
	t.Helper()

	l, err := loader.New(loader.Options{Format: format}, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return l
}

func TestLoadHTMLArticle(t *testing.T) {
	srv := newServer(t, "text/html; charset=utf-8", http.StatusOK, articleHTML)

	docs, err := newLoader(t, loader.FormatText).Load(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(docs) != 1 {
		t.Fatalf("expected one fragment, got %d", len(docs))
	}

	content := docs[0].Content
	for _, want := range []string{
		"The Go project was announced in 2009.",
		"It has since become a important language for cloud infrastructure.",
		"The next release focuses on performance.",
	} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected content to contain %q, got %q", want, content)
		}
	}

	if strings.Contains(content, "tracking") || strings.Contains(content, "color: red") {
		t.Fatalf("expected scripts and styles to be dropped, got %q", content)
	}

	if docs[0].MetaData[loader.MetaTitle] != "Go turns 15" {
		t.Fatalf("unexpected title: %v", docs[0].MetaData[loader.MetaTitle])
	}
	if docs[0].MetaData[loader.MetaDescription] != "A look back." {
		t.Fatalf("unexpected description: %v", docs[0].MetaData[loader.MetaDescription])
	}
	if docs[0].MetaData[loader.MetaLanguage] != "en" {
		t.Fatalf("unexpected language: %v", docs[0].MetaData[loader.MetaLanguage])
	}
}

func TestLoadHTMLMarkdown(t *testing.T) {
	srv := newServer(t, "text/html", http.StatusOK, articleHTML)

	docs, err := newLoader(t, loader.FormatMarkdown).Load(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(docs) != 1 || !strings.Contains(docs[0].Content, "**important**") {
		t.Fatalf("expected markdown content, got %#v", docs)
	}
}

func TestLoadEmptyPage(t *testing.T) {
	srv := newServer(t, "text/html", http.StatusOK, "<html><head><title>t</title></head><body>  </body></html>")

	docs, err := newLoader(t, loader.FormatText).Load(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(docs) != 0 {
		t.Fatalf("expected no fragments, got %d", len(docs))
	}
}

func TestLoadFeedYieldsFragmentPerItem(t *testing.T) {
	srv := newServer(t, "application/rss+xml", http.StatusOK, feedXML)

	docs, err := newLoader(t, loader.FormatText).Load(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(docs) != 2 {
		t.Fatalf("expected two fragments, got %d", len(docs))
	}

	if docs[0].ID != "https://example.com/1" || docs[0].Content != "First post\nFirst body" {
		t.Fatalf("unexpected first fragment: %#v", docs[0])
	}

	if docs[1].ID != "https://example.com/2" {
		t.Fatalf("expected document order to be preserved, got %q", docs[1].ID)
	}
}

func TestLoadPlainText(t *testing.T) {
	srv := newServer(t, "text/plain", http.StatusOK, "  line one  \n\n line   two ")

	docs, err := newLoader(t, loader.FormatText).Load(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(docs) != 1 || docs[0].Content != "line one\nline two" {
		t.Fatalf("unexpected fragments: %#v", docs)
	}
}

func TestLoadUnsupportedContent(t *testing.T) {
	srv := newServer(t, "image/png", http.StatusOK, "\x89PNG")

	_, err := newLoader(t, loader.FormatText).Load(context.Background(), srv.URL)
	if !errors.Is(err, loader.ErrUnsupportedContent) {
		t.Fatalf("expected ErrUnsupportedContent, got %v", err)
	}
}

func TestLoadUnexpectedStatus(t *testing.T) {
	srv := newServer(t, "text/html", http.StatusNotFound, "missing")

	_, err := newLoader(t, loader.FormatText).Load(context.Background(), srv.URL)
	if !errors.Is(err, loader.ErrUnexpectedStatus) {
		t.Fatalf("expected ErrUnexpectedStatus, got %v", err)
	}
}

func TestLoadUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	unreachable := srv.URL
	srv.Close()

	if _, err := newLoader(t, loader.FormatText).Load(context.Background(), unreachable); err == nil {
		t.Fatalf("expected error for unreachable URL")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := loader.New(loader.Options{Format: "pdf"}, slog.Default()); !errors.Is(err, loader.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}
