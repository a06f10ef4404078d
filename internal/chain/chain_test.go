package chain_test

import (
	"context"
	"errors"
	"linksummary/internal/chain"
	"linksummary/internal/loader"
	"linksummary/internal/summarizer"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

type recordingSummarizer struct {
	inputs []summarizer.Input
	reply  string
	err    error
}

func (s *recordingSummarizer) Summarize(_ context.Context, input summarizer.Input) (string, error) {
	s.inputs = append(s.inputs, input)
	if s.err != nil {
		return "", s.err
	}

	return s.reply, nil
}

func newChain(t *testing.T, s summarizer.Summarizer) *chain.StuffChain {
	t.Helper()

	c, err := chain.NewStuffChain(context.Background(), s)
	if err != nil {
		t.Fatalf("NewStuffChain: %v", err)
	}

	return c
}

func TestStuffChainCallsModelOnceWithAllFragments(t *testing.T) {
	s := &recordingSummarizer{reply: "Short summary."}
	c := newChain(t, s)

	docs := []*schema.Document{
		{Content: "First part.", MetaData: map[string]any{loader.MetaSource: "https://example.com/a"}},
		{Content: "   "},
		{Content: "Second part."},
	}

	got, err := c.Run(context.Background(), docs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "Short summary." {
		t.Fatalf("unexpected summary: %q", got)
	}

	if len(s.inputs) != 1 {
		t.Fatalf("expected exactly one model call, got %d", len(s.inputs))
	}

	input := s.inputs[0]
	want := chain.StuffPrompt("First part.\n\nSecond part.")
	if input.Text != want {
		t.Fatalf("unexpected prompt:\n%s\nwant:\n%s", input.Text, want)
	}
	if input.SourceURL != "https://example.com/a" {
		t.Fatalf("unexpected source: %q", input.SourceURL)
	}
}

func TestStuffChainKeepsFragmentOrder(t *testing.T) {
	s := &recordingSummarizer{reply: "ok"}
	c := newChain(t, s)

	docs := []*schema.Document{{Content: "alpha"}, {Content: "beta"}, {Content: "gamma"}}
	if _, err := c.Run(context.Background(), docs); err != nil {
		t.Fatalf("Run: %v", err)
	}

	text := s.inputs[0].Text
	a, b, g := strings.Index(text, "alpha"), strings.Index(text, "beta"), strings.Index(text, "gamma")
	if a < 0 || !(a < b && b < g) {
		t.Fatalf("fragments out of order: %q", text)
	}
}

func TestStuffChainEmptyContentSkipsModel(t *testing.T) {
	s := &recordingSummarizer{reply: "unused"}
	c := newChain(t, s)

	for _, docs := range [][]*schema.Document{nil, {{Content: " \n "}}} {
		_, err := c.Run(context.Background(), docs)
		if !errors.Is(err, chain.ErrEmptyContent) {
			t.Fatalf("expected ErrEmptyContent, got %v", err)
		}
	}

	if len(s.inputs) != 0 {
		t.Fatalf("expected no model calls, got %d", len(s.inputs))
	}
}

func TestStuffChainPropagatesModelFailure(t *testing.T) {
	s := &recordingSummarizer{err: errors.New("quota exceeded")}
	c := newChain(t, s)

	_, err := c.Run(context.Background(), []*schema.Document{{Content: "text"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected model error in chain error, got %v", err)
	}
}
