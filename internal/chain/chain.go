// Package chain stuffs every loaded fragment into one prompt and asks the
// summarizer for a single answer.
package chain

import (
	"context"
	"errors"
	"fmt"
	"linksummary/internal/loader"
	"linksummary/internal/summarizer"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

var ErrEmptyContent = errors.New("page has no readable content")

const (
	documentSeparator = "\n\n"

	stuffPromptTemplate = "Write a concise summary of the following:\n\n\"%s\"\n\nCONCISE SUMMARY:"
)

// StuffChain runs the "stuff" strategy: all fragments are concatenated into
// a single prompt and the model is called exactly once.
type StuffChain struct {
	runnable compose.Runnable[[]*schema.Document, string]
}

func NewStuffChain(ctx context.Context, s summarizer.Summarizer) (*StuffChain, error) {
	runnable, err := compose.NewChain[[]*schema.Document, string]().
		AppendLambda(compose.InvokableLambda(stuff)).
		AppendLambda(compose.InvokableLambda(
			func(ctx context.Context, input summarizer.Input) (string, error) {
				return s.Summarize(ctx, input)
			},
		)).
		Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chain: %w", err)
	}

	return &StuffChain{runnable: runnable}, nil
}

// Run summarizes docs in order. It returns ErrEmptyContent without calling
// the model when no fragment carries text.
func (c *StuffChain) Run(ctx context.Context, docs []*schema.Document) (string, error) {
	if !hasContent(docs) {
		return "", ErrEmptyContent
	}

	summary, err := c.runnable.Invoke(ctx, docs)
	if err != nil {
		return "", fmt.Errorf("invoke chain: %w", err)
	}

	return summary, nil
}

func hasContent(docs []*schema.Document) bool {
	for _, doc := range docs {
		if doc != nil && strings.TrimSpace(doc.Content) != "" {
			return true
		}
	}

	return false
}

func stuff(_ context.Context, docs []*schema.Document) (summarizer.Input, error) {
	parts := make([]string, 0, len(docs))
	source := ""
	for _, doc := range docs {
		if doc == nil {
			continue
		}

		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		parts = append(parts, content)

		if source == "" {
			if s, ok := doc.MetaData[loader.MetaSource].(string); ok {
				source = s
			}
		}
	}

	if len(parts) == 0 {
		return summarizer.Input{}, ErrEmptyContent
	}

	return summarizer.Input{
		Text:      StuffPrompt(strings.Join(parts, documentSeparator)),
		SourceURL: source,
	}, nil
}

// StuffPrompt renders the single prompt sent to the model.
func StuffPrompt(text string) string {
	return fmt.Sprintf(stuffPromptTemplate, text)
}
