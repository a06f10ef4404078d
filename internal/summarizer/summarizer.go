package summarizer

import (
	"context"
	"errors"
)

var (
	ErrEmptyInput  = errors.New("input is empty")
	ErrEmptyOutput = errors.New("output text is missing")
)

// Input describes the payload for a summary request.
type Input struct {
	// Text is the full prompt body, already stuffed with every fragment.
	Text string
	// SourceURL is optional metadata that helps the model reference the origin.
	SourceURL string
}

// Summarizer produces a single summary for a given input text.
type Summarizer interface {
	Summarize(ctx context.Context, input Input) (string, error)
}
