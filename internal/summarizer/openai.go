package summarizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	DefaultModel = "gpt-3.5-turbo-1106"

	baseMaxOutputTokens  int64 = 512
	limitMaxOutputTokens int64 = 2048

	finishReasonLength = "length"

	systemPrompt = `You summarize web pages.

Rules:
- Use only the provided content; never add outside knowledge.
- Keep the key facts: names, dates, numbers, conclusions.
- Skip navigation, cookie banners, ads and footers.
- Answer in the same language as the content.`
)

type OpenAIConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	BaseURL     string
	// MaxRetries overrides the client default when positive.
	MaxRetries int
}

// OpenAISummarizer calls OpenAI's Chat Completions API to produce summaries.
type OpenAISummarizer struct {
	client      openai.Client
	model       string
	temperature float64
}

// NewOpenAISummarizer builds a new summarizer instance.
func NewOpenAISummarizer(cfg OpenAIConfig) (*OpenAISummarizer, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("API key is empty")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	return &OpenAISummarizer{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

func (s *OpenAISummarizer) Model() string {
	return s.model
}

// Summarize sends the whole input in one request and doubles the output
// budget while the model stops on the token limit.
func (s *OpenAISummarizer) Summarize(
	ctx context.Context,
	input Input,
) (string, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return "", ErrEmptyInput
	}

	userPromptBuilder := strings.Builder{}
	if sourceURL := strings.TrimSpace(input.SourceURL); sourceURL != "" {
		userPromptBuilder.WriteString("Source:\n")
		userPromptBuilder.WriteString(sourceURL)
		userPromptBuilder.WriteString("\n")
	}
	userPromptBuilder.WriteString(text)

	maxOutputTokens := baseMaxOutputTokens
	for {
		resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:               s.model,
			Temperature:         openai.Float(s.temperature),
			MaxCompletionTokens: openai.Int(maxOutputTokens),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(systemPrompt),
				openai.UserMessage(userPromptBuilder.String()),
			},
		})
		if err != nil {
			return "", fmt.Errorf("do request: %w", err)
		}

		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("%w: no choices", ErrEmptyOutput)
		}

		choice := resp.Choices[0]
		if choice.FinishReason == finishReasonLength {
			if maxOutputTokens < limitMaxOutputTokens {
				maxOutputTokens = min(maxOutputTokens*2, limitMaxOutputTokens)
				continue
			}

			return "", fmt.Errorf(
				"response is incomplete (reason = %s, maxOutputTokens = %d)",
				choice.FinishReason,
				maxOutputTokens,
			)
		}

		summary := strings.TrimSpace(choice.Message.Content)
		if summary == "" {
			return "", fmt.Errorf("%w (finishReason = %s)", ErrEmptyOutput, choice.FinishReason)
		}

		return summary, nil
	}
}
