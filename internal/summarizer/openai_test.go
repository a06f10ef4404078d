package summarizer_test

import (
	"context"
	"encoding/json"
	"errors"
	"linksummary/internal/summarizer"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type chatRequest struct {
	Model               string   `json:"model"`
	Temperature         *float64 `json:"temperature"`
	MaxCompletionTokens int64    `json:"max_completion_tokens"`
	Messages            []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatCompletion(content, finishReason string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   summarizer.DefaultModel,
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": finishReason,
			"message": map[string]any{
				"role":    "assistant",
				"content": content,
			},
		}},
	}
}

type fakeOpenAI struct {
	mu        sync.Mutex
	requests  []chatRequest
	responses []map[string]any
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	idx := len(f.requests)
	f.requests = append(f.requests, req)
	resp := f.responses[min(idx, len(f.responses)-1)]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newOpenAISummarizer(t *testing.T, srv *httptest.Server) *summarizer.OpenAISummarizer {
	t.Helper()

	s, err := summarizer.NewOpenAISummarizer(summarizer.OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/",
	})
	if err != nil {
		t.Fatalf("NewOpenAISummarizer: %v", err)
	}

	return s
}

func TestOpenAISummarizerSendsDeterministicRequest(t *testing.T) {
	fake := &fakeOpenAI{responses: []map[string]any{chatCompletion(" A short summary. ", "stop")}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s := newOpenAISummarizer(t, srv)

	got, err := s.Summarize(context.Background(), summarizer.Input{
		Text:      "Write a concise summary of the following text",
		SourceURL: "https://example.com/article",
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "A short summary." {
		t.Fatalf("unexpected summary: %q", got)
	}

	if len(fake.requests) != 1 {
		t.Fatalf("expected one request, got %d", len(fake.requests))
	}

	req := fake.requests[0]
	if req.Model != summarizer.DefaultModel {
		t.Fatalf("unexpected model: %q", req.Model)
	}
	if req.Temperature == nil || *req.Temperature != 0 {
		t.Fatalf("expected temperature 0, got %v", req.Temperature)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages: %+v", req.Messages)
	}
	if !strings.Contains(req.Messages[1].Content, "https://example.com/article") {
		t.Fatalf("expected source url in user prompt: %q", req.Messages[1].Content)
	}
}

func TestOpenAISummarizerRetriesWithLargerBudget(t *testing.T) {
	fake := &fakeOpenAI{responses: []map[string]any{
		chatCompletion("partial", "length"),
		chatCompletion("complete", "stop"),
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s := newOpenAISummarizer(t, srv)

	got, err := s.Summarize(context.Background(), summarizer.Input{Text: "long text"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "complete" {
		t.Fatalf("unexpected summary: %q", got)
	}

	if len(fake.requests) != 2 {
		t.Fatalf("expected two requests, got %d", len(fake.requests))
	}
	if fake.requests[1].MaxCompletionTokens <= fake.requests[0].MaxCompletionTokens {
		t.Fatalf("expected larger budget on retry: %d then %d",
			fake.requests[0].MaxCompletionTokens, fake.requests[1].MaxCompletionTokens)
	}
}

func TestOpenAISummarizerRejectsEmptyOutput(t *testing.T) {
	fake := &fakeOpenAI{responses: []map[string]any{chatCompletion("   ", "stop")}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s := newOpenAISummarizer(t, srv)

	_, err := s.Summarize(context.Background(), summarizer.Input{Text: "text"})
	if !errors.Is(err, summarizer.ErrEmptyOutput) {
		t.Fatalf("expected ErrEmptyOutput, got %v", err)
	}
}

func TestOpenAISummarizerRejectsEmptyInput(t *testing.T) {
	s, err := summarizer.NewOpenAISummarizer(summarizer.OpenAIConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAISummarizer: %v", err)
	}

	if _, err = s.Summarize(context.Background(), summarizer.Input{Text: "  "}); !errors.Is(err, summarizer.ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestNewOpenAISummarizerRequiresKey(t *testing.T) {
	if _, err := summarizer.NewOpenAISummarizer(summarizer.OpenAIConfig{}); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
