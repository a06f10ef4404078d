package summarizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"
)

// CachingSummarizer answers repeated inputs from cache so identical requests
// get identical summaries.
type CachingSummarizer struct {
	next      Summarizer
	cache     Cache
	ttl       time.Duration
	namespace string
	log       *slog.Logger
}

// NewCachingSummarizer wraps next. namespace separates entries produced by
// different model settings. A nil cache or non-positive ttl disables caching.
func NewCachingSummarizer(
	next Summarizer,
	cache Cache,
	ttl time.Duration,
	namespace string,
	log *slog.Logger,
) Summarizer {
	if cache == nil || ttl <= 0 {
		return next
	}

	return &CachingSummarizer{
		next:      next,
		cache:     cache,
		ttl:       ttl,
		namespace: namespace,
		log:       log,
	}
}

func (s *CachingSummarizer) Summarize(ctx context.Context, input Input) (string, error) {
	key := cacheKey(s.namespace, input)
	if key == "" {
		return s.next.Summarize(ctx, input)
	}

	summary, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.WarnContext(ctx, "Failed to read summary cache",
			"error", err,
			"sourceURL", input.SourceURL)
	} else if ok {
		s.log.DebugContext(ctx, "Summary cache hit",
			"sourceURL", input.SourceURL)

		return summary, nil
	}

	summary, err = s.next.Summarize(ctx, input)
	if err != nil {
		return "", err
	}

	if err = s.cache.Set(ctx, key, summary, s.ttl); err != nil {
		s.log.WarnContext(ctx, "Failed to write summary cache",
			"error", err,
			"sourceURL", input.SourceURL)
	}

	return summary, nil
}

func cacheKey(namespace string, input Input) string {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return ""
	}

	h := sha256.New()
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(input.SourceURL)))
	h.Write([]byte{0})
	h.Write([]byte(text))

	return hex.EncodeToString(h.Sum(nil))
}
