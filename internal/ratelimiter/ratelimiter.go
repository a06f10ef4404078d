// Package ratelimiter serializes outgoing Telegram requests and keeps a
// minimum gap between messages to the same chat.
package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	PrivateChatRate = time.Second
	GroupChatRate   = 3 * time.Second
	queueSize       = 1000
)

// API is the part of *tgbotapi.BotAPI the limiter drives.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type request struct {
	chattable tgbotapi.Chattable
	response  chan response
}

type response struct {
	message tgbotapi.Message
	err     error
}

type RateLimiter struct {
	api      API
	queue    chan request
	lastSent map[int64]time.Time
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	now      func() time.Time
	log      *slog.Logger
}

func New(api API, log *slog.Logger) *RateLimiter {
	ctx, cancel := context.WithCancel(context.Background())

	rl := &RateLimiter{
		api:      api,
		queue:    make(chan request, queueSize),
		lastSent: make(map[int64]time.Time),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		now:      time.Now,
		log:      log,
	}

	go rl.processQueue()

	return rl
}

// Send queues c and waits until it is sent, ctx is done or the limiter stops.
func (rl *RateLimiter) Send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	req := request{
		chattable: c,
		response:  make(chan response, 1),
	}

	if err := rl.ctx.Err(); err != nil {
		return tgbotapi.Message{}, fmt.Errorf("rate limiter is stopped: %w", err)
	}

	select {
	case rl.queue <- req:
	case <-ctx.Done():
		return tgbotapi.Message{}, ctx.Err()
	case <-rl.ctx.Done():
		return tgbotapi.Message{}, fmt.Errorf("rate limiter is stopped: %w", rl.ctx.Err())
	}

	select {
	case resp := <-req.response:
		return resp.message, resp.err
	case <-ctx.Done():
		return tgbotapi.Message{}, ctx.Err()
	case <-rl.done:
		return tgbotapi.Message{}, fmt.Errorf("rate limiter is stopped: %w", rl.ctx.Err())
	}
}

// Request bypasses the queue. It suits chat actions that carry no message.
func (rl *RateLimiter) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return rl.api.Request(c)
}

func (rl *RateLimiter) Stop() {
	rl.cancel()
	<-rl.done
}

func (rl *RateLimiter) processQueue() {
	defer close(rl.done)

	for {
		select {
		case req := <-rl.queue:
			rl.handleRequest(req)
		case <-rl.ctx.Done():
			for {
				select {
				case req := <-rl.queue:
					req.response <- response{err: rl.ctx.Err()}
				default:
					return
				}
			}
		}
	}
}

func (rl *RateLimiter) handleRequest(req request) {
	chatID := ChatID(req.chattable)

	rl.mu.Lock()
	lastSent, exists := rl.lastSent[chatID]
	rl.mu.Unlock()

	if exists {
		if delay := Delay(chatID, lastSent, rl.now()); delay > 0 {
			rl.log.DebugContext(rl.ctx, "Rate limiting message",
				"chatID", chatID,
				"delay", delay,
				"chattableType", fmt.Sprintf("%T", req.chattable),
				"queueLen", len(rl.queue))

			select {
			case <-time.After(delay):
			case <-rl.ctx.Done():
				req.response <- response{err: rl.ctx.Err()}
				return
			}
		}
	}

	message, err := rl.api.Send(req.chattable)

	rl.mu.Lock()
	rl.lastSent[chatID] = rl.now()
	rl.mu.Unlock()

	req.response <- response{
		message: message,
		err:     err,
	}
}

func ChatID(c tgbotapi.Chattable) int64 {
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		return m.ChatID
	case tgbotapi.EditMessageTextConfig:
		return m.ChatID
	case tgbotapi.DeleteMessageConfig:
		return m.ChatID
	case tgbotapi.ChatActionConfig:
		return m.ChatID
	default:
		return 0
	}
}

// Delay is how long a message to chatID must wait after lastSent.
// Group chats have negative IDs and a slower rate.
func Delay(chatID int64, lastSent time.Time, now time.Time) time.Duration {
	rate := PrivateChatRate
	if chatID < 0 {
		rate = GroupChatRate
	}

	return max(rate-now.Sub(lastSent), 0)
}
