// Package telegram lets allowed Telegram users request link summaries from
// the same handler that serves agent messages.
package telegram

import (
	"context"
	"fmt"
	"linksummary/internal/domain"
	"linksummary/internal/identity"
	"linksummary/internal/protocol"
	"linksummary/internal/ratelimiter"
	"log/slog"
	"slices"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxBackoffSeconds         = 60
	initialBackoffSeconds     = 3
	backoffGrowthFactor       = 2
	resetOffsetBackoffSeconds = 30
	updateProcessingTimeout   = 3 * time.Minute
	replyTimeout              = 30 * time.Second

	BotUpdateTimeout = 60
)

// LinkHandler answers one link request through c.
type LinkHandler interface {
	Handle(ctx context.Context, c protocol.Context, req domain.LinkRequest) error
}

type messenger interface {
	Send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	Stop()
}

type Bot struct {
	api          *tgbotapi.BotAPI
	messenger    messenger
	handler      LinkHandler
	id           *identity.Identity
	allowedUsers []int64
	log          *slog.Logger
}

// New connects to the Bot API. An empty allowedUsers list allows everyone.
func New(
	token string,
	handler LinkHandler,
	id *identity.Identity,
	allowedUsers []int64,
	log *slog.Logger,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("create bot API: %w", err)
	}

	b := newBot(ratelimiter.New(api, log), handler, id, allowedUsers, log)
	b.api = api

	return b, nil
}

func newBot(
	m messenger,
	handler LinkHandler,
	id *identity.Identity,
	allowedUsers []int64,
	log *slog.Logger,
) *Bot {
	return &Bot{
		messenger:    m,
		handler:      handler,
		id:           id,
		allowedUsers: allowedUsers,
		log:          log.With("component", "telegram"),
	}
}

func (b *Bot) Start(ctx context.Context) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = BotUpdateTimeout

	backoffSeconds := initialBackoffSeconds

	for {
		select {
		case <-ctx.Done():
			b.log.InfoContext(ctx, "Bot context is done",
				"error", ctx.Err())
			return
		default:
		}

		updates := b.api.GetUpdatesChan(updateConfig)
		updatesClosed := false

		for !updatesClosed {
			select {
			case <-ctx.Done():
				b.api.StopReceivingUpdates()
				b.log.InfoContext(ctx, "Bot context is done",
					"error", ctx.Err())
				return

			case update, ok := <-updates:
				if !ok {
					updatesClosed = true
					continue
				}
				updateConfig.Offset = update.UpdateID + 1

				b.handleUpdate(ctx, &update)
			}
		}

		b.log.WarnContext(ctx, "Update channel is closed, reconnecting...",
			"offset", updateConfig.Offset,
			"backoffSeconds", backoffSeconds)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(backoffSeconds) * time.Second):
		}

		backoffSeconds = updateBackoffSeconds(backoffSeconds)

		if backoffSeconds >= resetOffsetBackoffSeconds {
			updateConfig.Offset = 0
		}
	}
}

func (b *Bot) Stop() {
	if b.messenger != nil {
		b.messenger.Stop()
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	updateCtx, cancel := context.WithTimeout(ctx, updateProcessingTimeout)
	defer cancel()

	message := update.Message
	chatID := message.Chat.ID
	userID := message.From.ID

	if !b.userAllowed(userID) {
		b.log.DebugContext(updateCtx, "User is not allowed",
			"userID", userID,
			"chatID", chatID,
			"username", message.From.UserName,
			"chatType", message.Chat.Type)

		return
	}

	if err := b.handleMessage(updateCtx, message); err != nil {
		b.log.ErrorContext(updateCtx, "Failed to handle message",
			"error", err,
			"chatID", chatID,
			"userID", userID,
			"chatType", message.Chat.Type,
			"messageID", message.MessageID)
	}
}

func (b *Bot) userAllowed(userID int64) bool {
	return len(b.allowedUsers) == 0 || slices.Contains(b.allowedUsers, userID)
}

func updateBackoffSeconds(backoffSeconds int) int {
	if backoffSeconds < maxBackoffSeconds {
		backoffSeconds *= backoffGrowthFactor
		if backoffSeconds > maxBackoffSeconds {
			backoffSeconds = maxBackoffSeconds
		}
	}
	return backoffSeconds
}
