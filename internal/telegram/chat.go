package telegram

import (
	"context"
	"errors"
	"fmt"
	"linksummary/internal/domain"
	"linksummary/internal/identity"
	"linksummary/internal/protocol"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// chatContext delivers handler replies to the chat the request came from.
type chatContext struct {
	bot       *Bot
	chatID    int64
	messageID int
	link      string
	log       *slog.Logger
}

func newChatContext(b *Bot, message *tgbotapi.Message, link string) *chatContext {
	return &chatContext{
		bot:       b,
		chatID:    message.Chat.ID,
		messageID: message.MessageID,
		link:      link,
		log: b.log.With(
			"chatID", message.Chat.ID,
			"messageID", message.MessageID),
	}
}

func (c *chatContext) Identity() *identity.Identity {
	return c.bot.id
}

func (c *chatContext) Sender() string {
	return "telegram:" + strconv.FormatInt(c.chatID, 10)
}

func (c *chatContext) Session() string {
	return strconv.FormatInt(c.chatID, 10) + ":" + strconv.Itoa(c.messageID)
}

func (c *chatContext) Logger() *slog.Logger {
	return c.log
}

func (c *chatContext) Send(ctx context.Context, _ string, msg protocol.Model) error {
	resp, ok := msg.(domain.SummaryResponse)
	if !ok {
		return fmt.Errorf("unsupported reply %T", msg)
	}

	// A request that ran out of time still gets its reply.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
		defer cancel()
	}

	return c.bot.sendText(ctx, c.chatID, formatReply(c.link, resp), c.messageID)
}
