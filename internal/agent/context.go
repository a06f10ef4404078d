package agent

import (
	"context"
	"errors"
	"fmt"
	"linksummary/internal/identity"
	"linksummary/internal/mailbox"
	"linksummary/internal/protocol"
	"log/slog"
	"math/rand/v2"

	"github.com/google/uuid"
)

// messageContext is what a handler sees while it handles one envelope.
// Replies stay in the session of the envelope being handled.
type messageContext struct {
	agent          *Agent
	// parent is the agent context the handler deadline was derived from.
	parent         context.Context
	sender         string
	session        string
	protocolDigest string
	log            *slog.Logger
}

func (c *messageContext) Identity() *identity.Identity {
	return c.agent.id
}

func (c *messageContext) Sender() string {
	return c.sender
}

func (c *messageContext) Session() string {
	return c.session
}

func (c *messageContext) Logger() *slog.Logger {
	return c.log
}

func (c *messageContext) Send(ctx context.Context, destination string, msg protocol.Model) error {
	session := c.session
	if session == "" {
		session = newSession()
	}

	// A handler that ran out of time still delivers its reply unless the
	// agent is stopping.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && c.parent.Err() == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
		defer cancel()
	}

	return c.agent.send(ctx, destination, session, c.protocolDigest, msg)
}

func (a *Agent) send(
	ctx context.Context,
	destination string,
	session string,
	protocolDigest string,
	msg protocol.Model,
) error {
	if _, err := identity.PublicKey(destination); err != nil {
		return fmt.Errorf("check destination: %w", err)
	}

	schemaDigest, payload, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	env := &mailbox.Envelope{
		Version:        mailbox.EnvelopeVersion,
		Target:         destination,
		Session:        session,
		SchemaDigest:   schemaDigest,
		ProtocolDigest: protocolDigest,
		Expires:        a.now().Add(a.opts.EnvelopeTTL).Unix(),
		Nonce:          rand.Int64(),
	}
	env.EncodePayload(payload)
	env.Seal(a.id)

	if err = a.mailbox.Submit(ctx, env); err != nil {
		return err
	}

	a.log.DebugContext(ctx, "Envelope is submitted",
		"target", destination,
		"session", session,
		"schemaDigest", schemaDigest)

	return nil
}

func newSession() string {
	return uuid.NewString()
}
