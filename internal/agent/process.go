package agent

import (
	"context"
	"fmt"
	"linksummary/internal/database"
	"linksummary/internal/mailbox"
	"log/slog"
)

func (a *Agent) process(ctx context.Context, item mailbox.StoredEnvelope) {
	env := item.Envelope
	log := a.log.With(
		"envelopeUUID", item.UUID,
		"sender", env.Sender,
		"session", env.Session,
		"schemaDigest", env.SchemaDigest)

	// Acks and journal updates must complete even after shutdown starts.
	bookCtx, cancelBook := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancelBook()

	if err := a.accept(&env); err != nil {
		log.WarnContext(ctx, "Envelope is dropped",
			"error", err)
		a.ack(bookCtx, log, item.UUID)

		return
	}

	id := env.ID()
	log = log.With("envelopeID", id)

	if a.journal != nil {
		claimed, err := a.journal.BeginMessage(bookCtx, id, env.Sender, env.SchemaDigest, 2*a.opts.HandlerTimeout)
		if err != nil {
			log.ErrorContext(ctx, "Failed to claim envelope",
				"error", err)

			return
		}

		if !claimed {
			prev, getErr := a.journal.GetMessage(bookCtx, id)
			if getErr != nil {
				log.WarnContext(ctx, "Failed to get processed envelope",
					"error", getErr)
			}
			log.InfoContext(ctx, "Envelope is already processed",
				"previousStatus", prev.Status,
				"previousError", prev.Error,
				"startedAt", prev.StartedAt)
			a.ack(bookCtx, log, item.UUID)

			return
		}
	}

	err := a.dispatch(ctx, log, &env)

	if err != nil && ctx.Err() != nil {
		log.WarnContext(ctx, "Envelope is interrupted by shutdown",
			"error", err)

		if a.journal != nil {
			if releaseErr := a.journal.ReleaseMessage(bookCtx, id); releaseErr != nil {
				log.ErrorContext(bookCtx, "Failed to release envelope",
					"error", releaseErr)
			}
		}

		return
	}

	status, errText := database.StatusDone, ""
	if err != nil {
		status, errText = database.StatusFailed, err.Error()
		log.ErrorContext(ctx, "Failed to handle envelope",
			"error", err)
	} else {
		log.InfoContext(ctx, "Envelope is handled")
	}

	if a.journal != nil {
		if finishErr := a.journal.FinishMessage(bookCtx, id, status, errText); finishErr != nil {
			log.ErrorContext(ctx, "Failed to record envelope outcome",
				"error", finishErr,
				"status", status)
		}
	}

	a.ack(bookCtx, log, item.UUID)
}

func (a *Agent) accept(env *mailbox.Envelope) error {
	if env.Target != a.id.Address() {
		return fmt.Errorf("%w: %s", ErrWrongTarget, env.Target)
	}

	if env.Expired(a.now()) {
		return mailbox.ErrEnvelopeExpired
	}

	if err := env.Verify(); err != nil {
		return fmt.Errorf("verify envelope: %w", err)
	}

	return nil
}

func (a *Agent) dispatch(ctx context.Context, log *slog.Logger, env *mailbox.Envelope) error {
	payload, err := env.DecodePayload()
	if err != nil {
		return err
	}

	protocolDigest, _ := a.router.ProtocolDigest(env.SchemaDigest)

	handlerCtx, cancel := context.WithTimeout(ctx, a.opts.HandlerTimeout)
	defer cancel()

	c := &messageContext{
		agent:          a,
		parent:         ctx,
		sender:         env.Sender,
		session:        env.Session,
		protocolDigest: protocolDigest,
		log:            log,
	}

	if err = a.router.Dispatch(handlerCtx, c, env.SchemaDigest, payload); err != nil {
		return fmt.Errorf("dispatch envelope: %w", err)
	}

	return nil
}

func (a *Agent) ack(ctx context.Context, log *slog.Logger, uuid string) {
	if err := a.mailbox.Ack(ctx, uuid); err != nil {
		log.ErrorContext(ctx, "Failed to ack envelope",
			"error", err)
	}
}
