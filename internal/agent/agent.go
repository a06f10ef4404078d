// Package agent runs the mailbox loop: it registers the agent, polls for
// envelopes, dispatches them to protocol handlers and sends replies.
package agent

import (
	"context"
	"errors"
	"fmt"
	"linksummary/internal/database"
	"linksummary/internal/identity"
	"linksummary/internal/mailbox"
	"linksummary/internal/protocol"
	"log/slog"
	"sync"
	"time"
)

const (
	maxBackoffSeconds     = 60
	initialBackoffSeconds = 3
	backoffGrowthFactor   = 2

	defaultPollInterval   = 5 * time.Second
	defaultHandlerTimeout = 2 * time.Minute
	defaultMaxConcurrency = 8
	defaultEnvelopeTTL    = time.Hour
	bookkeepingTimeout    = 10 * time.Second
	replyTimeout          = 30 * time.Second
)

var ErrWrongTarget = errors.New("envelope is addressed to another agent")

type Mailbox interface {
	Endpoint() string
	Submit(ctx context.Context, env *mailbox.Envelope) error
	Poll(ctx context.Context) ([]mailbox.StoredEnvelope, error)
	Ack(ctx context.Context, uuid string) error
	Register(ctx context.Context, reg mailbox.Registration) error
	PublishManifest(ctx context.Context, agentAddress string, m protocol.Manifest) error
}

// Journal remembers processed envelopes so redeliveries are not handled twice.
type Journal interface {
	BeginMessage(ctx context.Context, id, sender, schemaDigest string, staleAfter time.Duration) (bool, error)
	FinishMessage(ctx context.Context, id string, status database.Status, errText string) error
	ReleaseMessage(ctx context.Context, id string) error
	GetMessage(ctx context.Context, id string) (database.Message, error)
}

type Options struct {
	PollInterval   time.Duration
	HandlerTimeout time.Duration
	MaxConcurrency int
	EnvelopeTTL    time.Duration
}

type Agent struct {
	id      *identity.Identity
	mailbox Mailbox
	journal Journal
	router  *protocol.Router
	opts    Options
	log     *slog.Logger

	publishMu sync.Mutex
	publish   []*protocol.Protocol

	sem      chan struct{}
	wg       sync.WaitGroup
	inFlight sync.Map

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time
}

// New builds an agent. journal may be nil, in which case redeliveries are
// handled again.
func New(
	id *identity.Identity,
	mb Mailbox,
	journal Journal,
	opts Options,
	log *slog.Logger,
) *Agent {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = defaultHandlerTimeout
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrency
	}
	if opts.EnvelopeTTL <= 0 {
		opts.EnvelopeTTL = defaultEnvelopeTTL
	}

	return &Agent{
		id:      id,
		mailbox: mb,
		journal: journal,
		router:  protocol.NewRouter(),
		opts:    opts,
		log:     log.With("agent", id.Name(), "address", id.Address()),
		sem:     make(chan struct{}, opts.MaxConcurrency),
		now:     time.Now,
	}
}

func (a *Agent) Identity() *identity.Identity {
	return a.id
}

// Include routes the handlers of p. With publishManifest set, the protocol
// manifest is published on every registration.
func (a *Agent) Include(p *protocol.Protocol, publishManifest bool) error {
	if err := a.router.Include(p); err != nil {
		return fmt.Errorf("include protocol (name = %s): %w", p.Name(), err)
	}

	if publishManifest {
		a.publishMu.Lock()
		a.publish = append(a.publish, p)
		a.publishMu.Unlock()
	}

	return nil
}

// Register announces the agent and its protocols to the directory service and
// publishes the manifests of protocols included for publication.
func (a *Agent) Register(ctx context.Context) error {
	protocols := a.router.Protocols()

	digests := make([]string, 0, len(protocols))
	for _, p := range protocols {
		digest, err := p.Digest()
		if err != nil {
			return fmt.Errorf("compute protocol digest (name = %s): %w", p.Name(), err)
		}
		digests = append(digests, digest)
	}

	reg := mailbox.Registration{
		Name:      a.id.Name(),
		Endpoints: []mailbox.Endpoint{{URL: a.mailbox.Endpoint(), Weight: 1}},
		Protocols: digests,
		Timestamp: a.now().Unix(),
	}
	reg.Sign(a.id)

	var errs []error

	if err := a.mailbox.Register(ctx, reg); err != nil {
		errs = append(errs, err)
	}

	a.publishMu.Lock()
	publish := append([]*protocol.Protocol(nil), a.publish...)
	a.publishMu.Unlock()

	for _, p := range publish {
		m, err := p.Manifest()
		if err != nil {
			errs = append(errs, fmt.Errorf("build manifest (protocol = %s): %w", p.Name(), err))
			continue
		}

		if err = a.mailbox.PublishManifest(ctx, a.id.Address(), m); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	a.log.InfoContext(ctx, "Agent is registered",
		"protocols", digests,
		"publishedManifests", len(publish))

	return nil
}

// Start registers the agent and polls the mailbox until ctx is done or Stop
// is called. It returns once every in-flight envelope is handled.
func (a *Agent) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	a.mu.Lock()
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	defer func() {
		a.wg.Wait()
		cancel()
		close(done)
	}()

	if err := a.Register(ctx); err != nil {
		a.log.ErrorContext(ctx, "Failed to register agent",
			"error", err)
	}

	backoffSeconds := initialBackoffSeconds

	for {
		delay := a.opts.PollInterval

		if err := a.poll(ctx); err != nil {
			if ctx.Err() != nil {
				a.log.InfoContext(ctx, "Agent context is done",
					"error", ctx.Err())
				return
			}

			delay = time.Duration(backoffSeconds) * time.Second
			a.log.WarnContext(ctx, "Failed to poll mailbox",
				"error", err,
				"backoffSeconds", backoffSeconds)

			backoffSeconds = updateBackoffSeconds(backoffSeconds)
		} else {
			backoffSeconds = initialBackoffSeconds
		}

		select {
		case <-ctx.Done():
			a.log.InfoContext(ctx, "Agent context is done",
				"error", ctx.Err())
			return
		case <-time.After(delay):
		}
	}
}

// Stop cancels polling and waits for in-flight envelopes.
func (a *Agent) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

// Send starts a new session with destination.
func (a *Agent) Send(ctx context.Context, destination string, msg protocol.Model) error {
	return a.send(ctx, destination, newSession(), "", msg)
}

func (a *Agent) poll(ctx context.Context) error {
	items, err := a.mailbox.Poll(ctx)
	if err != nil {
		return err
	}

	for _, item := range items {
		if _, busy := a.inFlight.LoadOrStore(item.UUID, struct{}{}); busy {
			continue
		}

		select {
		case a.sem <- struct{}{}:
		case <-ctx.Done():
			a.inFlight.Delete(item.UUID)
			return ctx.Err()
		}

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer func() { <-a.sem }()
			defer a.inFlight.Delete(item.UUID)

			a.process(ctx, item)
		}()
	}

	return nil
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
