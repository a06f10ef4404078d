package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultRegistrationSpec = "@every 1h"
	DefaultPruneSpec        = "0 3 * * *"
	Timezone                = "UTC"
	TimezoneOffsetSeconds   = 0
	registerTimeout         = time.Minute
	pruneTimeout            = 5 * time.Minute
)

type Registrar interface {
	Register(ctx context.Context) error
}

type Pruner interface {
	PruneMessages(ctx context.Context, cutoff time.Time) (int64, error)
}

type Options struct {
	RegistrationSpec string
	PruneSpec        string
	// Retention is how long finished journal rows are kept. Zero disables pruning.
	Retention time.Duration
}

type Scheduler struct {
	ctx       context.Context
	cron      *cron.Cron
	registrar Registrar
	pruner    Pruner
	opts      Options
	log       *slog.Logger
}

// New builds a scheduler. pruner may be nil.
func New(
	ctx context.Context,
	registrar Registrar,
	pruner Pruner,
	opts Options,
	log *slog.Logger,
) *Scheduler {
	if opts.RegistrationSpec == "" {
		opts.RegistrationSpec = DefaultRegistrationSpec
	}
	if opts.PruneSpec == "" {
		opts.PruneSpec = DefaultPruneSpec
	}

	c := cron.New(cron.WithLocation(time.FixedZone(Timezone, TimezoneOffsetSeconds)))

	return &Scheduler{
		ctx:       ctx,
		cron:      c,
		registrar: registrar,
		pruner:    pruner,
		opts:      opts,
		log:       log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.opts.RegistrationSpec, s.register); err != nil {
		return fmt.Errorf("add registration job (spec = %s): %w", s.opts.RegistrationSpec, err)
	}

	if s.pruner != nil && s.opts.Retention > 0 {
		if _, err := s.cron.AddFunc(s.opts.PruneSpec, s.prune); err != nil {
			return fmt.Errorf("add prune job (spec = %s): %w", s.opts.PruneSpec, err)
		}
	}

	s.cron.Start()

	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) register() {
	ctx, cancel := context.WithTimeout(s.ctx, registerTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())
		return
	default:
	}

	if err := s.registrar.Register(ctx); err != nil {
		s.log.ErrorContext(ctx, "Failed to refresh registration",
			"error", err,
			"spec", s.opts.RegistrationSpec)
	}
}

func (s *Scheduler) prune() {
	ctx, cancel := context.WithTimeout(s.ctx, pruneTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())
		return
	default:
	}

	cutoff := time.Now().Add(-s.opts.Retention)

	deleted, err := s.pruner.PruneMessages(ctx, cutoff)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to prune journal",
			"error", err,
			"cutoff", cutoff)

		return
	}

	s.log.InfoContext(ctx, "Journal is pruned",
		"deleted", deleted,
		"cutoff", cutoff)
}
