package main

import (
	"context"
	"errors"
	"io/fs"
	"linksummary/internal/agent"
	"linksummary/internal/chain"
	"linksummary/internal/config"
	"linksummary/internal/database"
	"linksummary/internal/identity"
	"linksummary/internal/linksummary"
	"linksummary/internal/loader"
	"linksummary/internal/mailbox"
	"linksummary/internal/scheduler"
	"linksummary/internal/summarizer"
	"linksummary/internal/telegram"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WarnContext(ctx, "Failed to load .env file",
			"error", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.ErrorContext(ctx, "Failed to load config",
			"error", err)

		return 1
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	id, err := identity.FromSeed(cfg.AgentName, cfg.AgentSeed)
	if err != nil {
		log.ErrorContext(ctx, "Failed to derive identity",
			"error", err,
			"agent", cfg.AgentName)

		return 1
	}
	log.InfoContext(ctx, "Identity is derived",
		"agent", id.Name(),
		"address", id.Address())

	handler, err := initHandler(ctx, cfg, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize handler",
			"error", err)

		return 1
	}
	defer handler.close()

	proto, err := linksummary.NewProtocol(handler.Handler, cfg.ProtocolName, cfg.ProtocolVersion)
	if err != nil {
		log.ErrorContext(ctx, "Failed to build protocol",
			"error", err,
			"protocol", cfg.ProtocolName)

		return 1
	}

	db, err := database.New(ctx, cfg.DBPath, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize db",
			"error", err,
			"dbPath", cfg.DBPath)

		return 1
	}
	defer func() {
		if err = db.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}()
	log.InfoContext(ctx, "DB is initialized",
		"dbPath", cfg.DBPath)

	mb := mailbox.NewClient(cfg.MailboxURL, cfg.MailboxKey, log)

	agentInst := agent.New(id, mb, db, agent.Options{
		PollInterval:   cfg.PollInterval,
		HandlerTimeout: cfg.HandlerTimeout,
		MaxConcurrency: cfg.MaxConcurrency,
		EnvelopeTTL:    cfg.EnvelopeTTL,
	}, log)

	if err = agentInst.Include(proto, cfg.PublishManifest); err != nil {
		log.ErrorContext(ctx, "Failed to include protocol",
			"error", err,
			"protocol", proto.Name())

		return 1
	}

	sched := scheduler.New(ctx, agentInst, db, scheduler.Options{
		RegistrationSpec: cfg.RegistrationSpec,
		PruneSpec:        cfg.PruneSpec,
		Retention:        cfg.JournalRetention,
	}, log)

	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"spec", cfg.RegistrationSpec)

		return 1
	}
	defer sched.Stop()
	log.InfoContext(ctx, "Scheduler is started",
		"spec", cfg.RegistrationSpec,
		"pruneSpec", cfg.PruneSpec,
		"journalRetention", cfg.JournalRetention)

	go agentInst.Start(ctx)
	log.InfoContext(ctx, "Agent is started",
		"mailboxURL", cfg.MailboxURL,
		"pollInterval", cfg.PollInterval,
		"maxConcurrency", cfg.MaxConcurrency)

	if cfg.TelegramToken != "" {
		botInst, botErr := telegram.New(cfg.TelegramToken, handler.Handler, id, cfg.AllowedUsers, log)
		if botErr != nil {
			log.ErrorContext(ctx, "Failed to initialize bot",
				"error", botErr,
				"allowedUsersCount", len(cfg.AllowedUsers))

			return 1
		}
		defer botInst.Stop()

		go botInst.Start(ctx)
		log.InfoContext(ctx, "Bot is started",
			"allowedUsersCount", len(cfg.AllowedUsers),
			"updateTimeoutSeconds", telegram.BotUpdateTimeout)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.InfoContext(ctx, "Shutdown signal is received",
		"signal", sig.String())
	cancel()

	agentInst.Stop()
	log.InfoContext(ctx, "Agent is stopped",
		"signal", sig.String(),
		"uptimeSeconds", time.Since(start).Seconds())

	return 0
}

type handlerDeps struct {
	*linksummary.Handler
	closers []func() error
}

func (h *handlerDeps) close() {
	for _, closeFn := range h.closers {
		if err := closeFn(); err != nil {
			slog.Error("Failed to close handler dependency",
				"error", err)
		}
	}
}

func initHandler(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *handlerDeps, err error) {
	deps := &handlerDeps{}
	defer func() {
		if err != nil {
			deps.close()
		}
	}()

	l, err := loader.New(loader.Options{
		Format:   loader.Format(cfg.LoaderFormat),
		Timeout:  cfg.FetchTimeout,
		MaxBytes: cfg.FetchMaxBytes,
	}, log)
	if err != nil {
		return nil, err
	}

	model, err := summarizer.NewOpenAISummarizer(summarizer.OpenAIConfig{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.OpenAIModel,
		Temperature: cfg.OpenAITemperature,
		BaseURL:     cfg.OpenAIBaseURL,
	})
	if err != nil {
		return nil, err
	}
	log.InfoContext(ctx, "OpenAI summarizer is initialized",
		"provider", "openai",
		"model", model.Model(),
		"temperature", cfg.OpenAITemperature)

	var cache summarizer.Cache
	if cfg.RedisAddr != "" {
		redisCache, redisErr := summarizer.NewRedisCache(ctx, cfg.RedisAddr)
		if redisErr != nil {
			return nil, redisErr
		}
		deps.closers = append(deps.closers, redisCache.Close)
		cache = redisCache

		log.InfoContext(ctx, "Redis summary cache is connected",
			"redisAddr", cfg.RedisAddr)
	} else {
		cache = summarizer.NewMemoryCache(cfg.SummaryCacheSize)
	}

	namespace := model.Model() + "|" + strconv.FormatFloat(cfg.OpenAITemperature, 'f', -1, 64)
	s := summarizer.NewCachingSummarizer(model, cache, cfg.SummaryCacheTTL, namespace, log)

	stuffChain, err := chain.NewStuffChain(ctx, s)
	if err != nil {
		return nil, err
	}

	deps.Handler = linksummary.NewHandler(l, stuffChain, log)

	return deps, nil
}
