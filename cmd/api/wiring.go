package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/call-negotiator/internal/channel"
	"github.com/capitalize-ai/call-negotiator/internal/config"
	"github.com/capitalize-ai/call-negotiator/internal/engine"
	"github.com/capitalize-ai/call-negotiator/internal/handler"
	"github.com/capitalize-ai/call-negotiator/internal/llm"
	natsclient "github.com/capitalize-ai/call-negotiator/internal/nats"
	"github.com/capitalize-ai/call-negotiator/internal/service"
	"github.com/capitalize-ai/call-negotiator/internal/store"
	"github.com/capitalize-ai/call-negotiator/internal/taskclient"
	"github.com/capitalize-ai/call-negotiator/internal/wsconn"
	"github.com/capitalize-ai/call-negotiator/pkg/logger"
)

// app holds the long-lived components in shutdown order.
type app struct {
	sessions  *service.SessionService
	backend   *taskclient.Client
	persister *store.Persister
	store     store.Store
	nats      *natsclient.Client
	checks    []handler.Checker
	logger    *logger.Logger
}

func build(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *app, err error) {
	a := &app{logger: log}
	defer func() {
		if err != nil {
			a.close(ctx)
		}
	}()

	a.backend, err = taskclient.New(taskclient.Config{
		BaseURL: cfg.BackendURL,
		Token:   cfg.BackendToken,
		Timeout: cfg.BackendTimeout,
	})
	if err != nil {
		return nil, err
	}

	if cfg.NeedsNATS() {
		a.nats, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return nil, err
		}
		a.checks = append(a.checks, a.nats)
	}

	a.store, err = openStore(ctx, cfg, log, a)
	if err != nil {
		return nil, err
	}

	mirrors, err := buildMirrors(ctx, cfg, a)
	if err != nil {
		return nil, err
	}
	a.persister = store.NewPersister(a.store, cfg.PersistDebounce, log, mirrors...)

	dialer, err := buildDialer(cfg, log, a)
	if err != nil {
		return nil, err
	}

	summarizer := buildSummarizer(cfg, log)

	opts := []engine.Option{
		engine.WithLogger(log),
		engine.WithMode(cfg.SessionMode),
		engine.WithStyle(cfg.Style),
		engine.WithSearchLimit(cfg.SearchLimit),
		engine.WithLocation(cfg.Location),
		engine.WithAnalysisFallback(cfg.AnalysisFallback),
		engine.WithRequestTimeout(cfg.BackendTimeout),
	}

	a.sessions = service.NewSessionService(cfg.SessionMode, func() (*engine.Engine, error) {
		deps := engine.Deps{
			Backend:     a.backend,
			Channel:     channel.New(dialer, log),
			Persistence: a.persister,
		}
		if summarizer != nil {
			deps.Summarizer = summarizer
		}
		return engine.New(deps, opts...)
	}, log)

	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger, a *app) (store.Store, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.StorePath, log)
	case "redis":
		rdb, err := store.NewRedisClient(ctx, store.RedisConfig{URL: cfg.RedisURL})
		if err != nil {
			return nil, err
		}
		a.checks = append(a.checks, handler.CheckFunc{Label: "redis", Fn: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		return store.NewRedisStore(rdb, cfg.SessionTTL), nil
	case "memory":
		log.Warn("using in-memory session store, sessions will not survive a restart")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func buildMirrors(ctx context.Context, cfg *config.Config, a *app) ([]store.Mirror, error) {
	var mirrors []store.Mirror
	for _, name := range cfg.Mirrors {
		switch name {
		case "backend":
			mirrors = append(mirrors, taskclient.NewSessionMirror(a.backend))
		case "nats":
			m, err := natsclient.NewSnapshotMirror(ctx, a.nats)
			if err != nil {
				return nil, err
			}
			mirrors = append(mirrors, m)
		}
	}
	return mirrors, nil
}

func buildDialer(cfg *config.Config, log *logger.Logger, a *app) (channel.Dialer, error) {
	switch cfg.RealtimeTransport {
	case "nats":
		return natsclient.NewCallEvents(a.nats), nil
	case "websocket":
		return wsconn.New(cfg.RealtimeURL, cfg.BackendToken, log), nil
	default:
		return nil, fmt.Errorf("unknown realtime transport %q", cfg.RealtimeTransport)
	}
}

// buildSummarizer returns nil when no LLM key is configured; research then
// keeps raw search snippets.
func buildSummarizer(cfg *config.Config, log *logger.Logger) *llm.ResearchSummarizer {
	keys := map[llm.Provider]string{
		llm.ProviderAnthropic: cfg.AnthropicAPIKey,
		llm.ProviderOpenAI:    cfg.OpenAIAPIKey,
	}

	order := []llm.Provider{llm.Provider(cfg.DefaultLLM), llm.ProviderAnthropic, llm.ProviderOpenAI}
	for _, p := range order {
		key := keys[p]
		if key == "" {
			continue
		}
		client, err := llm.NewClient(p, key)
		if err != nil {
			log.Warn("failed to create LLM client, research summaries disabled", zap.String("provider", string(p)), zap.Error(err))
			return nil
		}
		log.Info("research summaries enabled", zap.String("provider", client.Name()))
		return llm.NewResearchSummarizer(client, cfg.LLMModel)
	}
	return nil
}

func (a *app) close(ctx context.Context) {
	if a.sessions != nil {
		a.sessions.Close(ctx)
	}
	if a.persister != nil {
		a.persister.Close(ctx)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close session store", zap.Error(err))
		}
	}
	if a.nats != nil {
		a.nats.Close()
	}
}
