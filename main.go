package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/meridian-lab/fathom/internal/config"
	"github.com/meridian-lab/fathom/internal/db"
	"github.com/meridian-lab/fathom/internal/dialogue"
	"github.com/meridian-lab/fathom/internal/health"
	"github.com/meridian-lab/fathom/internal/httpapi"
	"github.com/meridian-lab/fathom/internal/llm"
	"github.com/meridian-lab/fathom/internal/ratecontrol"
	"github.com/meridian-lab/fathom/internal/resilience"
	"github.com/meridian-lab/fathom/internal/search"
	"github.com/meridian-lab/fathom/internal/session"
	"github.com/meridian-lab/fathom/internal/streaming"
	"github.com/meridian-lab/fathom/internal/tracing"
	"github.com/meridian-lab/fathom/internal/workflows"
)

func main() {
	cfg, err := cfgpkg.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	shutdownTracing, err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}
	if shutdownTracing != nil {
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				logger.Warn("Tracing shutdown failed", zap.Error(err))
			}
		}()
	}

	sessions, err := session.NewManager(session.Config{
		RedisURL:         cfg.Redis.URL,
		TTL:              cfg.Session.TTL,
		MaxLocalSessions: cfg.Session.MaxLocalSessions,
		Breaker:          cfg.CircuitBreakers.Redis.Breaker(),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect session store", zap.Error(err))
	}
	defer sessions.Close()

	events := streaming.NewManager(streaming.Config{
		RingSize:         cfg.Streaming.RingSize,
		SubscriberBuffer: cfg.Streaming.SubscriberBuffer,
	})

	executor := resilience.NewExecutor(&streaming.RetryObserver{Events: events}, logger)
	policy := resilience.NewPolicy(cfg.Resilience.MaxRetries, cfg.Resilience.BaseDelay)
	policy.RateLimitInterval = cfg.Resilience.RateLimitInterval
	policy.CallTimeout = cfg.Resilience.CallTimeout

	budgets := ratecontrol.NewManager(cfg.RateLimits.Path, logger)
	watcher, err := cfgpkg.NewWatcher(cfg.RateLimits.Path, logger)
	if err != nil {
		logger.Warn("Rate limit watcher unavailable", zap.Error(err))
	} else {
		watcher.OnReload(budgets.Reload)
		if err := watcher.Start(); err != nil {
			logger.Warn("Rate limit watcher failed to start", zap.Error(err))
		}
		defer watcher.Stop()
	}

	var providers []search.Provider
	if cfg.Search.Arxiv.Enabled {
		providers = append(providers, &search.ArxivProvider{})
	}
	if cfg.Search.Web.Enabled {
		providers = append(providers, &search.WebProvider{BaseURL: cfg.Search.Web.BaseURL})
	}
	if cfg.Search.Social.Enabled {
		providers = append(providers, &search.SocialProvider{BaseURL: cfg.Search.Social.BaseURL})
	}
	if len(providers) == 0 {
		logger.Warn("No search providers enabled; searches will return empty results")
	}

	aggregator := search.NewAggregator(search.Config{
		PerTermLimit:   cfg.Search.PerTermLimit,
		InterTermDelay: cfg.Search.InterTermDelay,
		FallbackTerms:  cfg.Search.FallbackTerms,
		Retry:          policy,
	}, providers, executor, budgets, logger)

	completer := llm.NewClient(llm.Config{
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.DefaultModel,
		MaxTokens:    cfg.LLM.MaxTokens,
		Timeout:      cfg.LLM.Timeout,
	}, logger)

	engine := dialogue.NewEngine(dialogue.Config{
		MaxRounds:    cfg.Dialogue.MaxRounds,
		HistoryTurns: cfg.Dialogue.HistoryTurns,
	}, dialogue.NewCompletionInvoker(completer, logger), completer, executor, policy, logger)

	deps := workflows.Dependencies{
		Sessions: sessions,
		Search:   aggregator,
		LLM:      completer,
		Dialogue: engine,
		Events:   events,
		Executor: executor,
		Logger:   logger,
	}

	var archive *db.Client
	if cfg.Database.Enabled {
		archive, err = db.NewClient(db.Config{
			URL:             cfg.Database.URL,
			QueueSize:       cfg.Database.QueueSize,
			Workers:         cfg.Database.Workers,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			Breaker:         cfg.CircuitBreakers.Database.Breaker(),
		}, logger)
		if err != nil {
			logger.Fatal("Failed to connect archive database", zap.Error(err))
		}
		defer archive.Close()
		deps.Archive = archive
	} else {
		logger.Info("Archive database disabled; completed sessions live only in the session store")
	}

	controller := workflows.NewController(workflows.Config{
		TopResults: cfg.Search.TopResults,
		Retry:      policy,
	}, deps)

	hm := health.NewManager(cfg.Health.CheckInterval, logger)
	_ = hm.Register(health.NewRedisChecker(sessions, cfg.Health.Timeout))
	_ = hm.Register(health.NewSidecarChecker(completer, cfg.Health.Timeout))
	if archive != nil {
		_ = hm.Register(health.NewDatabaseChecker(archive, cfg.Health.Timeout))
	}
	hm.Start()
	defer hm.Stop()

	api := httpapi.NewServer(controller, events, health.NewHTTPHandler(hm, logger), logger)
	httpServer := httpapi.NewHTTPServer(cfg.Service, api)

	go func() {
		logger.Info("Research orchestrator listening",
			zap.Int("port", cfg.Service.Port),
			zap.Int("search_providers", len(providers)),
			zap.Bool("archive", archive != nil),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down research orchestrator")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Service.GracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
}

// buildLogger constructs the process logger from config. Level parse
// failures fall back to info rather than refusing to start.
func buildLogger(cfg cfgpkg.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		if lvl, err := zap.ParseAtomicLevel(cfg.Level); err == nil {
			zc.Level = lvl
		}
	}
	return zc.Build()
}
