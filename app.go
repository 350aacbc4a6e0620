package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ireland-samantha/relaybot/internal/completion"
	"github.com/ireland-samantha/relaybot/internal/config"
	"github.com/ireland-samantha/relaybot/internal/logging"
	"github.com/ireland-samantha/relaybot/internal/metrics"
	"github.com/ireland-samantha/relaybot/internal/relay"
	"github.com/ireland-samantha/relaybot/internal/speech"
	"github.com/ireland-samantha/relaybot/internal/storage"
	"github.com/ireland-samantha/relaybot/internal/telegram"
)

// app holds the wired components shared by every command.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	registry   *prometheus.Registry
	sink       storage.Sink
	api        *telegram.APIClient
	dispatcher *telegram.Dispatcher
}

func newApp(ctx context.Context, configFile string) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		"provider", cfg.Completion.Provider,
		"model", cfg.Completion.Model,
		"storage", cfg.Storage.Backend,
		"context", cfg.Context.Enabled,
		"voice", cfg.Voice.Enabled,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(registry); err != nil {
		return nil, err
	}

	sink, err := storage.NewSink(cfg)
	if err != nil {
		return nil, err
	}

	store := storage.NewContextStore(ctx, sink,
		storage.WithMaxTurns(cfg.Context.MaxTurns),
		storage.WithTracking(cfg.Context.Enabled),
		storage.WithLogger(logger),
	)
	metrics.SetConversations(store.Len())

	provider, err := completion.NewProvider(cfg)
	if err != nil {
		return nil, err
	}

	prompts := completion.NewPrompts(cfg.Persona.OwnerName, cfg.Persona.OwnerNameGenitive)
	service := relay.NewService(store, provider, prompts, relay.Options{
		WindowPairs:   cfg.Context.WindowPairs,
		MaxInputChars: cfg.Context.MaxInputChars,
		EmptyRetries:  1,
	}, logger)

	api := telegram.NewAPIClient(nil, cfg.Telegram.APIURL, cfg.Telegram.Token, logger)

	var sp telegram.Speech
	if cfg.Voice.Enabled {
		client, err := speech.NewFromConfig(cfg, logger)
		if err != nil {
			return nil, err
		}
		sp = client
	}

	handler := telegram.NewHandler(api, service, sp, cfg.Voice, cfg.Completion.APIKey != "", logger)
	dispatcher := telegram.NewDispatcher(handler, cfg.MaxConcurrentUpdates, logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		sink:       sink,
		api:        api,
		dispatcher: dispatcher,
	}, nil
}

func (a *app) metricsHandler() http.Handler {
	return metrics.Handler(a.registry)
}

// drain waits for in-flight updates before exit.
func (a *app) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.dispatcher.Wait(ctx); err != nil {
		a.logger.Warn("shutdown timed out with updates still in flight", "error", err)
	}
	a.logger.Info("relaybot stopped")
}

func (a *app) close() {
	if c, ok := a.sink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("failed to close storage", "error", err)
		}
	}
}
