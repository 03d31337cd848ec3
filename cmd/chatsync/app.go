package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MikeSquared-Agency/chatsync/internal/chatapi"
	"github.com/MikeSquared-Agency/chatsync/internal/config"
	"github.com/MikeSquared-Agency/chatsync/internal/hermes"
	"github.com/MikeSquared-Agency/chatsync/internal/scrape"
	"github.com/MikeSquared-Agency/chatsync/internal/slack"
	"github.com/MikeSquared-Agency/chatsync/internal/store"
	"github.com/MikeSquared-Agency/chatsync/internal/syncer"
	"github.com/MikeSquared-Agency/chatsync/internal/uploader"
)

// app holds the wired components shared by every command.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	state   store.Store
	scraper *scrape.Scraper
	hermes  *hermes.Client
	orch    *syncer.Orchestrator
}

type appOptions struct {
	// interactive enables the terminal prompt as the last connection lookup.
	interactive bool
	// events connects to NATS when NATS_URL is set.
	events bool
	stdin   io.Reader
	stderr  io.Writer
}

func newApp(ctx context.Context, cfg config.Config, opts appOptions, logger *slog.Logger) (*app, error) {
	st, err := store.Open(ctx, cfg.StateDSN)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, state: st}

	fallbacks := []config.Store{config.EnvStore{}}
	if opts.interactive {
		fallbacks = append(fallbacks, config.NewPromptStore(opts.stderr, opts.stdin))
	}
	resolver := config.NewResolver(logger, config.NewTOMLStore(cfg.ConnectionFile), fallbacks...)

	a.scraper = scrape.New(cfg.PageSource, logger)

	syncOpts := syncer.Options{
		ChatBaseURL: cfg.ChatAPIURL,
		Concurrency: cfg.BatchConcurrency,
	}

	if opts.events && cfg.NatsURL != "" {
		hc, err := hermes.NewClient(hermes.Config{
			URL:        cfg.NatsURL,
			Token:      cfg.NatsToken,
			QueueGroup: cfg.NatsQueueGroup,
		}, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		a.hermes = hc
		syncOpts.Publisher = hc
		logger.Info("NATS connected", "url", cfg.NatsURL)
	}

	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		syncOpts.Notifier = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)
	}

	a.orch = syncer.New(
		resolver,
		chatapi.NewClient(cfg.ChatAPIURL, cfg.ChatAccessToken),
		a.scraper,
		uploader.New(logger),
		st,
		syncOpts,
		logger,
	)
	return a, nil
}

func (a *app) Close() {
	if a.hermes != nil {
		if err := a.hermes.Flush(); err != nil {
			a.logger.Warn("nats flush failed", "error", err)
		}
		a.hermes.Close()
	}
	if err := a.state.Close(); err != nil {
		a.logger.Warn("closing state store", "error", err)
	}
}

// isTerminal reports whether r is an interactive character device.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
