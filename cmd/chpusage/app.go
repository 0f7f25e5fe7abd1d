package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mailonline/chpusage/internal/chp"
	"github.com/mailonline/chpusage/internal/config"
	"github.com/mailonline/chpusage/internal/locator"
	"github.com/mailonline/chpusage/internal/notify"
	"github.com/mailonline/chpusage/internal/scheduler"
	"github.com/mailonline/chpusage/internal/storage"
	"github.com/mailonline/chpusage/internal/usage"
)

// app is the wired service shared by serve, mcp and the local commands.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *storage.Store
	reporter   *usage.Reporter
	queue      *scheduler.Queue
	controller *scheduler.Controller
	worker     *scheduler.Worker
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func newApp(cfg config.Config) (*app, error) {
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	var tmpl *usage.Template
	src, err := cfg.CHP.Template()
	if err != nil {
		return nil, err
	}
	if src != "" {
		if tmpl, err = usage.ParseTemplate(src); err != nil {
			return nil, err
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	var authors usage.AuthorResolver = usage.PostAuthor{Store: store}
	if cfg.Authors.CoAuthors {
		authors = usage.CoAuthors{Store: store}
	}

	queue := scheduler.NewQueue(store)
	reporter := usage.NewReporter(usage.Deps{
		Store:      store,
		Locator:    locator.New(store, cfg.Images.MetaKeys, cfg.CHP.Users),
		Hub:        chp.NewClient(cfg.CHP.URL, cfg.CHP.Token),
		Template:   tmpl,
		Authors:    authors,
		Notifier:   notify.NewSlack(cfg.Slack.URL, cfg.Slack.Channel).WithLogger(logger),
		Retries:    queue,
		MaxRetries: cfg.Retry.Max,
		RetryDelay: cfg.Retry.Delay,
	}).WithLogger(logger)

	controller := scheduler.NewController(reporter, store, queue, scheduler.Options{
		EnabledTypes: cfg.Posts.EnabledTypes,
		PublishDelay: cfg.Retry.PublishDelay,
		SweepWindow:  cfg.Sweep.Window,
		PageSize:     cfg.Sweep.PageSize,
		Throttle:     cfg.Sweep.Throttle,
	}).WithLogger(logger)

	worker := scheduler.NewWorker(store, time.Second).WithLogger(logger)
	controller.Register(worker)

	if !reporter.Configured() {
		logger.Warn("usage reporting is not configured; set chp.url and chp.xml_template to enable it")
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		reporter:   reporter,
		queue:      queue,
		controller: controller,
		worker:     worker,
	}, nil
}

func (a *app) mediaDir() string {
	return filepath.Join(a.cfg.Storage.DataDir, "uploads")
}

func (a *app) Close() error {
	return a.store.Close()
}
