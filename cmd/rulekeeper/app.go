package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rulekeeper/rulekeeper/internal/config"
	"github.com/rulekeeper/rulekeeper/internal/editor"
	"github.com/rulekeeper/rulekeeper/internal/logging"
	"github.com/rulekeeper/rulekeeper/internal/normalize"
	"github.com/rulekeeper/rulekeeper/internal/observability"
	"github.com/rulekeeper/rulekeeper/internal/store"
)

// app holds everything a command needs once the config has been loaded.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	editor   *editor.Editor
	closers  []func() error
}

func setup(configPath string, serving bool) (*app, error) {
	cfg, err := config.FromEnv(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(serving); err != nil {
		return nil, err
	}

	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	var audit *logging.AuditLogger
	if cfg.Logging.AuditLog != "" {
		auditLog, closer, err := logging.OpenAuditLog(cfg.ResolvePath(cfg.Logging.AuditLog))
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		a.closers = append(a.closers, closer)
		audit = auditLog
	}

	if serving && cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.metrics = observability.NewMetrics(a.registry)
	}

	client := store.New(store.Options{
		BaseURL:    cfg.GitHub.APIURL,
		Owner:      cfg.GitHub.Owner,
		Repo:       cfg.GitHub.Repo,
		Branch:     cfg.GitHub.Branch,
		Token:      cfg.GitHub.Token,
		Committer:  store.Identity{Name: cfg.GitHub.Committer.Name, Email: cfg.GitHub.Committer.Email},
		MaxRetries: cfg.Store.Retries(),
		Backoff:    cfg.Store.Backoff,
		Timeout:    cfg.Store.Timeout,
		UserAgent:  cfg.Store.UserAgent,
		Metrics:    a.metrics,
		Logger:     logger,
	})

	a.editor = editor.New(editor.Options{
		Store:      client,
		Files:      cfg.Files,
		Normalizer: normalize.New(cfg.Normalize.PublicSuffix),
		Metrics:    a.metrics,
		Audit:      audit,
		Logger:     logger,
	})
	return a, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
}
