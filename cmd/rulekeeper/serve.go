package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rulekeeper/rulekeeper/internal/httpapi"
	"github.com/rulekeeper/rulekeeper/internal/ratelimit"
)

const limiterIdle = 10 * time.Minute

func newServeCmd(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rule editing HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()
			if listen != "" {
				a.cfg.Server.Listen = listen
			}
			return serve(cmd.Context(), a)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Override server.listen")

	return cmd
}

func serve(ctx context.Context, a *app) error {
	var limiter *ratelimit.Limiter
	if rl := a.cfg.Server.RateLimit; rl.Enabled {
		limiter = ratelimit.New(rl.RPS, rl.Burst)
	}

	api := httpapi.New(httpapi.Options{
		Editor:  a.editor,
		Access:  a.cfg.Access,
		Limiter: limiter,
		Metrics: a.metrics,
		Logger:  a.logger,
	})

	metricsSrv := startMetricsServer(a)
	defer func() {
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(context.Background())
		}
	}()

	srv := &http.Server{
		Addr:              a.cfg.Server.Listen,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe()
	}()
	a.logger.Info("serving", "addr", a.cfg.Server.Listen, "repo", a.cfg.GitHub.Owner+"/"+a.cfg.GitHub.Repo, "branch", a.cfg.GitHub.Branch)

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	prune := time.NewTicker(limiterIdle)
	defer prune.Stop()

loop:
	for {
		select {
		case <-signalCtx.Done():
			break loop
		case err := <-serverErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			break loop
		case now := <-prune.C:
			if n := limiter.Prune(now, limiterIdle); n > 0 {
				a.logger.Debug("pruned idle rate limit buckets", "count", n)
			}
		}
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func startMetricsServer(a *app) *http.Server {
	if a.registry == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler(a.registry))

	srv := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "err", err)
		}
	}()
	return srv
}
