package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	configpkg "github.com/drblury/soknadflow/internal/runtime/config"
	loggingpkg "github.com/drblury/soknadflow/internal/runtime/logging"
	"github.com/drblury/soknadflow/internal/runtime/pipeline"
	"github.com/drblury/soknadflow/internal/soknad"
)

const shutdownTimeout = 10 * time.Second

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every stage and serve the health endpoints until interrupted",
		RunE:  runPipeline,
	}
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	base, err := newLogger(cmd)
	if err != nil {
		return err
	}
	logger := loggingpkg.NewSlogServiceLogger(base)

	path, _ := cmd.Flags().GetString("config")
	conf, err := configpkg.Load(path)
	if err != nil {
		return err
	}

	// The external systems are replaced by in-memory stand-ins until their
	// clients are wired in.
	p, err := pipeline.New(conf, logger, soknad.NewLocalCollaborators(soknad.NewLocalStore()), pipeline.Dependencies{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var gatherer prometheus.Gatherer
	if conf.MetricsEnabled {
		gatherer = prometheus.DefaultGatherer
	}
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(conf.HealthPort)),
		Handler:           pipeline.HealthHandler(p, gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Serving health endpoints", loggingpkg.LogFields{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if err := p.StartAll(ctx); err != nil {
		_ = p.StopAll()
		_ = srv.Close()
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested", nil)
	case err, ok := <-serveErr:
		if ok {
			logger.Error("Health server failed", err, nil)
		}
	}

	stopErr := p.StopAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		stopErr = errors.Join(stopErr, fmt.Errorf("shutdown health server: %w", err))
	}
	return stopErr
}
