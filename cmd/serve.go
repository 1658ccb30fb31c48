package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/faceless-pipeline/internal/config"
	"github.com/MimeLyc/faceless-pipeline/internal/httpapi"
	"github.com/MimeLyc/faceless-pipeline/internal/jobs"
	"github.com/MimeLyc/faceless-pipeline/internal/service"
	"github.com/MimeLyc/faceless-pipeline/pkg/icron"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

const shutdownTimeout = 10 * time.Second

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Watch the scripts directory, run queued jobs and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	settingsPath := config.RuntimeSettingsFilePath()
	var opts []config.Option
	if saved, err := config.LoadRuntimeSettingsFile(settingsPath); err == nil {
		opts = append(opts, config.WithRuntimeSettings(saved))
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load runtime settings: %w", err)
	}

	cfg, err := loadConfig(opts...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	settings, err := config.NewRuntimeSettingsStore(settingsPath, cfg.RuntimeSettings())
	if err != nil {
		return err
	}

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	queue := jobs.NewQueue(cfg.Service.QueueWorkers, st.jobs, jobs.WithMaxJobs(cfg.Service.MaxJobs))
	factory := func(c config.Config) (service.Runner, error) {
		o, err := buildPipeline(ctx, &c, st.checkpoints)
		if err != nil {
			return nil, err
		}
		return o, nil
	}
	engine := cron.New(cron.WithParser(icron.Parser))
	svc := service.New(*cfg, queue, factory, engine)

	srv := httpapi.NewServer(svc, queue,
		httpapi.WithUI(cfg.HTTP.UIStaticDir, cfg.HTTP.UIEnabled),
		httpapi.WithRuntimeSettingsStore(settings),
		httpapi.WithRuntimeSettingsApplier(svc.ApplyRuntimeSettings),
	)

	queue.Start(svc.Execute)
	defer queue.Stop()

	return runWithComponents(ctx, cfg, svc, engine, srv)
}

// runWithComponents schedules the scan, starts cron and the HTTP server and
// blocks until ctx is done or the server fails.
func runWithComponents(ctx context.Context, cfg *config.Config, sched scheduler, engine cronEngine, srv httpServer) error {
	if err := sched.Schedule(ctx); err != nil {
		return fmt.Errorf("failed to schedule scan: %w", err)
	}
	engine.Start()
	defer func() {
		select {
		case <-engine.Stop().Done():
		case <-time.After(shutdownTimeout):
			log.Warn("Cron jobs still running after %v", shutdownTimeout)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
