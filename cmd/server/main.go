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

	webAdapter "afms/internal/adapters/web"
	"afms/internal/app"
	"afms/internal/config"
	"afms/internal/core"
	"afms/internal/jobs"
	"afms/internal/logger"
	"afms/internal/metrics"
	"afms/internal/platform"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.New("afms-server", cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()
	m := metrics.New()

	p, err := platform.Build(ctx, cfg, log, m)
	if err != nil {
		log.Fatal("failed to initialise platform", zap.Error(err))
	}

	if applied, err := p.DB.Migrate(ctx); err != nil {
		log.Fatal("schema migration failed", zap.Error(err))
	} else if len(applied) > 0 {
		log.Info("schema migrated", zap.Strings("applied", applied))
	}

	if cfg.SuperadminEmail != "" {
		if _, err := p.App.BootstrapRBAC(ctx, app.SystemActor, core.SuperadminInput{
			Email:    cfg.SuperadminEmail,
			Password: cfg.SuperadminPassword,
		}); err != nil {
			log.Fatal("rbac bootstrap failed", zap.Error(err))
		}
	}

	scheduler := jobs.New(log, m, 10*time.Minute)
	if err := scheduler.Add("report-schedules", cfg.ReportPollCron, p.Services.Schedules.RunScheduled); err != nil {
		log.Fatal("invalid REPORT_POLL_CRON", zap.Error(err))
	}
	if err := scheduler.Add("exchange-rates", cfg.RateRefreshCron, p.Services.Rates.RunScheduled); err != nil {
		log.Fatal("invalid RATE_REFRESH_CRON", zap.Error(err))
	}
	scheduler.Start()

	handler := webAdapter.NewHandler(p.App, webAdapter.Options{
		JWTSecret:      cfg.JWTSecret,
		TokenTTL:       cfg.JWTTTL,
		AllowedOrigins: cfg.AllowedOrigins,
		SecureCookies:  cfg.IsProduction(),
		Metrics:        m,
		Store:          p.DB,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info("server starting", zap.String("port", cfg.Port), zap.String("store", p.DB.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown incomplete", zap.Error(err))
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Error("jobs did not stop in time", zap.Error(err))
	}
	if err := p.Close(shutdownCtx); err != nil {
		log.Error("failed to close platform", zap.Error(err))
	}
	log.Info("server exited")
}
