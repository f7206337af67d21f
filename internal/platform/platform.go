// Package platform assembles the store, adapters and services shared by the
// server and the admin CLI.
package platform

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"afms/internal/adapters/exchangerate"
	"afms/internal/adapters/webhook"
	"afms/internal/ai"
	"afms/internal/app"
	"afms/internal/cache"
	"afms/internal/config"
	"afms/internal/db"
	"afms/internal/metrics"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Platform is everything a process needs to serve requests or run jobs.
type Platform struct {
	DB       *db.Handle
	Services app.Services
	App      app.ApplicationService
	Metrics  *metrics.Metrics

	redis *redis.Client
	log   *zap.Logger
}

// Build opens the store and wires every service. m may be nil.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*Platform, error) {
	h, err := db.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	p := &Platform{DB: h, Metrics: m, log: log}

	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, using in-process rate cache", zap.Error(err))
		} else {
			p.redis = client
		}
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	deps := app.Deps{
		Store:          h,
		Provider:       exchangerate.New(cfg.ExchangeRateAPIURL, cfg.ExchangeRateAPIKey, httpClient),
		Cache:          cache.NewRateCache(p.redis, time.Hour, log),
		Deliverer:      webhook.New(httpClient, log),
		Metrics:        m,
		BaseCurrencies: cfg.RateBaseCurrencies,
		Worker:         workerName(),
	}
	if cfg.ExchangeRateAPIKey == "" {
		log.Warn("EXCHANGE_RATE_API_KEY is not set; rate refresh will fail until it is")
	}

	if ok, reason := cfg.AIEnabled(); ok {
		agent, err := ai.NewDocumentAgent(cfg.OpenAIAPIKey)
		if err != nil {
			log.Warn("AI document extraction disabled", zap.Error(err))
		} else {
			deps.Extractor = agent
		}
	} else {
		log.Warn("AI document extraction disabled", zap.Error(reason))
	}

	p.Services = app.NewServices(deps, log)
	p.App = app.NewAppService(p.Services, log)
	return p, nil
}

// Close releases the store and the redis client.
func (p *Platform) Close(ctx context.Context) error {
	if p.redis != nil {
		if err := p.redis.Close(); err != nil {
			p.log.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if err := p.DB.Close(ctx); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

func workerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "afms"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
