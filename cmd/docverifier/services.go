// File path: cmd/docverifier/services.go
package main

import (
	"context"
	"fmt"

	"github.com/comexa/docverifier/internal/api"
	"github.com/comexa/docverifier/internal/cache"
	"github.com/comexa/docverifier/internal/common"
	"github.com/comexa/docverifier/internal/config"
	"github.com/comexa/docverifier/internal/extract"
	"github.com/comexa/docverifier/internal/pipeline"
	"github.com/comexa/docverifier/internal/report"
)

// services bundles everything main wires together so shutdown can release
// the cache backend in one place.
type services struct {
	Server *api.Server
	store  cache.Store
}

func (s *services) Close() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		common.Logger().Warn("docverifier: cache close failed", "error", err)
	}
}

func buildServices(ctx context.Context, cfg config.Config) (*services, error) {
	logger := common.Logger()

	store, err := openCache(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	reports, err := report.NewStore(cfg.OutputDir)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open report store: %w", err)
	}

	extractor := extract.NewExtractor(ctx)
	logger.Info("docverifier: extractor ready", "provider", extractor.Name())

	pipe := pipeline.New(store, extractor, reports)

	apiCfg := api.DefaultConfig()
	apiCfg.UploadDir = cfg.UploadDir
	server, err := api.NewServer(pipe, reports, extractor, &apiCfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build server: %w", err)
	}
	return &services{Server: server, store: store}, nil
}

func openCache(ctx context.Context, cfg config.Config) (cache.Store, error) {
	logger := common.Logger()
	cacheCfg := cache.Config{Enabled: cfg.Enabled(), TTLDays: cfg.TTLDays()}
	switch cfg.CacheBackend {
	case config.BackendRedis:
		store, err := cache.OpenRedis(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cacheCfg)
		if err != nil {
			return nil, err
		}
		logger.Info("docverifier: redis cache ready", "addr", cfg.RedisAddr, "ttl_days", cacheCfg.TTLDays)
		return store, nil
	default:
		store, err := cache.OpenSQLite(cfg.CacheDBPath, cacheCfg)
		if err != nil {
			return nil, err
		}
		logger.Info("docverifier: sqlite cache ready", "path", cfg.CacheDBPath, "ttl_days", cacheCfg.TTLDays)
		return store, nil
	}
}
