package main

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/MrEthical07/teamguard"
	"github.com/MrEthical07/teamguard/internal/audit/pgstore"
	"github.com/MrEthical07/teamguard/internal/config"
	"github.com/MrEthical07/teamguard/internal/credstore"
	"github.com/MrEthical07/teamguard/internal/db"
	"github.com/MrEthical07/teamguard/internal/logging"
)

// runtime is the infrastructure every command shares. Close releases it in
// reverse order of acquisition.
type runtime struct {
	cfg       *config.ServiceConfig
	engineCfg teamguard.Config
	logger    *zap.Logger
	redis     redis.UniversalClient
	pool      *pgxpool.Pool
	users     *credstore.Store

	closers []func()
}

func openRuntime(c *cli.Context, dev bool) (*runtime, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, err
	}
	engineCfg, err := cfg.Engine()
	if err != nil {
		return nil, errors.Wrap(err, "invalid engine configuration")
	}
	logger, err := logging.New(cfg.App.Env)
	if err != nil {
		return nil, errors.Wrap(err, "error building logger")
	}

	rt := &runtime{cfg: cfg, engineCfg: engineCfg, logger: logger}
	rt.closers = append(rt.closers, func() { _ = logger.Sync() })

	rdb, closeRedis, err := openRedis(cfg.Redis, dev)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.redis = rdb
	rt.closers = append(rt.closers, closeRedis)

	pool, err := db.Open(c.Context, cfg.Postgres.DSN)
	if err != nil {
		rt.Close()
		return nil, errors.Wrap(err, "error connecting to postgres")
	}
	rt.pool = pool
	rt.users = credstore.New(pool)
	rt.closers = append(rt.closers, pool.Close)

	return rt, nil
}

// builder returns an engine builder with the shared stores wired in.
func (rt *runtime) builder() *teamguard.Builder {
	b := teamguard.New().
		WithConfig(rt.engineCfg).
		WithRedis(rt.redis).
		WithCredentialStore(rt.users).
		WithLogger(rt.logger)
	if rt.cfg.Audit.Store == "postgres" {
		b = b.WithAuditStore(pgstore.New(rt.pool))
	}
	return b
}

// engine builds an engine and registers it for Close.
func (rt *runtime) engine() (*teamguard.Engine, error) {
	e, err := rt.builder().Build()
	if err != nil {
		return nil, errors.Wrap(err, "error building engine")
	}
	rt.closers = append(rt.closers, e.Close)
	return e, nil
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func openRedis(cfg config.RedisSettings, dev bool) (redis.UniversalClient, func(), error) {
	opts := &redis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	var mr *miniredis.Miniredis
	if dev {
		var err error
		if mr, err = miniredis.Run(); err != nil {
			return nil, nil, errors.Wrap(err, "error starting in-process redis")
		}
		opts = &redis.UniversalOptions{Addrs: []string{mr.Addr()}}
	} else if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewUniversalClient(opts)
	closeFn := func() {
		_ = client.Close()
		if mr != nil {
			mr.Close()
		}
	}
	if err := client.Ping(context.Background()).Err(); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("redis ping %v: %w", opts.Addrs, err)
	}
	return client, closeFn, nil
}

func requestInfo() teamguard.RequestInfo {
	return teamguard.RequestInfo{IP: "127.0.0.1", UserAgent: "teamguard-cli"}
}
