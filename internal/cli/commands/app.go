package commands

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Tshabani/shesha-core/internal/cache"
	"github.com/Tshabani/shesha-core/internal/cli/config"
	"github.com/Tshabani/shesha-core/internal/lock"
	"github.com/Tshabani/shesha-core/internal/logging"
	"github.com/Tshabani/shesha-core/internal/propertytree"
	"github.com/Tshabani/shesha-core/internal/store/sqlstore"
	"github.com/Tshabani/shesha-core/internal/transaction"
)

// app holds the resources shared by commands that talk to the database
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *sql.DB
	dialect sqlstore.Dialect
	store   *sqlstore.Store
	redis   *redis.Client
	closers []func() error
}

// newApp connects to the configured database
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	dialect, err := sqlstore.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}
	level, err := transaction.ParseIsolationLevel(cfg.Database.IsolationLevel)
	if err != nil {
		return nil, err
	}

	db, err := sqlstore.Open(ctx, dialect, cfg.Database.URL)
	if err != nil {
		return nil, stripCredentials(err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		dialect: dialect,
		store: sqlstore.New(db, sqlstore.Config{
			Dialect:        dialect,
			IsolationLevel: level,
			Timeout:        cfg.Database.Timeout,
			Logger:         logger,
		}),
	}, nil
}

func (a *app) redisClient(ctx context.Context) (*redis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	a.redis = client
	return client, nil
}

// locker returns the configured reconciliation lock, or nil for none
func (a *app) locker(ctx context.Context) (lock.Locker, error) {
	var l lock.Locker
	switch a.cfg.Reconcile.Lock {
	case config.LockAdvisory:
		l = sqlstore.NewAdvisoryLocker(a.db, a.dialect)
	case config.LockRedis:
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		l = lock.NewRedisLocker(client, lock.DefaultRedisConfig())
	default:
		return nil, nil
	}
	return lock.WithTimeout(l, a.cfg.Reconcile.LockTimeout), nil
}

// propertyTrees returns the property tree cache over the configured backend
func (a *app) propertyTrees(ctx context.Context) (*propertytree.Cache, error) {
	cacheCfg := cache.Config{DefaultTTL: a.cfg.Cache.TTL, Prefix: a.cfg.Cache.Prefix}

	var c cache.Cache
	switch a.cfg.Cache.Backend {
	case config.CacheRedis:
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		c = cache.NewRedisCache(client, cacheCfg)
	default:
		mc := cache.NewMemoryCache(cacheCfg)
		a.closers = append(a.closers, mc.Close)
		c = mc
	}
	return propertytree.NewCache(a.store, c, a.cfg.Cache.TTL, a.logger), nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		_ = c()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	a.db.Close()
	_ = a.logger.Sync()
}
