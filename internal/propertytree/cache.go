package propertytree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Tshabani/shesha-core/internal/cache"
	"github.com/Tshabani/shesha-core/internal/store"
)

// ErrEntityNotFound is returned when no configuration matches an entity name
var ErrEntityNotFound = errors.New("entity config not found")

// ErrAmbiguousEntity is returned when a bare class name matches more than
// one configuration
var ErrAmbiguousEntity = errors.New("entity name is ambiguous")

const keyPrefix = "entity-properties:"

// Cache resolves entity names to property trees, keeping encoded trees in
// a cache.Cache until invalidated or expired.
type Cache struct {
	store  store.Store
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache creates a property tree cache. A zero ttl uses the cache default.
func NewCache(s store.Store, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: s, cache: c, ttl: ttl, logger: logger}
}

// Properties returns the top-level property tree of an entity identified by
// its type alias, Namespace.ClassName or unique class name.
func (c *Cache) Properties(ctx context.Context, name string) ([]*Node, error) {
	key := keyPrefix + name

	data, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		var nodes []*Node
		if err := json.Unmarshal(data, &nodes); err == nil {
			return nodes, nil
		}
		c.logger.Warn("discarding undecodable cached property tree", zap.String("entity", name))
	case !cache.IsCacheMiss(err):
		c.logger.Warn("property tree cache unavailable", zap.String("entity", name), zap.Error(err))
	}

	nodes, err := c.load(ctx, name)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(nodes); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			c.logger.Warn("failed to cache property tree", zap.String("entity", name), zap.Error(err))
		}
	}
	return nodes, nil
}

// Invalidate drops the cached trees stored under the given names
func (c *Cache) Invalidate(ctx context.Context, names ...string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if err := c.cache.Delete(ctx, keyPrefix+name); err != nil {
			return fmt.Errorf("failed to invalidate property tree %s: %w", name, err)
		}
	}
	return nil
}

// Resolve returns the configuration an entity name refers to, using the
// same precedence as Properties.
func (c *Cache) Resolve(ctx context.Context, name string) (*store.EntityConfig, error) {
	var config *store.EntityConfig
	err := c.store.WithinUnitOfWork(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		configs, err := uow.ListConfigs(ctx)
		if err != nil {
			return err
		}
		config, err = match(configs, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Cache) load(ctx context.Context, name string) ([]*Node, error) {
	var nodes []*Node
	err := c.store.WithinUnitOfWork(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		configs, err := uow.ListConfigs(ctx)
		if err != nil {
			return err
		}

		config, err := match(configs, name)
		if err != nil {
			return err
		}

		rows, err := uow.ListProperties(ctx, config.ID)
		if err != nil {
			return err
		}
		nodes = Build(rows)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// match prefers an exact alias over any full name, and a full name over any
// class name. A class name must be unique.
func match(configs []*store.EntityConfig, name string) (*store.EntityConfig, error) {
	live := make([]*store.EntityConfig, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.IsDeleted {
			live = append(live, cfg)
		}
	}

	for _, cfg := range live {
		if cfg.TypeShortAlias == name {
			return cfg, nil
		}
	}
	for _, cfg := range live {
		if cfg.Key().String() == name {
			return cfg, nil
		}
	}

	var byClass []*store.EntityConfig
	for _, cfg := range live {
		if cfg.ClassName == name {
			byClass = append(byClass, cfg)
		}
	}

	switch len(byClass) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, name)
	case 1:
		return byClass[0], nil
	default:
		return nil, fmt.Errorf("%w: %s matches %d namespaces", ErrAmbiguousEntity, name, len(byClass))
	}
}
