package propertytree

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tshabani/shesha-core/internal/cache"
	"github.com/Tshabani/shesha-core/internal/metadata"
	"github.com/Tshabani/shesha-core/internal/store"
	"github.com/Tshabani/shesha-core/internal/store/memstore"
)

func seed(t *testing.T, s *memstore.Store, cfg *store.EntityConfig, rows ...*store.EntityProperty) {
	t.Helper()

	err := s.WithinUnitOfWork(context.Background(), func(ctx context.Context, uow store.UnitOfWork) error {
		if err := uow.InsertConfig(ctx, cfg); err != nil {
			return err
		}
		for _, r := range rows {
			r.EntityConfigID = cfg.ID
			if err := uow.InsertProperty(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func newTestCache(t *testing.T) (*Cache, *memstore.Store, *cache.MemoryCache) {
	t.Helper()

	s := memstore.New()
	mc := cache.NewMemoryCache(cache.DefaultConfig())
	t.Cleanup(func() { mc.Close() })

	return NewCache(s, mc, time.Minute, nil), s, mc
}

func TestCache_Properties(t *testing.T) {
	c, s, mc := newTestCache(t)
	ctx := context.Background()

	seed(t, s, &store.EntityConfig{ClassName: "Person", Namespace: "Shesha.Core", TypeShortAlias: "Shesha.Core.Person"},
		row("FirstName", metadata.TypeString, 0))

	for _, name := range []string{"Shesha.Core.Person", "Person"} {
		nodes, err := c.Properties(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, []string{"FirstName"}, names(nodes))
	}

	ok, err := mc.Exists(ctx, "entity-properties:Person")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCache_ServesCachedTreeUntilInvalidated(t *testing.T) {
	c, s, _ := newTestCache(t)
	ctx := context.Background()

	cfg := &store.EntityConfig{ClassName: "Person", Namespace: "Shesha.Core"}
	seed(t, s, cfg, row("FirstName", metadata.TypeString, 0))

	_, err := c.Properties(ctx, "Shesha.Core.Person")
	require.NoError(t, err)

	require.NoError(t, s.WithinUnitOfWork(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		p := row("LastName", metadata.TypeString, 1)
		p.EntityConfigID = cfg.ID
		return uow.InsertProperty(ctx, p)
	}))

	nodes, err := c.Properties(ctx, "Shesha.Core.Person")
	require.NoError(t, err)
	assert.Equal(t, []string{"FirstName"}, names(nodes))

	require.NoError(t, c.Invalidate(ctx, "Shesha.Core.Person", ""))

	nodes, err = c.Properties(ctx, "Shesha.Core.Person")
	require.NoError(t, err)
	assert.Equal(t, []string{"FirstName", "LastName"}, names(nodes))
}

func TestCache_Errors(t *testing.T) {
	c, s, _ := newTestCache(t)
	ctx := context.Background()

	seed(t, s, &store.EntityConfig{ClassName: "Person", Namespace: "A"})
	seed(t, s, &store.EntityConfig{ClassName: "Person", Namespace: "B"})

	_, err := c.Properties(ctx, "Organisation")
	assert.True(t, errors.Is(err, ErrEntityNotFound))

	_, err = c.Properties(ctx, "Person")
	assert.True(t, errors.Is(err, ErrAmbiguousEntity))

	_, err = c.Properties(ctx, "B.Person")
	assert.NoError(t, err)
}

func TestCache_AliasTakesPrecedenceOverFullName(t *testing.T) {
	c, s, _ := newTestCache(t)
	ctx := context.Background()

	seed(t, s, &store.EntityConfig{ClassName: "Post", Namespace: "Blog"}, row("Title", metadata.TypeString, 0))
	seed(t, s, &store.EntityConfig{ClassName: "Article", Namespace: "Cms", TypeShortAlias: "Blog.Post"},
		row("Headline", metadata.TypeString, 0))

	nodes, err := c.Properties(ctx, "Blog.Post")
	require.NoError(t, err)
	assert.Equal(t, []string{"Headline"}, names(nodes))

	cfg, err := c.Resolve(ctx, "Blog.Post")
	require.NoError(t, err)
	assert.Equal(t, "Article", cfg.ClassName)
}

func TestCache_FullNameTakesPrecedenceOverClassName(t *testing.T) {
	c, s, _ := newTestCache(t)
	ctx := context.Background()

	seed(t, s, &store.EntityConfig{ClassName: "Blog.Post", Namespace: "Legacy"}, row("Body", metadata.TypeString, 0))
	seed(t, s, &store.EntityConfig{ClassName: "Post", Namespace: "Blog"}, row("Title", metadata.TypeString, 0))

	nodes, err := c.Properties(ctx, "Blog.Post")
	require.NoError(t, err)
	assert.Equal(t, []string{"Title"}, names(nodes))
}

func TestCache_Resolve(t *testing.T) {
	c, s, _ := newTestCache(t)
	ctx := context.Background()

	seed(t, s, &store.EntityConfig{ClassName: "Person", Namespace: "Shesha.Core", TypeShortAlias: "Core.Person"})

	for _, name := range []string{"Core.Person", "Shesha.Core.Person", "Person"} {
		cfg, err := c.Resolve(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, "Person", cfg.ClassName)
	}

	_, err := c.Resolve(ctx, "Organisation")
	assert.True(t, errors.Is(err, ErrEntityNotFound))
}

func TestCache_DiscardsCorruptEntries(t *testing.T) {
	c, s, mc := newTestCache(t)
	ctx := context.Background()

	seed(t, s, &store.EntityConfig{ClassName: "Person", Namespace: "Shesha.Core"}, row("FirstName", metadata.TypeString, 0))
	require.NoError(t, mc.Set(ctx, "entity-properties:Person", []byte("{not json"), 0))

	nodes, err := c.Properties(ctx, "Person")
	require.NoError(t, err)
	assert.Equal(t, []string{"FirstName"}, names(nodes))
}
