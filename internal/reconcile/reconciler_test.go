package reconcile

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tshabani/shesha-core/internal/discovery"
	"github.com/Tshabani/shesha-core/internal/lock"
	"github.com/Tshabani/shesha-core/internal/metadata"
	"github.com/Tshabani/shesha-core/internal/store"
	"github.com/Tshabani/shesha-core/internal/store/memstore"
)

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestReconciler_InsertPath(t *testing.T) {
	f := newFixture(articleType)

	report := f.run(t)

	require.Len(t, report.Entities, 1)
	result := report.Entities[0]
	assert.Equal(t, ActionInserted, result.Action)
	assert.Equal(t, []string{"Title", "Body", "Tags", "Tags[]"}, result.Properties.Inserted)

	configs := f.store.Configs()
	require.Len(t, configs, 1)
	cfg := configs[0]
	assert.Equal(t, "Article", cfg.ClassName)
	assert.Equal(t, "blog", cfg.Namespace)
	assert.Equal(t, "articles", cfg.TableName)
	assert.Equal(t, "blog.Article", cfg.TypeShortAlias, "missing alias falls back to the full name")
	assert.Equal(t, metadata.SourceApplicationCode, cfg.Source)
	assert.Equal(t, metadata.Fingerprint(articleDescriptor().Properties), cfg.PropertiesMD5)

	rows := f.store.Properties()
	require.Len(t, rows, 4, "three properties and one items type")

	props := f.properties(t, "Article")
	assert.Equal(t, int32(0), props["Title"].SortOrder)
	assert.Equal(t, int32(1), props["Body"].SortOrder)
	assert.Equal(t, int32(2), props["Tags"].SortOrder)
	assert.Equal(t, "Article text", props["Body"].Description)

	items := props["Tags"].ItemsType
	require.NotNil(t, items)
	require.NotNil(t, items.ParentID)
	assert.Equal(t, props["Tags"].ID, *items.ParentID)
	assert.Equal(t, metadata.TypeString, items.DataType)
	assert.Equal(t, int32(0), items.SortOrder)
	assert.Equal(t, metadata.SourceApplicationCode, items.Source)

	assert.Equal(t, memstore.Writes{ConfigInserts: 1, ConfigUpdates: 1, PropertyInserts: 4}, f.store.Writes())
}

func TestReconciler_Idempotent(t *testing.T) {
	f := newFixture(articleType, authorType)
	f.run(t)
	f.store.ResetWrites()

	report := f.run(t)

	assert.Zero(t, f.store.Writes().Total())
	assert.Equal(t, 2, report.Count(ActionNoOp))
	assert.Empty(t, report.Changed())
	assert.Zero(t, report.PropertyWrites())
}

func TestReconciler_ResetFingerprintRewritesOnlyConfig(t *testing.T) {
	f := newFixture(articleType)
	f.run(t)

	cfg := f.config(t, "Article")
	f.edit(t, func(ctx context.Context, uow store.UnitOfWork) {
		cfg.PropertiesMD5 = ""
		require.NoError(t, uow.UpdateConfig(ctx, cfg))
	})
	f.store.ResetWrites()

	report := f.run(t)

	assert.Equal(t, ActionUpdated, report.Entities[0].Action)
	assert.True(t, report.Entities[0].Properties.Empty())
	assert.Equal(t, memstore.Writes{ConfigUpdates: 1}, f.store.Writes())
	assert.Equal(t, metadata.Fingerprint(articleDescriptor().Properties), f.config(t, "Article").PropertiesMD5)
}

func TestReconciler_UpdatePreservesUserEdits(t *testing.T) {
	f := newFixture(articleType)
	f.run(t)

	f.updateProperty(t, "Article", "Title", func(p *store.EntityProperty) {
		p.Label = "Custom"
		p.Description = "Edited in the admin UI"
	})

	desc := f.provider.descs[articleType]
	desc.Properties[0].DataFormat = metadata.FormatHTML
	desc.Properties[0].Label = "Headline"

	report := f.run(t)

	assert.Equal(t, ActionUpdated, report.Entities[0].Action)
	assert.Equal(t, []string{"Title"}, report.Entities[0].Properties.Updated)

	title := f.properties(t, "Article")["Title"]
	assert.Equal(t, metadata.FormatHTML, title.DataFormat)
	assert.Equal(t, "Custom", title.Label)
	assert.Equal(t, "Edited in the admin UI", title.Description)
}

func TestReconciler_StalePropertyDeletion(t *testing.T) {
	f := newFixture(articleType)
	f.run(t)

	cfg := f.config(t, "Article")
	f.edit(t, func(ctx context.Context, uow store.UnitOfWork) {
		require.NoError(t, uow.InsertProperty(ctx, &store.EntityProperty{
			EntityConfigID: cfg.ID,
			Name:           "Notes",
			DataType:       metadata.TypeString,
			Source:         metadata.SourceUserDefined,
			SortOrder:      10,
		}))
	})

	desc := f.provider.descs[articleType]
	desc.Properties = append([]metadata.PropertyDescriptor{desc.Properties[0], desc.Properties[2]},
		metadata.PropertyDescriptor{Path: "Summary", DataType: metadata.TypeString, Label: "Summary"})

	report := f.run(t)

	changes := report.Entities[0].Properties
	assert.Equal(t, []string{"Body"}, changes.Deleted)
	assert.Equal(t, []string{"Summary"}, changes.Inserted)

	props := f.properties(t, "Article")
	assert.NotContains(t, props, "Body")
	require.Contains(t, props, "Notes", "user-defined properties are never deleted")
	assert.Equal(t, metadata.SourceUserDefined, props["Notes"].Source)
	assert.Equal(t, int32(11), props["Summary"].SortOrder)
}

func TestReconciler_UserDefinedPropertyClaimedByCode(t *testing.T) {
	f := newFixture(articleType)
	f.run(t)

	f.updateProperty(t, "Article", "Body", func(p *store.EntityProperty) {
		p.Source = metadata.SourceUserDefined
	})
	cfg := f.config(t, "Article")
	f.edit(t, func(ctx context.Context, uow store.UnitOfWork) {
		cfg.PropertiesMD5 = "stale"
		require.NoError(t, uow.UpdateConfig(ctx, cfg))
	})

	f.run(t)
	assert.Equal(t, metadata.SourceApplicationCode, f.properties(t, "Article")["Body"].Source)
}

func TestReconciler_ItemsTypeLifecycle(t *testing.T) {
	f := newFixture(articleType)
	f.run(t)
	desc := f.provider.descs[articleType]

	t.Run("updated in place", func(t *testing.T) {
		before := f.properties(t, "Article")["Tags"].ItemsType
		desc.Properties[2].ItemsType.DataFormat = metadata.FormatMultiLine

		report := f.run(t)

		assert.Equal(t, []string{"Tags[]"}, report.Entities[0].Properties.Updated)
		after := f.properties(t, "Article")["Tags"].ItemsType
		require.NotNil(t, after)
		assert.Equal(t, before.ID, after.ID)
		assert.Equal(t, metadata.FormatMultiLine, after.DataFormat)
	})

	t.Run("removed when no longer an array", func(t *testing.T) {
		desc.Properties[2] = metadata.PropertyDescriptor{Path: "Tags", DataType: metadata.TypeString, Label: "Tags"}

		report := f.run(t)

		changes := report.Entities[0].Properties
		assert.Equal(t, []string{"Tags"}, changes.Updated)
		assert.Equal(t, []string{"Tags[]"}, changes.Deleted)
		assert.Nil(t, f.properties(t, "Article")["Tags"].ItemsType)
		assert.Len(t, f.store.Properties(), 3)
	})

	t.Run("created for an existing property", func(t *testing.T) {
		desc.Properties[2] = metadata.PropertyDescriptor{
			Path:      "Tags",
			DataType:  metadata.TypeArray,
			ItemsType: &metadata.PropertyDescriptor{Path: "Tags", DataType: metadata.TypeNumber, DataFormat: metadata.FormatInt32},
		}

		report := f.run(t)

		assert.Equal(t, []string{"Tags[]"}, report.Entities[0].Properties.Inserted)
		items := f.properties(t, "Article")["Tags"].ItemsType
		require.NotNil(t, items)
		assert.Equal(t, metadata.TypeNumber, items.DataType)
	})
}

func TestReconciler_HardcodedFieldsOnly(t *testing.T) {
	f := newFixture(articleType)
	f.run(t)
	f.store.ResetWrites()

	f.provider.descs[articleType].FriendlyName = "Blog article"
	f.provider.descs[articleType].TableName = "blog_articles"

	report := f.run(t)

	assert.Equal(t, ActionUpdated, report.Entities[0].Action)
	assert.Equal(t, memstore.Writes{ConfigUpdates: 1}, f.store.Writes())
	cfg := f.config(t, "Article")
	assert.Equal(t, "Blog article", cfg.FriendlyName)
	assert.Equal(t, "blog_articles", cfg.TableName)
}

func TestReconciler_ExtractionErrorSkipsOnlyThatEntity(t *testing.T) {
	f := newFixture(authorType, articleType)
	f.provider.errs[authorType] = fmt.Errorf("blog.Author: member Links: %w", metadata.ErrUnsupportedMember)

	report := f.run(t)

	require.Len(t, report.Entities, 2)
	assert.Equal(t, ActionSkipped, report.Entities[0].Action)
	assert.ErrorIs(t, report.Entities[0].Err, metadata.ErrUnsupportedMember)
	assert.Equal(t, ActionInserted, report.Entities[1].Action)
	assert.Len(t, f.store.Configs(), 1)
}

func TestReconciler_SkippedEntityIsNotReportedMissing(t *testing.T) {
	f := newFixture(articleType)
	f.provider.descs[articleType].Namespace = articleType.PkgPath()
	f.run(t)

	f.provider.errs[articleType] = fmt.Errorf("Article: member Tags: %w", metadata.ErrUnsupportedMember)
	f.store.ResetWrites()

	report := f.run(t)

	require.Len(t, report.Entities, 1)
	assert.Equal(t, ActionSkipped, report.Entities[0].Action)
	assert.Empty(t, report.Missing)
	assert.Zero(t, f.store.Writes().Total())
}

func TestReconciler_FailurePolicy(t *testing.T) {
	boom := store.NewDBError(store.ErrUniqueViolation, "entity_properties", errors.New("duplicate key"))
	failAuthorName := func(p *store.EntityProperty) error {
		if p.Name == "Name" {
			return boom
		}
		return nil
	}

	t.Run("abort rolls back the pass", func(t *testing.T) {
		f := newFixture(articleType, authorType)
		faulty := &faultyStore{Store: f.store, fail: failAuthorName}

		report, err := f.reconciler(t, func(o *Options) { o.Store = faulty }).Run(context.Background())

		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.True(t, store.IsUniqueViolation(err))

		var entityErr *EntityError
		require.True(t, errors.As(err, &entityErr))
		assert.Equal(t, "Author", entityErr.ClassName)

		require.NotNil(t, report)
		assert.Equal(t, 1, report.Count(ActionFailed))
		assert.Empty(t, f.store.Configs(), "nothing is committed")
		assert.Zero(t, f.store.Writes().Total())
	})

	t.Run("skip keeps other entities", func(t *testing.T) {
		f := newFixture(authorType, articleType)
		faulty := &faultyStore{Store: f.store, fail: failAuthorName}

		report, err := f.reconciler(t, func(o *Options) {
			o.Store = faulty
			o.FailurePolicy = Skip
		}).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, ActionFailed, report.Entities[0].Action)
		assert.ErrorIs(t, report.Entities[0].Err, boom)
		assert.Empty(t, report.Entities[0].Properties.Inserted)
		assert.Equal(t, ActionInserted, report.Entities[1].Action)

		configs := f.store.Configs()
		require.Len(t, configs, 1, "the failed entity's savepoint is rolled back")
		assert.Equal(t, "Article", configs[0].ClassName)
		assert.Len(t, f.store.Properties(), 4)

		// the failed entity is retried on the next pass
		faulty.fail = func(*store.EntityProperty) error { return nil }
		report, err = f.reconciler(t, func(o *Options) { o.Store = faulty }).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ActionInserted, report.Entities[0].Action)
		assert.Equal(t, ActionNoOp, report.Entities[1].Action)
	})
}

func TestParseFailurePolicy(t *testing.T) {
	for in, want := range map[string]FailurePolicy{"": Abort, "abort": Abort, "Skip": Skip, " skip ": Skip} {
		got, err := ParseFailurePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFailurePolicy("retry")
	assert.Error(t, err)
	assert.Equal(t, "skip", Skip.String())
	assert.Equal(t, "abort", Abort.String())
}

func TestReconciler_DuplicatePathDiagnostic(t *testing.T) {
	f := newFixture(articleType)
	desc := f.provider.descs[articleType]
	desc.Properties = append(desc.Properties,
		metadata.PropertyDescriptor{Path: "Title", DataType: metadata.TypeString, DataFormat: metadata.FormatMultiLine})

	report := f.run(t)

	diags := report.Entities[0].Diagnostics
	require.Len(t, diags, 1)
	assert.Equal(t, DuplicatePath, diags[0].Code)
	assert.Equal(t, "Title", diags[0].Path)
	assert.Equal(t, "blog.Article", diags[0].Entity)
	assert.Contains(t, report.Diagnostics(), diags[0])

	props := f.properties(t, "Article")
	assert.Len(t, props, 3, "a duplicate path never creates a second row")
}

func TestReconciler_MissingEntitiesAreReportedNotDeleted(t *testing.T) {
	f := newFixture(articleType, authorType)
	f.run(t)

	f.modules = []discovery.Module{{Path: "example.com/blog", Types: []reflect.Type{articleType}}}
	f.store.ResetWrites()

	report := f.run(t)

	require.Len(t, report.Missing, 1)
	assert.Equal(t, MissingEntity, report.Missing[0].Code)
	assert.Equal(t, "blog.Author", report.Missing[0].Entity)
	assert.Len(t, f.store.Configs(), 2)
	assert.Zero(t, f.store.Writes().Total())
}

func TestReconciler_SkipsModulesWithoutEntities(t *testing.T) {
	f := newFixture()
	f.modules = []discovery.Module{
		{Path: "example.com/empty"},
		{Path: "example.com/plain", Types: []reflect.Type{reflect.TypeOf(struct{ Name string }{})}},
	}

	report := f.run(t)

	assert.Equal(t, 2, report.Modules)
	assert.Empty(t, report.Entities)
	assert.Empty(t, f.store.Configs())
}

func TestReconciler_DryRun(t *testing.T) {
	f := newFixture(articleType)
	inv := &recordingInvalidator{}

	report := f.run(t, func(o *Options) {
		o.DryRun = true
		o.Cache = inv
	})

	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Count(ActionInserted))
	assert.Empty(t, f.store.Configs())
	assert.Empty(t, inv.names)
}

type recordingLocker struct {
	events []string
	err    error
}

func (l *recordingLocker) Acquire(_ context.Context, key string) (lock.Lock, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.events = append(l.events, "acquire "+key)
	return recordingLock{l}, nil
}

type recordingLock struct{ l *recordingLocker }

func (r recordingLock) Release(context.Context) error {
	r.l.events = append(r.l.events, "release")
	return nil
}

func TestReconciler_Lock(t *testing.T) {
	f := newFixture(articleType)
	locker := &recordingLocker{}

	f.run(t, func(o *Options) { o.Locker = locker })
	assert.Equal(t, []string{"acquire " + lock.ReconcileKey, "release"}, locker.events)

	locker.err = lock.ErrNotAcquired
	f.provider.descs[articleType].FriendlyName = "Changed"
	_, err := f.reconciler(t, func(o *Options) { o.Locker = locker }).Run(context.Background())
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
	assert.Equal(t, "Article", f.config(t, "Article").FriendlyName, "nothing runs without the lock")
}

type recordingInvalidator struct {
	names []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, names ...string) error {
	r.names = append(r.names, names...)
	return nil
}

func TestReconciler_InvalidatesChangedEntities(t *testing.T) {
	f := newFixture(articleType, authorType)
	inv := &recordingInvalidator{}
	withCache := func(o *Options) { o.Cache = inv }

	f.run(t, withCache)
	sort.Strings(inv.names)
	assert.Equal(t, []string{"Article", "Author", "Blog.Author", "blog.Article", "blog.Article", "blog.Author"}, inv.names)

	inv.names = nil
	f.run(t, withCache)
	assert.Empty(t, inv.names, "unchanged entities keep their cached trees")
}

func TestReconciler_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	f := newFixture(articleType)
	f.run(t, func(o *Options) { o.Metrics = metrics })
	f.run(t, func(o *Options) { o.Metrics = metrics })

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.entities.WithLabelValues(string(ActionInserted))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.entities.WithLabelValues(string(ActionNoOp))))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.propertyWrites.WithLabelValues("insert")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.duration))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "metrics cannot be registered twice")
}

func TestReconciler_ReflectProviderEndToEnd(t *testing.T) {
	s := memstore.New()
	catalog := discovery.NewCatalog()
	catalog.Register(discovery.NewModule("github.com/Tshabani/shesha-core/internal/store",
		store.EntityConfig{}, &store.EntityProperty{}, store.Key{}))

	r, err := New(Options{
		Finder:   catalog,
		Provider: metadata.NewReflectProvider(),
		Store:    s,
	})
	require.NoError(t, err)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(ActionInserted))

	for _, cfg := range s.Configs() {
		assert.Contains(t, []string{"Shesha.Core.EntityConfig", "Shesha.Core.EntityProperty"}, cfg.TypeShortAlias)
	}

	s.ResetWrites()
	report, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(ActionNoOp))
	assert.Zero(t, s.Writes().Total())
}
