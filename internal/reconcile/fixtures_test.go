package reconcile

import (
	"context"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Tshabani/shesha-core/internal/discovery"
	"github.com/Tshabani/shesha-core/internal/metadata"
	"github.com/Tshabani/shesha-core/internal/store"
	"github.com/Tshabani/shesha-core/internal/store/memstore"
)

type Article struct {
	ID    uuid.UUID
	Title string
	Body  string
	Tags  []string
}

func (a *Article) GetID() uuid.UUID { return a.ID }

type Author struct {
	ID   uuid.UUID
	Name string
}

func (a *Author) GetID() uuid.UUID { return a.ID }

var (
	articleType = reflect.TypeOf(Article{})
	authorType  = reflect.TypeOf(Author{})
)

func articleDescriptor() *metadata.EntityDescriptor {
	return &metadata.EntityDescriptor{
		ClassName:          "Article",
		Namespace:          "blog",
		FriendlyName:       "Article",
		TableName:          "articles",
		DiscriminatorValue: "blog.Article",
		Properties: []metadata.PropertyDescriptor{
			{Path: "Title", DataType: metadata.TypeString, DataFormat: metadata.FormatSingleLine, Label: "Title"},
			{Path: "Body", DataType: metadata.TypeString, DataFormat: metadata.FormatMultiLine, Label: "Body", Description: "Article text"},
			{
				Path:     "Tags",
				DataType: metadata.TypeArray,
				Label:    "Tags",
				ItemsType: &metadata.PropertyDescriptor{
					Path:       "Tags",
					DataType:   metadata.TypeString,
					DataFormat: metadata.FormatSingleLine,
				},
			},
		},
	}
}

func authorDescriptor() *metadata.EntityDescriptor {
	return &metadata.EntityDescriptor{
		ClassName:          "Author",
		Namespace:          "blog",
		FriendlyName:       "Author",
		TableName:          "authors",
		TypeShortAlias:     "Blog.Author",
		DiscriminatorValue: "blog.Author",
		Properties: []metadata.PropertyDescriptor{
			{Path: "Name", DataType: metadata.TypeString, DataFormat: metadata.FormatSingleLine, Label: "Name"},
		},
	}
}

// fakeProvider serves descriptors that tests edit to simulate code changes
type fakeProvider struct {
	descs map[reflect.Type]*metadata.EntityDescriptor
	errs  map[reflect.Type]error
}

func (p *fakeProvider) Describe(t reflect.Type) (*metadata.EntityDescriptor, error) {
	if err := p.errs[t]; err != nil {
		return nil, err
	}
	d, ok := p.descs[t]
	if !ok {
		return nil, metadata.ErrNotEntity
	}
	return d, nil
}

type fixture struct {
	store    *memstore.Store
	provider *fakeProvider
	modules  []discovery.Module
}

func newFixture(types ...reflect.Type) *fixture {
	f := &fixture{
		store: memstore.New(),
		provider: &fakeProvider{
			descs: map[reflect.Type]*metadata.EntityDescriptor{
				articleType: articleDescriptor(),
				authorType:  authorDescriptor(),
			},
			errs: map[reflect.Type]error{},
		},
	}
	f.modules = []discovery.Module{{Path: "example.com/blog", Types: types}}
	return f
}

func (f *fixture) reconciler(t *testing.T, configure ...func(*Options)) *Reconciler {
	t.Helper()

	opts := Options{
		Finder:   discovery.FinderFunc(func() []discovery.Module { return f.modules }),
		Provider: f.provider,
		Store:    f.store,
	}
	for _, c := range configure {
		c(&opts)
	}

	r, err := New(opts)
	require.NoError(t, err)
	return r
}

func (f *fixture) run(t *testing.T, configure ...func(*Options)) *Report {
	t.Helper()

	report, err := f.reconciler(t, configure...).Run(context.Background())
	require.NoError(t, err)
	return report
}

// edit runs fn inside a committed unit of work
func (f *fixture) edit(t *testing.T, fn func(ctx context.Context, uow store.UnitOfWork)) {
	t.Helper()

	err := f.store.WithinUnitOfWork(context.Background(), func(ctx context.Context, uow store.UnitOfWork) error {
		fn(ctx, uow)
		return nil
	})
	require.NoError(t, err)
}

func (f *fixture) config(t *testing.T, className string) *store.EntityConfig {
	t.Helper()

	for _, c := range f.store.Configs() {
		if c.ClassName == className {
			return c
		}
	}
	t.Fatalf("entity config %s not found", className)
	return nil
}

func (f *fixture) properties(t *testing.T, className string) map[string]*store.EntityProperty {
	t.Helper()

	cfg := f.config(t, className)
	var rows []*store.EntityProperty
	f.edit(t, func(ctx context.Context, uow store.UnitOfWork) {
		var err error
		rows, err = uow.ListProperties(ctx, cfg.ID)
		require.NoError(t, err)
	})

	result := make(map[string]*store.EntityProperty, len(rows))
	for _, r := range rows {
		result[r.Name] = r
	}
	return result
}

func (f *fixture) updateProperty(t *testing.T, className, name string, mutate func(p *store.EntityProperty)) {
	t.Helper()

	p := f.properties(t, className)[name]
	require.NotNil(t, p, "property %s", name)
	mutate(p)
	f.edit(t, func(ctx context.Context, uow store.UnitOfWork) {
		require.NoError(t, uow.UpdateProperty(ctx, p))
	})
}

// faultyStore fails InsertProperty calls accepted by fail
type faultyStore struct {
	*memstore.Store
	fail func(p *store.EntityProperty) error
}

func (s *faultyStore) WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow store.UnitOfWork) error) error {
	return s.Store.WithinUnitOfWork(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		return fn(ctx, &faultyUnitOfWork{UnitOfWork: uow, fail: s.fail})
	})
}

type faultyUnitOfWork struct {
	store.UnitOfWork
	fail func(p *store.EntityProperty) error
}

func (u *faultyUnitOfWork) InsertProperty(ctx context.Context, p *store.EntityProperty) error {
	if err := u.fail(p); err != nil {
		return err
	}
	return u.UnitOfWork.InsertProperty(ctx, p)
}
