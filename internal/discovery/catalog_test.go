package discovery

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alpha struct{}
type beta struct{}
type gamma struct{}

func onlyAlphaAndBeta(t reflect.Type) bool {
	return t == reflect.TypeOf(alpha{}) || t == reflect.TypeOf(beta{})
}

func TestModule_Identity(t *testing.T) {
	assert.Equal(t, "example.com/crm", Module{Path: "example.com/crm"}.Identity())
	assert.Equal(t, "example.com/crm@v1.2.0", Module{Path: "example.com/crm", Version: "v1.2.0"}.Identity())
}

func TestNewModule(t *testing.T) {
	m := NewModule("example.com/crm", alpha{}, &beta{}, nil)

	assert.Equal(t, "example.com/crm", m.Path)
	require.Len(t, m.Types, 2)
	assert.Equal(t, reflect.TypeOf(alpha{}), m.Types[0])
	assert.Equal(t, reflect.TypeOf(&beta{}), m.Types[1])
}

func TestCatalog_ModulesDeduplicatesByIdentity(t *testing.T) {
	c := NewCatalog()
	c.Register(
		Module{Path: "example.com/a", Version: "v1.0.0", Types: []reflect.Type{reflect.TypeOf(alpha{})}},
		Module{Path: "example.com/b"},
		Module{Path: "example.com/a", Version: "v1.0.0", Types: []reflect.Type{reflect.TypeOf(gamma{})}},
		Module{Path: "example.com/a", Version: "v2.0.0"},
		Module{Path: "example.com/generated", Dynamic: true},
	)

	mods := c.Modules()
	require.Len(t, mods, 3)
	assert.Equal(t, "example.com/a@v1.0.0", mods[0].Identity())
	assert.Equal(t, reflect.TypeOf(alpha{}), mods[0].Types[0], "first registration wins")
	assert.Equal(t, "example.com/b", mods[1].Identity())
	assert.Equal(t, "example.com/a@v2.0.0", mods[2].Identity())

	assert.Equal(t, 5, c.Count())
	c.Clear()
	assert.Empty(t, c.Modules())
}

func TestCatalog_ConcurrentRegister(t *testing.T) {
	c := NewCatalog()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Register(Module{Path: "example.com/shared"})
			_ = c.Modules()
		}()
	}
	wg.Wait()

	assert.Len(t, c.Modules(), 1)
	assert.Equal(t, 20, c.Count())
}

func TestEntityTypes(t *testing.T) {
	m := Module{
		Path: "example.com/crm",
		Types: []reflect.Type{
			reflect.TypeOf(gamma{}),
			reflect.TypeOf(&alpha{}),
			reflect.TypeOf(beta{}),
			reflect.TypeOf(alpha{}),
			nil,
		},
	}

	types := EntityTypes(m, onlyAlphaAndBeta)
	assert.Equal(t, []reflect.Type{reflect.TypeOf(alpha{}), reflect.TypeOf(beta{})}, types)
}

func TestFinderFunc(t *testing.T) {
	f := FinderFunc(func() []Module { return []Module{{Path: "x"}} })
	assert.Len(t, f.Modules(), 1)
}

func TestResolveVersion_UnknownPath(t *testing.T) {
	assert.Equal(t, "", ResolveVersion("example.invalid/not/a/dependency"))
}
