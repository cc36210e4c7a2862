// Package discovery enumerates the code modules whose types take part in
// entity metadata reconciliation.
//
// Go has no runtime assembly scanning, so modules are registered explicitly,
// typically from an init function in the package that declares the entities:
//
//	func init() {
//	    discovery.Register(discovery.NewModule("github.com/acme/crm/domain",
//	        Person{}, Organisation{}))
//	}
package discovery

import (
	"reflect"
	"runtime/debug"
	"strings"
	"sync"
)

// Module is a unit of code that declares types
type Module struct {
	// Path is the import path of the module or package
	Path string
	// Version is the module version, empty for the main module in development
	Version string
	// Dynamic modules are generated at runtime and never reconciled
	Dynamic bool
	// Types declared by the module, in registration order
	Types []reflect.Type
}

// Identity returns the full identity used to de-duplicate modules
func (m Module) Identity() string {
	if m.Version == "" {
		return m.Path
	}
	return m.Path + "@" + m.Version
}

// NewModule builds a module from sample values of its types. The version is
// resolved from the binary's build information.
func NewModule(path string, samples ...interface{}) Module {
	types := make([]reflect.Type, 0, len(samples))
	for _, s := range samples {
		if s == nil {
			continue
		}
		types = append(types, reflect.TypeOf(s))
	}
	return Module{
		Path:    path,
		Version: ResolveVersion(path),
		Types:   types,
	}
}

// Finder enumerates loaded modules
type Finder interface {
	Modules() []Module
}

// FinderFunc adapts a function to the Finder interface
type FinderFunc func() []Module

// Modules calls f()
func (f FinderFunc) Modules() []Module {
	return f()
}

// Catalog is a Finder backed by explicit registrations
type Catalog struct {
	mu      sync.RWMutex
	modules []Module
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{}
}

// Register adds a module to the catalog. Registering the same identity twice
// is allowed; the first registration wins.
func (c *Catalog) Register(modules ...Module) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.modules = append(c.modules, modules...)
}

// Modules returns non-dynamic modules de-duplicated by identity, in
// registration order.
func (c *Catalog) Modules() []Module {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool, len(c.modules))
	result := make([]Module, 0, len(c.modules))
	for _, m := range c.modules {
		if m.Dynamic {
			continue
		}
		id := m.Identity()
		if seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, m)
	}
	return result
}

// Count returns the number of registrations, duplicates included
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.modules)
}

// Clear removes all registrations (useful for testing)
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.modules = nil
}

// Default is the process-wide catalog populated by init functions
var Default = NewCatalog()

// Register adds modules to the default catalog
func Register(modules ...Module) {
	Default.Register(modules...)
}

// EntityTypes returns the distinct types of m accepted by isEntity, in
// registration order. Pointer types are normalised to their element type.
func EntityTypes(m Module, isEntity func(reflect.Type) bool) []reflect.Type {
	seen := make(map[reflect.Type]bool, len(m.Types))
	var result []reflect.Type
	for _, t := range m.Types {
		if t == nil {
			continue
		}
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if seen[t] || !isEntity(t) {
			continue
		}
		seen[t] = true
		result = append(result, t)
	}
	return result
}

var (
	buildInfoOnce sync.Once
	buildInfo     *debug.BuildInfo
)

// ResolveVersion returns the version of the module that contains path,
// according to the running binary's build information. It returns an empty
// string when the information is unavailable or the path belongs to the
// main module built from a working tree.
func ResolveVersion(path string) string {
	buildInfoOnce.Do(func() {
		if info, ok := debug.ReadBuildInfo(); ok {
			buildInfo = info
		}
	})
	if buildInfo == nil {
		return ""
	}

	best, version := "", ""
	consider := func(m *debug.Module) {
		if m == nil || m.Path == "" {
			return
		}
		if path != m.Path && !strings.HasPrefix(path, m.Path+"/") {
			return
		}
		if len(m.Path) > len(best) {
			best, version = m.Path, m.Version
		}
	}

	consider(&buildInfo.Main)
	for _, dep := range buildInfo.Deps {
		consider(dep)
	}

	if version == "(devel)" {
		return ""
	}
	return version
}
