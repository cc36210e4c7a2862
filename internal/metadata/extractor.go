package metadata

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	ustrings "github.com/Tshabani/shesha-core/internal/util/strings"
)

var (
	// ErrNotEntity is returned when a type does not implement the entity capability
	ErrNotEntity = errors.New("type is not an entity")

	// ErrUnsupportedMember is returned when a member cannot be mapped to a data type
	ErrUnsupportedMember = errors.New("unsupported member type")
)

// Provider builds entity descriptors from runtime types
type Provider interface {
	Describe(t reflect.Type) (*EntityDescriptor, error)
}

// ProviderFunc adapts a function to the Provider interface
type ProviderFunc func(t reflect.Type) (*EntityDescriptor, error)

// Describe calls f(t)
func (f ProviderFunc) Describe(t reflect.Type) (*EntityDescriptor, error) {
	return f(t)
}

var (
	timeType  = reflect.TypeOf(time.Time{})
	uuidType  = reflect.TypeOf(uuid.UUID{})
	bytesType = reflect.TypeOf([]byte(nil))
)

// ReflectProvider extracts descriptors from struct types using reflection and
// `meta` struct tags. Descriptors are cached per type; the provider is safe
// for concurrent use.
//
// Supported tag keys:
//
//	meta:"label=Full name,description=Person's full name,format=multiline"
//	meta:"type=date"                    narrows time.Time to a date or time
//	meta:"reflist=Shesha.Core.Gender"   binds a reference list
//	meta:"framework"                    marks the member framework-related
//	meta:"-"                            skips the member
//
// An embedded struct tagged `meta:",framework"` marks every promoted member
// as framework-related.
type ReflectProvider struct {
	cache sync.Map // map[reflect.Type]*EntityDescriptor
}

// NewReflectProvider creates a new reflection-based provider
func NewReflectProvider() *ReflectProvider {
	return &ReflectProvider{}
}

// Describe returns the descriptor for t. Properties are listed in field
// declaration order with embedded structs flattened in place; object members
// are followed by their children under dotted paths.
func (p *ReflectProvider) Describe(t reflect.Type) (*EntityDescriptor, error) {
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if !IsEntity(t) {
		return nil, fmt.Errorf("%w: %v", ErrNotEntity, t)
	}

	if cached, ok := p.cache.Load(t); ok {
		return cloneDescriptor(cached.(*EntityDescriptor)), nil
	}

	desc, err := p.build(t)
	if err != nil {
		return nil, err
	}
	p.cache.Store(t, desc)
	return cloneDescriptor(desc), nil
}

func (p *ReflectProvider) build(t reflect.Type) (*EntityDescriptor, error) {
	opts := entityOptions(t)

	desc := &EntityDescriptor{
		ClassName:          t.Name(),
		Namespace:          t.PkgPath(),
		FriendlyName:       opts.FriendlyName,
		TableName:          opts.TableName,
		TypeShortAlias:     opts.TypeShortAlias,
		DiscriminatorValue: opts.DiscriminatorValue,
		Type:               t,
	}
	if desc.FriendlyName == "" {
		desc.FriendlyName = ustrings.ToWords(t.Name())
	}
	if desc.TableName == "" {
		desc.TableName = ustrings.Pluralize(ustrings.ToSnakeCase(t.Name()))
	}
	if desc.DiscriminatorValue == "" {
		desc.DiscriminatorValue = desc.FullName()
	}

	w := &walker{visited: map[reflect.Type]bool{t: true}}
	if err := w.walk(t, "", false); err != nil {
		return nil, fmt.Errorf("%s: %w", desc.FullName(), err)
	}
	desc.Properties = w.props
	return desc, nil
}

type walker struct {
	props   []PropertyDescriptor
	visited map[reflect.Type]bool
}

func (w *walker) walk(t reflect.Type, prefix string, framework bool) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := parseMetaTag(f.Tag.Get("meta"))
		if tag.skip {
			continue
		}

		if f.Anonymous {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct && ft != timeType {
				if err := w.walk(ft, prefix, framework || tag.framework); err != nil {
					return err
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}

		path := joinPath(prefix, f.Name)
		prop, err := describeMember(f.Type, path, tag)
		if err != nil {
			return err
		}
		prop.IsFrameworkRelated = framework || tag.framework
		w.props = append(w.props, prop)

		if prop.DataType == TypeObject {
			ft := indirect(f.Type)
			if w.visited[ft] {
				continue
			}
			w.visited[ft] = true
			err := w.walk(ft, path, prop.IsFrameworkRelated)
			delete(w.visited, ft)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// describeMember maps a single member to a descriptor, applying tag overrides
func describeMember(t reflect.Type, path string, tag metaTag) (PropertyDescriptor, error) {
	prop, err := classify(t, path)
	if err != nil {
		return PropertyDescriptor{}, fmt.Errorf("member %s: %w", path, err)
	}

	prop.Label = tag.label
	if prop.Label == "" {
		prop.Label = ustrings.ToWords(lastSegment(path))
	}
	prop.Description = tag.description

	if tag.dataType != "" {
		dt, err := ParseDataType(tag.dataType)
		if err != nil {
			return PropertyDescriptor{}, fmt.Errorf("member %s: %w", path, err)
		}
		if dt != prop.DataType {
			prop.DataFormat = ""
		}
		prop.DataType = dt
	}
	if tag.format != "" {
		prop.DataFormat = tag.format
	}
	if tag.refList != "" {
		prop.DataType = TypeReferenceListItem
		prop.DataFormat = ""
		prop.ReferenceListNamespace, prop.ReferenceListName = splitQualified(tag.refList)
	}
	return prop, nil
}

// classify derives data type, format and reference details from a Go type.
// Arrays recurse exactly one level into their element type.
func classify(t reflect.Type, path string) (PropertyDescriptor, error) {
	prop := PropertyDescriptor{Path: path}

	if t == bytesType {
		prop.DataType, prop.DataFormat = TypeString, FormatBinary
		return prop, nil
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t {
	case timeType:
		prop.DataType = TypeDateTime
		return prop, nil
	case uuidType:
		prop.DataType = TypeGuid
		return prop, nil
	}

	if name, ns, ok := referenceList(t); ok {
		prop.DataType = TypeReferenceListItem
		prop.ReferenceListName, prop.ReferenceListNamespace = name, ns
		return prop, nil
	}

	switch t.Kind() {
	case reflect.String:
		prop.DataType, prop.DataFormat = TypeString, FormatSingleLine
	case reflect.Bool:
		prop.DataType = TypeBoolean
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		prop.DataType, prop.DataFormat = TypeNumber, FormatInt32
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64:
		prop.DataType, prop.DataFormat = TypeNumber, FormatInt64
	case reflect.Float32:
		prop.DataType, prop.DataFormat = TypeNumber, FormatFloat
	case reflect.Float64:
		prop.DataType, prop.DataFormat = TypeNumber, FormatDouble
	case reflect.Struct:
		if IsEntity(t) {
			prop.DataType = TypeEntityReference
			prop.EntityTypeAlias = typeAlias(t)
		} else {
			prop.DataType = TypeObject
		}
	case reflect.Slice, reflect.Array:
		items, err := classifyItems(t.Elem(), path)
		if err != nil {
			return prop, err
		}
		prop.DataType = TypeArray
		prop.ItemsType = &items
	default:
		return prop, fmt.Errorf("%w: %s", ErrUnsupportedMember, t.Kind())
	}
	return prop, nil
}

// classifyItems describes an array element without descending further
func classifyItems(t reflect.Type, path string) (PropertyDescriptor, error) {
	elem := t
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if (elem.Kind() == reflect.Slice || elem.Kind() == reflect.Array) && elem != bytesType && elem != uuidType {
		return PropertyDescriptor{Path: path, DataType: TypeArray}, nil
	}
	return classify(t, path)
}

func typeAlias(t reflect.Type) string {
	if alias := entityOptions(t).TypeShortAlias; alias != "" {
		return alias
	}
	return t.PkgPath() + "." + t.Name()
}

func indirect(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// splitQualified splits "Shesha.Core.Gender" into ("Shesha.Core", "Gender")
func splitQualified(s string) (namespace, name string) {
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return "", s
}

func cloneDescriptor(d *EntityDescriptor) *EntityDescriptor {
	c := *d
	c.Properties = make([]PropertyDescriptor, len(d.Properties))
	for i, p := range d.Properties {
		c.Properties[i] = p
		if p.ItemsType != nil {
			items := *p.ItemsType
			c.Properties[i].ItemsType = &items
		}
	}
	return &c
}
