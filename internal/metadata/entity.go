package metadata

import (
	"reflect"

	"github.com/google/uuid"
)

// Entity is implemented by identity-keyed business objects. Only types whose
// pointer implements Entity take part in reconciliation.
type Entity interface {
	GetID() uuid.UUID
}

// EntityOptions carries type-level metadata that cannot be expressed with
// struct tags. Zero values fall back to defaults derived from the type name.
type EntityOptions struct {
	FriendlyName       string
	TableName          string
	TypeShortAlias     string
	DiscriminatorValue string
}

// EntityOptioner is optionally implemented by entity types to override the
// derived type-level metadata.
type EntityOptioner interface {
	EntityOptions() EntityOptions
}

// ReferenceList is implemented by named integer types backed by an
// enumerated reference list.
type ReferenceList interface {
	ReferenceList() (name, namespace string)
}

var (
	entityInterface        = reflect.TypeOf((*Entity)(nil)).Elem()
	optionerInterface      = reflect.TypeOf((*EntityOptioner)(nil)).Elem()
	referenceListInterface = reflect.TypeOf((*ReferenceList)(nil)).Elem()
)

// IsEntity reports whether t participates in reconciliation: a named,
// exported struct type whose pointer implements Entity.
func IsEntity(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t.Name() == "" {
		return false
	}
	if !isExported(t.Name()) {
		return false
	}
	return reflect.PointerTo(t).Implements(entityInterface)
}

func isExported(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}

// entityOptions reads EntityOptions from t when it implements EntityOptioner
// on either the value or the pointer receiver.
func entityOptions(t reflect.Type) EntityOptions {
	switch {
	case t.Implements(optionerInterface):
		return reflect.Zero(t).Interface().(EntityOptioner).EntityOptions()
	case reflect.PointerTo(t).Implements(optionerInterface):
		return reflect.New(t).Interface().(EntityOptioner).EntityOptions()
	default:
		return EntityOptions{}
	}
}

// referenceList returns the reference list a named type is bound to, on
// either the value or the pointer receiver. Interface types are never bound.
func referenceList(t reflect.Type) (name, namespace string, ok bool) {
	switch {
	case t.Kind() == reflect.Interface:
		return "", "", false
	case t.Implements(referenceListInterface):
		name, namespace = reflect.Zero(t).Interface().(ReferenceList).ReferenceList()
	case reflect.PointerTo(t).Implements(referenceListInterface):
		name, namespace = reflect.New(t).Interface().(ReferenceList).ReferenceList()
	default:
		return "", "", false
	}
	return name, namespace, true
}
