// Package metadata describes entity types and their properties as declared in
// application code, and computes the fingerprints used to detect whether a
// persisted copy of that metadata is out of date.
package metadata

import (
	"fmt"
	"reflect"
)

// DataType is the declared data type of an entity property
type DataType string

const (
	TypeGuid              DataType = "guid"
	TypeString            DataType = "string"
	TypeNumber            DataType = "number"
	TypeBoolean           DataType = "boolean"
	TypeDate              DataType = "date"
	TypeTime              DataType = "time"
	TypeDateTime          DataType = "date-time"
	TypeEntityReference   DataType = "entity"
	TypeReferenceListItem DataType = "reference-list-item"
	TypeObject            DataType = "object"
	TypeArray             DataType = "array"
	TypeFile              DataType = "file"
)

// Data formats
const (
	FormatSingleLine = "singleline"
	FormatMultiLine  = "multiline"
	FormatHTML       = "html"
	FormatJSON       = "json"
	FormatBinary     = "binary"
	FormatInt32      = "int32"
	FormatInt64      = "int64"
	FormatFloat      = "float"
	FormatDouble     = "double"
	FormatDecimal    = "decimal"
)

// ParseDataType converts a string to a DataType
func ParseDataType(s string) (DataType, error) {
	switch dt := DataType(s); dt {
	case TypeGuid, TypeString, TypeNumber, TypeBoolean, TypeDate, TypeTime, TypeDateTime,
		TypeEntityReference, TypeReferenceListItem, TypeObject, TypeArray, TypeFile:
		return dt, nil
	default:
		return "", fmt.Errorf("unknown data type: %s", s)
	}
}

// IsScalar reports whether the type renders as a bare field
func (d DataType) IsScalar() bool {
	return d != TypeObject && d != TypeArray && d != TypeEntityReference
}

// Source is the provenance of a persisted metadata row
type Source int

const (
	// SourceApplicationCode rows are owned by reconciliation
	SourceApplicationCode Source = 1
	// SourceUserDefined rows are never modified by reconciliation
	SourceUserDefined Source = 2
)

// String returns the string representation of the source
func (s Source) String() string {
	switch s {
	case SourceApplicationCode:
		return "ApplicationCode"
	case SourceUserDefined:
		return "UserDefined"
	default:
		return "Unknown"
	}
}

// ReferenceList names the reference list backing Source values
func (Source) ReferenceList() (name, namespace string) {
	return "MetadataSourceType", "Shesha.Core"
}

// PropertyDescriptor is the structural description of one entity property
// as declared in code.
type PropertyDescriptor struct {
	Path                   string
	DataType               DataType
	DataFormat             string
	EntityTypeAlias        string
	ReferenceListName      string
	ReferenceListNamespace string
	IsFrameworkRelated     bool
	ItemsType              *PropertyDescriptor
	Label                  string
	Description            string
}

// EntityDescriptor describes an entity type declared in code
type EntityDescriptor struct {
	ClassName          string
	Namespace          string
	FriendlyName       string
	TableName          string
	TypeShortAlias     string
	DiscriminatorValue string
	Properties         []PropertyDescriptor

	// Type is the reflected type the descriptor was built from (may be nil)
	Type reflect.Type
}

// FullName returns Namespace.ClassName
func (e *EntityDescriptor) FullName() string {
	if e.Namespace == "" {
		return e.ClassName
	}
	return e.Namespace + "." + e.ClassName
}

// SafeTypeShortAlias returns the declared alias or, when none was declared,
// the full name, which cannot collide across namespaces.
func (e *EntityDescriptor) SafeTypeShortAlias() string {
	if e.TypeShortAlias != "" {
		return e.TypeShortAlias
	}
	return e.FullName()
}
