// Package store defines the persisted entity metadata model and the
// repository contracts the reconciliation engine works against.
package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/Tshabani/shesha-core/internal/metadata"
)

// Key is the natural key of an entity configuration
type Key struct {
	ClassName string
	Namespace string
}

// String returns Namespace.ClassName
func (k Key) String() string {
	if k.Namespace == "" {
		return k.ClassName
	}
	return k.Namespace + "." + k.ClassName
}

// EntityConfig is the persisted form of an entity type
type EntityConfig struct {
	ID                 uuid.UUID
	ClassName          string `meta:"label=Class name"`
	Namespace          string
	FriendlyName       string `meta:"label=Friendly name"`
	TableName          string `meta:"label=Table name"`
	TypeShortAlias     string `meta:"label=Type short alias"`
	DiscriminatorValue string `meta:"label=Discriminator value"`
	PropertiesMD5      string `meta:"label=Properties MD5"`
	Source             metadata.Source
	CreatedAt          time.Time `meta:",framework"`
	UpdatedAt          time.Time `meta:",framework"`
	IsDeleted          bool      `meta:",framework"`
}

// GetID returns the primary key
func (c *EntityConfig) GetID() uuid.UUID { return c.ID }

// EntityOptions declares the type-level metadata of the model itself
func (EntityConfig) EntityOptions() metadata.EntityOptions {
	return metadata.EntityOptions{
		FriendlyName:   "Entity Configuration",
		TableName:      "entity_configs",
		TypeShortAlias: "Shesha.Core.EntityConfig",
	}
}

// Key returns the natural key
func (c *EntityConfig) Key() Key {
	return Key{ClassName: c.ClassName, Namespace: c.Namespace}
}

// Clone returns a copy of c
func (c *EntityConfig) Clone() *EntityConfig {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// EntityProperty is the persisted form of an entity property. A nested
// items-type row has ParentID set and is reachable through the owning
// array property's ItemsType.
type EntityProperty struct {
	ID                     uuid.UUID
	EntityConfigID         uuid.UUID `meta:"label=Entity config"`
	ParentID               *uuid.UUID
	Name                   string
	DataType               metadata.DataType `meta:"label=Data type"`
	DataFormat             string            `meta:"label=Data format"`
	EntityType             string            `meta:"label=Entity type"`
	ReferenceListName      string            `meta:"label=Reference list name"`
	ReferenceListNamespace string            `meta:"label=Reference list namespace"`
	IsFrameworkRelated     bool              `meta:"label=Framework related"`
	Source                 metadata.Source
	SortOrder              int32 `meta:"label=Sort order"`
	Label                  string
	Description            string `meta:"format=multiline"`
	ItemsType              *EntityProperty `meta:"label=Items type"`
	CreatedAt              time.Time       `meta:",framework"`
	UpdatedAt              time.Time       `meta:",framework"`
}

// GetID returns the primary key
func (p *EntityProperty) GetID() uuid.UUID { return p.ID }

// EntityOptions declares the type-level metadata of the model itself
func (EntityProperty) EntityOptions() metadata.EntityOptions {
	return metadata.EntityOptions{
		FriendlyName:   "Entity Property",
		TableName:      "entity_properties",
		TypeShortAlias: "Shesha.Core.EntityProperty",
	}
}

// Clone returns a deep copy of p, including its items type
func (p *EntityProperty) Clone() *EntityProperty {
	if p == nil {
		return nil
	}
	cp := *p
	if p.ParentID != nil {
		parent := *p.ParentID
		cp.ParentID = &parent
	}
	cp.ItemsType = p.ItemsType.Clone()
	return &cp
}
