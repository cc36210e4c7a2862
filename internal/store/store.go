package store

import (
	"context"

	"github.com/google/uuid"
)

// Reader loads persisted metadata
type Reader interface {
	// ListConfigs returns every entity configuration, deleted ones included
	ListConfigs(ctx context.Context) ([]*EntityConfig, error)

	// ListProperties returns the top-level properties owned by a
	// configuration ordered by sort order, each with its items type attached.
	ListProperties(ctx context.Context, configID uuid.UUID) ([]*EntityProperty, error)
}

// Repository is CRUD over entity configurations and properties. Writes are
// visible to subsequent reads of the same unit of work.
type Repository interface {
	Reader

	InsertConfig(ctx context.Context, config *EntityConfig) error
	UpdateConfig(ctx context.Context, config *EntityConfig) error

	// InsertProperty persists the row itself; ItemsType is ignored and must be
	// inserted separately with ParentID set.
	InsertProperty(ctx context.Context, property *EntityProperty) error
	UpdateProperty(ctx context.Context, property *EntityProperty) error

	// DeleteProperty removes a property together with its items-type row
	DeleteProperty(ctx context.Context, id uuid.UUID) error
}

// Step is a savepoint inside a unit of work
type Step interface {
	// Commit releases the savepoint, keeping its writes
	Commit() error
	// Rollback discards every write made since the savepoint
	Rollback() error
}

// UnitOfWork is a Repository bound to one transaction
type UnitOfWork interface {
	Repository

	// Step opens a savepoint
	Step(ctx context.Context) (Step, error)
}

// Store opens units of work. The unit is committed when fn returns nil and
// rolled back otherwise.
type Store interface {
	WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}
