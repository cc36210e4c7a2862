// Package memstore is an in-memory implementation of store.Store. Units of
// work operate on a private copy of the data that replaces the shared state
// on commit; savepoints are snapshots of that copy.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tshabani/shesha-core/internal/store"
)

// Writes counts committed write operations
type Writes struct {
	ConfigInserts   int
	ConfigUpdates   int
	PropertyInserts int
	PropertyUpdates int
	PropertyDeletes int
}

// Total returns the sum of all counters
func (w Writes) Total() int {
	return w.ConfigInserts + w.ConfigUpdates + w.PropertyInserts + w.PropertyUpdates + w.PropertyDeletes
}

type state struct {
	configs    []*store.EntityConfig
	properties []*store.EntityProperty
	writes     Writes
}

func (s *state) clone() *state {
	cp := &state{
		configs:    make([]*store.EntityConfig, len(s.configs)),
		properties: make([]*store.EntityProperty, len(s.properties)),
		writes:     s.writes,
	}
	for i, c := range s.configs {
		cp.configs[i] = c.Clone()
	}
	for i, p := range s.properties {
		cp.properties[i] = p.Clone()
	}
	return cp
}

// Store is an in-memory store.Store. Units of work are serialized.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		state: &state{},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithinUnitOfWork runs fn against a private copy of the data
func (s *Store) WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow store.UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uow := &unitOfWork{state: s.state.clone(), now: s.now}
	if err := fn(ctx, uow); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("unit of work cancelled: %w", err)
	}

	s.state = uow.state
	return nil
}

// Writes returns the committed write counters
func (s *Store) Writes() Writes {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.writes
}

// ResetWrites zeroes the write counters
func (s *Store) ResetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.writes = Writes{}
}

// Configs returns copies of every committed configuration
func (s *Store) Configs() []*store.EntityConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*store.EntityConfig, len(s.state.configs))
	for i, c := range s.state.configs {
		result[i] = c.Clone()
	}
	return result
}

// Properties returns copies of every committed property row, nested
// items-type rows included.
func (s *Store) Properties() []*store.EntityProperty {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*store.EntityProperty, len(s.state.properties))
	for i, p := range s.state.properties {
		result[i] = p.Clone()
	}
	return result
}

type unitOfWork struct {
	state *state
	steps []*step
	now   func() time.Time
}

type step struct {
	uow      *unitOfWork
	snapshot *state
	done     bool
}

var errStepClosed = errors.New("savepoint already released or rolled back")

func (s *step) Commit() error {
	if s.done {
		return errStepClosed
	}
	s.done = true
	s.uow.pop(s)
	return nil
}

func (s *step) Rollback() error {
	if s.done {
		return nil
	}
	s.done = true
	s.uow.state = s.snapshot
	s.uow.pop(s)
	return nil
}

func (u *unitOfWork) pop(s *step) {
	for i := len(u.steps) - 1; i >= 0; i-- {
		if u.steps[i] == s {
			u.steps = u.steps[:i]
			return
		}
	}
}

func (u *unitOfWork) Step(ctx context.Context) (store.Step, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &step{uow: u, snapshot: u.state.clone()}
	u.steps = append(u.steps, s)
	return s, nil
}

func (u *unitOfWork) ListConfigs(ctx context.Context) ([]*store.EntityConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := make([]*store.EntityConfig, len(u.state.configs))
	for i, c := range u.state.configs {
		result[i] = c.Clone()
	}
	return result, nil
}

func (u *unitOfWork) InsertConfig(ctx context.Context, config *store.EntityConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if config.ID == uuid.Nil {
		config.ID = uuid.New()
	}
	for _, c := range u.state.configs {
		if c.ID == config.ID {
			return store.NewDBError(store.ErrUniqueViolation, "entity_configs.id", nil)
		}
		if !c.IsDeleted && !config.IsDeleted && c.Key() == config.Key() {
			return store.NewDBError(store.ErrUniqueViolation, "entity_configs natural key "+config.Key().String(), nil)
		}
	}

	now := u.now()
	config.CreatedAt, config.UpdatedAt = now, now
	u.state.configs = append(u.state.configs, config.Clone())
	u.state.writes.ConfigInserts++
	return nil
}

func (u *unitOfWork) UpdateConfig(ctx context.Context, config *store.EntityConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, c := range u.state.configs {
		if c.ID != config.ID {
			continue
		}
		config.CreatedAt = c.CreatedAt
		config.UpdatedAt = u.now()
		u.state.configs[i] = config.Clone()
		u.state.writes.ConfigUpdates++
		return nil
	}
	return store.NewDBError(store.ErrNotFound, "entity config "+config.ID.String(), nil)
}

func (u *unitOfWork) ListProperties(ctx context.Context, configID uuid.UUID) ([]*store.EntityProperty, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := make(map[uuid.UUID]*store.EntityProperty)
	for _, p := range u.state.properties {
		if p.EntityConfigID == configID && p.ParentID != nil {
			items[*p.ParentID] = p
		}
	}

	var result []*store.EntityProperty
	for _, p := range u.state.properties {
		if p.EntityConfigID != configID || p.ParentID != nil {
			continue
		}
		cp := p.Clone()
		cp.ItemsType = items[p.ID].Clone()
		result = append(result, cp)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].SortOrder < result[j].SortOrder
	})
	return result, nil
}

func (u *unitOfWork) InsertProperty(ctx context.Context, property *store.EntityProperty) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !u.hasConfig(property.EntityConfigID) {
		return store.NewDBError(store.ErrForeignKeyViolation, "entity_properties.entity_config_id", nil)
	}
	if property.ParentID != nil && u.indexOf(*property.ParentID) < 0 {
		return store.NewDBError(store.ErrForeignKeyViolation, "entity_properties.parent_id", nil)
	}
	if property.ID == uuid.Nil {
		property.ID = uuid.New()
	}
	if u.indexOf(property.ID) >= 0 {
		return store.NewDBError(store.ErrUniqueViolation, "entity_properties.id", nil)
	}

	now := u.now()
	property.CreatedAt, property.UpdatedAt = now, now
	row := property.Clone()
	row.ItemsType = nil
	u.state.properties = append(u.state.properties, row)
	u.state.writes.PropertyInserts++
	return nil
}

func (u *unitOfWork) UpdateProperty(ctx context.Context, property *store.EntityProperty) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i := u.indexOf(property.ID)
	if i < 0 {
		return store.NewDBError(store.ErrNotFound, "entity property "+property.ID.String(), nil)
	}

	property.CreatedAt = u.state.properties[i].CreatedAt
	property.UpdatedAt = u.now()
	row := property.Clone()
	row.ItemsType = nil
	u.state.properties[i] = row
	u.state.writes.PropertyUpdates++
	return nil
}

func (u *unitOfWork) DeleteProperty(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if u.indexOf(id) < 0 {
		return store.NewDBError(store.ErrNotFound, "entity property "+id.String(), nil)
	}

	kept := u.state.properties[:0]
	for _, p := range u.state.properties {
		if p.ID == id || (p.ParentID != nil && *p.ParentID == id) {
			continue
		}
		kept = append(kept, p)
	}
	u.state.properties = kept
	u.state.writes.PropertyDeletes++
	return nil
}

func (u *unitOfWork) hasConfig(id uuid.UUID) bool {
	for _, c := range u.state.configs {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (u *unitOfWork) indexOf(id uuid.UUID) int {
	for i, p := range u.state.properties {
		if p.ID == id {
			return i
		}
	}
	return -1
}
