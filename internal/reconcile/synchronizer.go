package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tshabani/shesha-core/internal/metadata"
	"github.com/Tshabani/shesha-core/internal/store"
)

// PropertySynchronizer brings the persisted properties of one entity
// configuration in line with the properties declared in code.
type PropertySynchronizer struct {
	logger *zap.Logger
}

// NewPropertySynchronizer creates a synchronizer
func NewPropertySynchronizer(logger *zap.Logger) *PropertySynchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PropertySynchronizer{logger: logger}
}

// SyncResult is the outcome of one synchronization
type SyncResult struct {
	Changes     PropertyChanges
	Diagnostics []Diagnostic
}

// Sync inserts missing properties, updates the code-owned fields of existing
// ones, reconciles array item types, deletes stale code-sourced properties
// and finally stores fingerprint on config. Labels and descriptions of
// existing properties are left as they are. Rows are written only when
// they change.
func (s *PropertySynchronizer) Sync(
	ctx context.Context,
	repo store.Repository,
	config *store.EntityConfig,
	properties []metadata.PropertyDescriptor,
	fingerprint string,
) (SyncResult, error) {
	var result SyncResult

	persisted, err := repo.ListProperties(ctx, config.ID)
	if err != nil {
		return result, fmt.Errorf("failed to load properties: %w", err)
	}

	result.Diagnostics = duplicatePaths(config, properties)
	for _, d := range result.Diagnostics {
		s.logger.Warn("duplicate property path",
			zap.String("entity", d.Entity),
			zap.String("path", d.Path))
	}

	nextSortOrder := int32(0)
	byPath := make(map[string]*store.EntityProperty, len(persisted))
	for _, p := range persisted {
		if p.SortOrder >= nextSortOrder {
			nextSortOrder = p.SortOrder + 1
		}
		if _, dup := byPath[p.Name]; !dup {
			byPath[p.Name] = p
		}
	}

	inCode := make(map[string]bool, len(properties))
	for _, cp := range properties {
		inCode[cp.Path] = true

		row, ok := byPath[cp.Path]
		if !ok {
			row = &store.EntityProperty{
				ID:             uuid.New(),
				EntityConfigID: config.ID,
				Source:         metadata.SourceApplicationCode,
				SortOrder:      nextSortOrder,
			}
			nextSortOrder++
			mapProperty(cp, row, true)

			if err := repo.InsertProperty(ctx, row); err != nil {
				return result, fmt.Errorf("failed to insert property %s: %w", cp.Path, err)
			}
			byPath[cp.Path] = row
			result.Changes.Inserted = append(result.Changes.Inserted, cp.Path)
		} else {
			before := *row
			row.Source = metadata.SourceApplicationCode
			mapProperty(cp, row, false)

			if !sameRow(&before, row) {
				if err := repo.UpdateProperty(ctx, row); err != nil {
					return result, fmt.Errorf("failed to update property %s: %w", cp.Path, err)
				}
				result.Changes.Updated = append(result.Changes.Updated, cp.Path)
			}
		}

		if err := s.syncItemsType(ctx, repo, row, cp, &result.Changes); err != nil {
			return result, err
		}
	}

	for _, p := range persisted {
		if p.Source != metadata.SourceApplicationCode || inCode[p.Name] {
			continue
		}
		if err := repo.DeleteProperty(ctx, p.ID); err != nil {
			return result, fmt.Errorf("failed to delete property %s: %w", p.Name, err)
		}
		result.Changes.Deleted = append(result.Changes.Deleted, p.Name)
	}

	config.PropertiesMD5 = fingerprint
	if err := repo.UpdateConfig(ctx, config); err != nil {
		return result, fmt.Errorf("failed to store properties fingerprint: %w", err)
	}

	return result, nil
}

// syncItemsType keeps exactly one items-type row under an array property
// that declares an item descriptor, and none otherwise.
func (s *PropertySynchronizer) syncItemsType(
	ctx context.Context,
	repo store.Repository,
	row *store.EntityProperty,
	cp metadata.PropertyDescriptor,
	changes *PropertyChanges,
) error {
	label := cp.Path + "[]"

	if row.DataType != metadata.TypeArray || cp.ItemsType == nil {
		if row.ItemsType == nil {
			return nil
		}
		if err := repo.DeleteProperty(ctx, row.ItemsType.ID); err != nil {
			return fmt.Errorf("failed to delete items type of %s: %w", cp.Path, err)
		}
		row.ItemsType = nil
		changes.Deleted = append(changes.Deleted, label)
		return nil
	}

	if row.ItemsType == nil {
		parentID := row.ID
		items := &store.EntityProperty{
			ID:             uuid.New(),
			EntityConfigID: row.EntityConfigID,
			ParentID:       &parentID,
			Source:         metadata.SourceApplicationCode,
			SortOrder:      0,
		}
		mapProperty(*cp.ItemsType, items, true)

		if err := repo.InsertProperty(ctx, items); err != nil {
			return fmt.Errorf("failed to insert items type of %s: %w", cp.Path, err)
		}
		row.ItemsType = items
		changes.Inserted = append(changes.Inserted, label)
		return nil
	}

	items := row.ItemsType
	before := *items
	mapProperty(*cp.ItemsType, items, false)
	items.Source = metadata.SourceApplicationCode
	items.SortOrder = 0

	if sameRow(&before, items) {
		return nil
	}
	if err := repo.UpdateProperty(ctx, items); err != nil {
		return fmt.Errorf("failed to update items type of %s: %w", cp.Path, err)
	}
	changes.Updated = append(changes.Updated, label)
	return nil
}

// mapProperty copies the code-owned fields of src onto dst. Label and
// description are copied only on initial population.
func mapProperty(src metadata.PropertyDescriptor, dst *store.EntityProperty, initial bool) {
	dst.Name = src.Path
	dst.DataType = src.DataType
	dst.DataFormat = src.DataFormat
	dst.EntityType = src.EntityTypeAlias
	dst.ReferenceListName = src.ReferenceListName
	dst.ReferenceListNamespace = src.ReferenceListNamespace
	dst.IsFrameworkRelated = src.IsFrameworkRelated

	if initial {
		dst.Label = src.Label
		dst.Description = src.Description
	}
}

// sameRow compares the persisted columns written by synchronization
func sameRow(a, b *store.EntityProperty) bool {
	return a.Name == b.Name &&
		a.DataType == b.DataType &&
		a.DataFormat == b.DataFormat &&
		a.EntityType == b.EntityType &&
		a.ReferenceListName == b.ReferenceListName &&
		a.ReferenceListNamespace == b.ReferenceListNamespace &&
		a.IsFrameworkRelated == b.IsFrameworkRelated &&
		a.Source == b.Source &&
		a.SortOrder == b.SortOrder &&
		a.Label == b.Label &&
		a.Description == b.Description
}

func duplicatePaths(config *store.EntityConfig, properties []metadata.PropertyDescriptor) []Diagnostic {
	counts := make(map[string]int, len(properties))
	for _, p := range properties {
		counts[p.Path]++
	}

	var result []Diagnostic
	reported := make(map[string]bool)
	for _, p := range properties {
		if counts[p.Path] < 2 || reported[p.Path] {
			continue
		}
		reported[p.Path] = true
		result = append(result, Diagnostic{
			Code:    DuplicatePath,
			Entity:  config.Key().String(),
			Path:    p.Path,
			Message: fmt.Sprintf("declared %d times; properties are applied in declaration order", counts[p.Path]),
		})
	}
	return result
}
