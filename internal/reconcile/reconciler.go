// Package reconcile keeps persisted entity metadata in line with the entity
// types declared in code.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tshabani/shesha-core/internal/discovery"
	"github.com/Tshabani/shesha-core/internal/lock"
	"github.com/Tshabani/shesha-core/internal/metadata"
	"github.com/Tshabani/shesha-core/internal/store"
)

// Invalidator drops cached property trees of changed entities
type Invalidator interface {
	Invalidate(ctx context.Context, names ...string) error
}

// Options configures a Reconciler. Finder, Provider and Store are required.
type Options struct {
	Finder   discovery.Finder
	Provider metadata.Provider
	Store    store.Store

	// IsEntity selects the types that take part; defaults to metadata.IsEntity
	IsEntity func(reflect.Type) bool

	// Locker serializes passes across processes; nil disables locking
	Locker  lock.Locker
	LockKey string

	// Cache is invalidated for every entity written by a committed pass
	Cache Invalidator

	FailurePolicy FailurePolicy

	// DryRun rolls back the unit of work after computing the report
	DryRun bool

	Logger  *zap.Logger
	Metrics *Metrics
}

// Reconciler runs reconciliation passes
type Reconciler struct {
	opts   Options
	sync   *PropertySynchronizer
	logger *zap.Logger
}

// errDryRun rolls back a dry-run unit of work
var errDryRun = errors.New("dry run")

// New creates a Reconciler
func New(opts Options) (*Reconciler, error) {
	if opts.Finder == nil || opts.Provider == nil || opts.Store == nil {
		return nil, fmt.Errorf("%w: finder, provider and store are required", ErrInvalidOptions)
	}
	if opts.IsEntity == nil {
		opts.IsEntity = metadata.IsEntity
	}
	if opts.LockKey == "" {
		opts.LockKey = lock.ReconcileKey
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Reconciler{
		opts:   opts,
		sync:   NewPropertySynchronizer(opts.Logger),
		logger: opts.Logger,
	}, nil
}

// Run performs one reconciliation pass. It is idempotent: a second pass
// without code changes writes nothing.
func (r *Reconciler) Run(ctx context.Context) (report *Report, err error) {
	start := time.Now()
	report = &Report{DryRun: r.opts.DryRun}

	if r.opts.Locker != nil {
		l, err := r.opts.Locker.Acquire(ctx, r.opts.LockKey)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire reconciliation lock: %w", err)
		}
		defer func() {
			if relErr := l.Release(context.WithoutCancel(ctx)); relErr != nil {
				r.logger.Warn("failed to release reconciliation lock", zap.Error(relErr))
			}
		}()
	}

	modules := r.opts.Finder.Modules()
	report.Modules = len(modules)

	err = r.opts.Store.WithinUnitOfWork(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		seen := make(map[store.Key]bool)
		for _, m := range modules {
			if err := r.reconcileModule(ctx, uow, m, report, seen); err != nil {
				return err
			}
		}

		missing, err := r.missing(ctx, uow, seen)
		if err != nil {
			return err
		}
		report.Missing = missing

		if r.opts.DryRun {
			return errDryRun
		}
		return nil
	})
	report.Duration = time.Since(start)
	if errors.Is(err, errDryRun) {
		err = nil
	}
	r.opts.Metrics.observe(report, report.Duration)

	if err != nil {
		r.logger.Error("reconciliation failed", zap.Error(err), zap.Duration("duration", report.Duration))
		return report, err
	}

	if !r.opts.DryRun {
		r.invalidate(ctx, report)
	}

	r.logger.Info("reconciliation completed",
		zap.Int("modules", report.Modules),
		zap.Int("inserted", report.Count(ActionInserted)),
		zap.Int("updated", report.Count(ActionUpdated)),
		zap.Int("unchanged", report.Count(ActionNoOp)),
		zap.Int("skipped", report.Count(ActionSkipped)),
		zap.Int("failed", report.Count(ActionFailed)),
		zap.Int("property_writes", report.PropertyWrites()),
		zap.Bool("dry_run", r.opts.DryRun),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (r *Reconciler) reconcileModule(
	ctx context.Context,
	uow store.UnitOfWork,
	m discovery.Module,
	report *Report,
	seen map[store.Key]bool,
) error {
	types := discovery.EntityTypes(m, r.opts.IsEntity)
	if len(types) == 0 {
		r.logger.Debug("module declares no entities", zap.String("module", m.Identity()))
		return nil
	}

	configs, err := uow.ListConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load entity configs: %w", err)
	}
	index := make(map[store.Key]*store.EntityConfig, len(configs))
	for _, c := range configs {
		if !c.IsDeleted {
			index[c.Key()] = c
		}
	}

	r.logger.Debug("reconciling module",
		zap.String("module", m.Identity()),
		zap.Int("entities", len(types)))

	for _, t := range types {
		result, config, err := r.reconcileEntity(ctx, uow, t, index)
		report.Entities = append(report.Entities, result)
		seen[result.Key()] = true
		if config != nil {
			index[config.Key()] = config
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// reconcileEntity handles one type inside its own savepoint. It returns the
// configuration as persisted when the savepoint was kept.
func (r *Reconciler) reconcileEntity(
	ctx context.Context,
	uow store.UnitOfWork,
	t reflect.Type,
	index map[store.Key]*store.EntityConfig,
) (EntityResult, *store.EntityConfig, error) {
	desc, err := r.opts.Provider.Describe(t)
	if err != nil {
		r.logger.Warn("skipping entity that cannot be described",
			zap.String("type", t.String()),
			zap.Error(err))
		return EntityResult{
			ClassName: t.Name(),
			Namespace: t.PkgPath(),
			Action:    ActionSkipped,
			Err:       err,
		}, nil, nil
	}

	result := EntityResult{
		ClassName:      desc.ClassName,
		Namespace:      desc.Namespace,
		TypeShortAlias: desc.SafeTypeShortAlias(),
	}
	fingerprint := metadata.Fingerprint(desc.Properties)
	logger := r.logger.With(zap.String("entity", desc.FullName()))

	step, err := uow.Step(ctx)
	if err != nil {
		result.Action = ActionFailed
		result.Err = &EntityError{ClassName: desc.ClassName, Namespace: desc.Namespace, Err: err}
		return result, nil, result.Err
	}

	config, err := r.apply(ctx, uow, desc, fingerprint, index[store.Key{ClassName: desc.ClassName, Namespace: desc.Namespace}], &result)
	if err != nil {
		result.Action = ActionFailed
		result.Properties = PropertyChanges{}
		result.Err = &EntityError{ClassName: desc.ClassName, Namespace: desc.Namespace, Err: err}

		if rbErr := step.Rollback(); rbErr != nil {
			return result, nil, fmt.Errorf("%w (savepoint rollback failed: %v)", result.Err, rbErr)
		}
		if r.opts.FailurePolicy == Skip {
			logger.Error("entity reconciliation failed, skipping", zap.Error(err))
			return result, nil, nil
		}
		return result, nil, result.Err
	}

	if err := step.Commit(); err != nil {
		result.Action = ActionFailed
		result.Err = &EntityError{ClassName: desc.ClassName, Namespace: desc.Namespace, Err: err}
		return result, nil, result.Err
	}

	if result.Action != ActionNoOp {
		logger.Info("entity config reconciled",
			zap.String("action", string(result.Action)),
			zap.Int("inserted", len(result.Properties.Inserted)),
			zap.Int("updated", len(result.Properties.Updated)),
			zap.Int("deleted", len(result.Properties.Deleted)))
	}
	return result, config, nil
}

// apply writes the configuration and, when the fingerprint changed, its
// properties. result receives the action and property changes.
func (r *Reconciler) apply(
	ctx context.Context,
	uow store.UnitOfWork,
	desc *metadata.EntityDescriptor,
	fingerprint string,
	existing *store.EntityConfig,
	result *EntityResult,
) (*store.EntityConfig, error) {
	if existing == nil {
		config := &store.EntityConfig{
			ID:        uuid.New(),
			ClassName: desc.ClassName,
			Namespace: desc.Namespace,
			Source:    metadata.SourceApplicationCode,
		}
		copyHardcoded(desc, config)

		if err := uow.InsertConfig(ctx, config); err != nil {
			return nil, fmt.Errorf("failed to insert entity config: %w", err)
		}
		if err := r.syncProperties(ctx, uow, config, desc, fingerprint, result); err != nil {
			return nil, err
		}
		result.Action = ActionInserted
		return config, nil
	}

	config := existing.Clone()
	copyHardcoded(desc, config)
	hardcodedChanged := config.FriendlyName != existing.FriendlyName ||
		config.TableName != existing.TableName ||
		config.TypeShortAlias != existing.TypeShortAlias ||
		config.DiscriminatorValue != existing.DiscriminatorValue

	switch {
	case existing.PropertiesMD5 != fingerprint:
		// the fingerprint write at the end of the sync also stores the
		// hard-coded fields
		if err := r.syncProperties(ctx, uow, config, desc, fingerprint, result); err != nil {
			return nil, err
		}
	case hardcodedChanged:
		if err := uow.UpdateConfig(ctx, config); err != nil {
			return nil, fmt.Errorf("failed to update entity config: %w", err)
		}
	default:
		result.Action = ActionNoOp
		return existing, nil
	}

	result.Action = ActionUpdated
	return config, nil
}

func (r *Reconciler) syncProperties(
	ctx context.Context,
	uow store.UnitOfWork,
	config *store.EntityConfig,
	desc *metadata.EntityDescriptor,
	fingerprint string,
	result *EntityResult,
) error {
	synced, err := r.sync.Sync(ctx, uow, config, desc.Properties, fingerprint)
	if err != nil {
		return err
	}
	result.Properties = synced.Changes
	result.Diagnostics = append(result.Diagnostics, synced.Diagnostics...)
	return nil
}

func copyHardcoded(desc *metadata.EntityDescriptor, config *store.EntityConfig) {
	config.FriendlyName = desc.FriendlyName
	config.TableName = desc.TableName
	config.TypeShortAlias = desc.SafeTypeShortAlias()
	config.DiscriminatorValue = desc.DiscriminatorValue
}

// missing reports code-sourced configurations with no entity type in code
func (r *Reconciler) missing(ctx context.Context, uow store.UnitOfWork, seen map[store.Key]bool) ([]Diagnostic, error) {
	configs, err := uow.ListConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity configs: %w", err)
	}

	var result []Diagnostic
	for _, c := range configs {
		if c.IsDeleted || c.Source != metadata.SourceApplicationCode || seen[c.Key()] {
			continue
		}
		result = append(result, Diagnostic{
			Code:    MissingEntity,
			Entity:  c.Key().String(),
			Message: "no entity type in code; configuration kept",
		})
	}
	return result, nil
}

func (r *Reconciler) invalidate(ctx context.Context, report *Report) {
	if r.opts.Cache == nil {
		return
	}
	for _, e := range report.Changed() {
		key := e.Key()
		names := []string{e.TypeShortAlias, key.String(), key.ClassName}
		if err := r.opts.Cache.Invalidate(ctx, names...); err != nil {
			r.logger.Warn("failed to invalidate property tree cache",
				zap.String("entity", key.String()),
				zap.Error(err))
		}
	}
}
