package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tshabani/shesha-core/internal/store"
	"github.com/Tshabani/shesha-core/internal/transaction"
)

// Config configures a Store
type Config struct {
	Dialect        Dialect
	IsolationLevel transaction.IsolationLevel
	// Timeout bounds a whole unit of work; zero means no bound
	Timeout time.Duration
	Logger  *zap.Logger
}

// Store is a store.Store backed by a SQL database. Every unit of work is one
// transaction; steps are savepoints.
type Store struct {
	tm      *transaction.Manager
	dialect Dialect
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// Open opens and pings a database for the dialect
func Open(ctx context.Context, d Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d == SQLite {
		// one writer; also keeps :memory: databases alive across statements
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// New creates a Store over db
func New(db *sql.DB, cfg Config) *Store {
	if cfg.Dialect == "" {
		cfg.Dialect = Postgres
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Store{
		tm:      transaction.NewManager(db, cfg.IsolationLevel),
		dialect: cfg.Dialect,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DB returns the underlying database handle
func (s *Store) DB() *sql.DB {
	return s.tm.DB()
}

// Dialect returns the store's dialect
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// WithinUnitOfWork runs fn in a transaction, committing when fn returns nil
func (s *Store) WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow store.UnitOfWork) error) error {
	err := s.tm.WithTimeout(ctx, s.timeout, func(ctx context.Context, tx *transaction.Transaction) error {
		return fn(ctx, &unitOfWork{tx: tx, dialect: s.dialect, now: s.now})
	})
	if err != nil {
		s.logger.Debug("unit of work rolled back", zap.String("dialect", string(s.dialect)), zap.Error(err))
	}
	return err
}

type unitOfWork struct {
	tx      *transaction.Transaction
	dialect Dialect
	now     func() time.Time
}

func (u *unitOfWork) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return u.tx.ExecContext(ctx, u.dialect.Rebind(query), args...)
}

func (u *unitOfWork) Step(ctx context.Context) (store.Step, error) {
	nested, err := u.tx.BeginNested(ctx)
	if err != nil {
		return nil, err
	}
	return nested, nil
}

const configColumns = `id, class_name, namespace, friendly_name, table_name, type_short_alias,
discriminator_value, properties_md5, source, created_at, updated_at, is_deleted`

func (u *unitOfWork) ListConfigs(ctx context.Context) ([]*store.EntityConfig, error) {
	rows, err := u.tx.QueryContext(ctx, "SELECT "+configColumns+" FROM entity_configs ORDER BY class_name, namespace")
	if err != nil {
		return nil, fmt.Errorf("failed to query entity configs: %w", convertError(err))
	}
	defer rows.Close()

	var configs []*store.EntityConfig
	for rows.Next() {
		c := &store.EntityConfig{}
		if err := rows.Scan(&c.ID, &c.ClassName, &c.Namespace, &c.FriendlyName, &c.TableName,
			&c.TypeShortAlias, &c.DiscriminatorValue, &c.PropertiesMD5, &c.Source,
			&c.CreatedAt, &c.UpdatedAt, &c.IsDeleted); err != nil {
			return nil, fmt.Errorf("failed to scan entity config: %w", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity configs: %w", err)
	}
	return configs, nil
}

func (u *unitOfWork) InsertConfig(ctx context.Context, c *store.EntityConfig) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := u.now()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := u.exec(ctx, `
INSERT INTO entity_configs (`+configColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ClassName, c.Namespace, c.FriendlyName, c.TableName, c.TypeShortAlias,
		c.DiscriminatorValue, c.PropertiesMD5, c.Source, c.CreatedAt, c.UpdatedAt, c.IsDeleted)
	if err != nil {
		return convertError(err)
	}
	return nil
}

func (u *unitOfWork) UpdateConfig(ctx context.Context, c *store.EntityConfig) error {
	c.UpdatedAt = u.now()

	result, err := u.exec(ctx, `
UPDATE entity_configs SET
	class_name = ?, namespace = ?, friendly_name = ?, table_name = ?, type_short_alias = ?,
	discriminator_value = ?, properties_md5 = ?, source = ?, updated_at = ?, is_deleted = ?
WHERE id = ?`,
		c.ClassName, c.Namespace, c.FriendlyName, c.TableName, c.TypeShortAlias,
		c.DiscriminatorValue, c.PropertiesMD5, c.Source, c.UpdatedAt, c.IsDeleted, c.ID)
	if err != nil {
		return convertError(err)
	}
	return requireRow(result, "entity config "+c.ID.String())
}

const propertyColumns = `id, entity_config_id, parent_id, name, data_type, data_format, entity_type,
reference_list_name, reference_list_namespace, is_framework_related, source, sort_order,
label, description, created_at, updated_at`

func (u *unitOfWork) ListProperties(ctx context.Context, configID uuid.UUID) ([]*store.EntityProperty, error) {
	rows, err := u.tx.QueryContext(ctx, u.dialect.Rebind(
		"SELECT "+propertyColumns+" FROM entity_properties WHERE entity_config_id = ? ORDER BY sort_order, name"),
		configID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity properties: %w", convertError(err))
	}
	defer rows.Close()

	var top []*store.EntityProperty
	items := make(map[uuid.UUID]*store.EntityProperty)
	for rows.Next() {
		p := &store.EntityProperty{}
		var parent uuid.NullUUID
		if err := rows.Scan(&p.ID, &p.EntityConfigID, &parent, &p.Name, &p.DataType, &p.DataFormat,
			&p.EntityType, &p.ReferenceListName, &p.ReferenceListNamespace, &p.IsFrameworkRelated,
			&p.Source, &p.SortOrder, &p.Label, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity property: %w", err)
		}
		if parent.Valid {
			id := parent.UUID
			p.ParentID = &id
			items[id] = p
			continue
		}
		top = append(top, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity properties: %w", err)
	}

	for _, p := range top {
		p.ItemsType = items[p.ID]
	}
	return top, nil
}

func (u *unitOfWork) InsertProperty(ctx context.Context, p *store.EntityProperty) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := u.now()
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := u.exec(ctx, `
INSERT INTO entity_properties (`+propertyColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.EntityConfigID, nullUUID(p.ParentID), p.Name, p.DataType, p.DataFormat, p.EntityType,
		p.ReferenceListName, p.ReferenceListNamespace, p.IsFrameworkRelated, p.Source, p.SortOrder,
		p.Label, p.Description, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return convertError(err)
	}
	return nil
}

func (u *unitOfWork) UpdateProperty(ctx context.Context, p *store.EntityProperty) error {
	p.UpdatedAt = u.now()

	result, err := u.exec(ctx, `
UPDATE entity_properties SET
	parent_id = ?, name = ?, data_type = ?, data_format = ?, entity_type = ?,
	reference_list_name = ?, reference_list_namespace = ?, is_framework_related = ?,
	source = ?, sort_order = ?, label = ?, description = ?, updated_at = ?
WHERE id = ?`,
		nullUUID(p.ParentID), p.Name, p.DataType, p.DataFormat, p.EntityType,
		p.ReferenceListName, p.ReferenceListNamespace, p.IsFrameworkRelated,
		p.Source, p.SortOrder, p.Label, p.Description, p.UpdatedAt, p.ID)
	if err != nil {
		return convertError(err)
	}
	return requireRow(result, "entity property "+p.ID.String())
}

func (u *unitOfWork) DeleteProperty(ctx context.Context, id uuid.UUID) error {
	result, err := u.exec(ctx, "DELETE FROM entity_properties WHERE id = ? OR parent_id = ?", id, id)
	if err != nil {
		return convertError(err)
	}
	return requireRow(result, "entity property "+id.String())
}

func requireRow(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return store.NewDBError(store.ErrNotFound, what, nil)
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
