package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS entity_configs (
	id {{uuid}} PRIMARY KEY,
	class_name VARCHAR(255) NOT NULL,
	namespace VARCHAR(255) NOT NULL DEFAULT '',
	friendly_name VARCHAR(255) NOT NULL DEFAULT '',
	table_name VARCHAR(255) NOT NULL DEFAULT '',
	type_short_alias VARCHAR(255) NOT NULL DEFAULT '',
	discriminator_value VARCHAR(255) NOT NULL DEFAULT '',
	properties_md5 VARCHAR(32) NOT NULL DEFAULT '',
	source INTEGER NOT NULL,
	created_at {{timestamp}} NOT NULL,
	updated_at {{timestamp}} NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_entity_configs_natural_key
ON entity_configs(class_name, namespace) WHERE NOT is_deleted;

CREATE TABLE IF NOT EXISTS entity_properties (
	id {{uuid}} PRIMARY KEY,
	entity_config_id {{uuid}} NOT NULL REFERENCES entity_configs(id) ON DELETE CASCADE,
	parent_id {{uuid}} REFERENCES entity_properties(id) ON DELETE CASCADE,
	name VARCHAR(255) NOT NULL,
	data_type VARCHAR(50) NOT NULL,
	data_format VARCHAR(50) NOT NULL DEFAULT '',
	entity_type VARCHAR(255) NOT NULL DEFAULT '',
	reference_list_name VARCHAR(255) NOT NULL DEFAULT '',
	reference_list_namespace VARCHAR(255) NOT NULL DEFAULT '',
	is_framework_related BOOLEAN NOT NULL DEFAULT FALSE,
	source INTEGER NOT NULL,
	sort_order INTEGER NOT NULL DEFAULT 0,
	label TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	created_at {{timestamp}} NOT NULL,
	updated_at {{timestamp}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entity_properties_config
ON entity_properties(entity_config_id, sort_order);

CREATE INDEX IF NOT EXISTS idx_entity_properties_parent
ON entity_properties(parent_id);
`

// Schema returns the DDL statements for the dialect
func Schema(d Dialect) []string {
	ddl := schemaTemplate
	switch d {
	case Postgres:
		ddl = strings.NewReplacer("{{uuid}}", "UUID", "{{timestamp}}", "TIMESTAMPTZ").Replace(ddl)
	default:
		ddl = strings.NewReplacer("{{uuid}}", "TEXT", "{{timestamp}}", "TIMESTAMP").Replace(ddl)
	}

	var stmts []string
	for _, s := range strings.Split(ddl, ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// Initialize ensures the metadata tables exist. It is safe to call on every
// start.
func Initialize(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, stmt := range Schema(d) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize metadata schema: %w", err)
		}
	}
	return nil
}
