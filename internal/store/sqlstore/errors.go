package sqlstore

import (
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/Tshabani/shesha-core/internal/store"
)

// convertError maps PostgreSQL and SQLite driver errors to store errors
func convertError(err error) error {
	if err == nil {
		return nil
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return store.NewDBError(store.ErrUniqueViolation, liteErr.Error(), err)
		case sqlite3.ErrConstraintForeignKey:
			return store.NewDBError(store.ErrForeignKeyViolation, liteErr.Error(), err)
		case sqlite3.ErrConstraintCheck:
			return store.NewDBError(store.ErrCheckViolation, liteErr.Error(), err)
		case sqlite3.ErrConstraintNotNull:
			return store.NewDBError(store.ErrNotNullViolation, liteErr.Error(), err)
		}
	}

	return store.ConvertDBError(err)
}
