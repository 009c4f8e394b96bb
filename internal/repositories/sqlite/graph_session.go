// Package sqlite stores the graph in an embedded SQLite database.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/asakaida/graphsync/internal/repositories"
	"github.com/asakaida/graphsync/internal/repositories/sqlgraph"
	"github.com/asakaida/graphsync/pkg/cache"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Dialect renders graph queries for SQLite's JSON1 functions.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Param(n int, _ string) string {
	return fmt.Sprintf("?%d", n)
}

func (Dialect) JSONField(col, key string) string {
	return fmt.Sprintf("json_extract(%s, '$.%s')", col, key)
}

func (Dialect) MergeJSON(base, patch string) string {
	if base == "" {
		base = "'{}'"
	}
	return fmt.Sprintf("json_patch(%s, %s)", base, patch)
}

// ComparisonArg converts v to what json_extract yields for the same JSON
// value: booleans become 0/1, arrays and objects their JSON text.
func (Dialect) ComparisonArg(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, float64, int64:
		return x, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		return x.Float64()
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode comparison value: %w", err)
		}
		return string(b), nil
	default:
		return v, nil
	}
}

// IsTransient reports busy and locked databases.
func (Dialect) IsTransient(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	// Extended result codes keep the primary code in the low byte.
	switch sqliteErr.Code() & 0xff {
	case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
		return true
	}
	return false
}

// NewGraphSession creates a session storing the graph in db; queryCache may be nil.
func NewGraphSession(db *sql.DB, queryCache cache.Cache) repositories.Session {
	return sqlgraph.NewSession(db, Dialect{}, queryCache)
}
