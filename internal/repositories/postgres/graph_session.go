package postgres

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/asakaida/graphsync/internal/repositories"
	"github.com/asakaida/graphsync/internal/repositories/sqlgraph"
	"github.com/asakaida/graphsync/pkg/cache"
	"github.com/lib/pq"
)

// Dialect renders graph queries for PostgreSQL (jsonb properties).
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Param(n int, typ string) string {
	return fmt.Sprintf("$%d::%s", n, typ)
}

func (Dialect) JSONField(col, key string) string {
	return fmt.Sprintf("(%s -> '%s')", col, key)
}

func (Dialect) MergeJSON(base, patch string) string {
	if base == "" {
		return fmt.Sprintf("jsonb_strip_nulls(%s)", patch)
	}
	return fmt.Sprintf("jsonb_strip_nulls(%s || %s)", base, patch)
}

// ComparisonArg encodes v as JSON; jsonb equality then compares numbers
// numerically and everything else structurally.
func (Dialect) ComparisonArg(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode comparison value: %w", err)
	}
	return string(b), nil
}

// IsTransient reports connection failures, serialization failures,
// deadlocks and server shutdowns.
func (Dialect) IsTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"57P01", // admin_shutdown
			"53300": // too_many_connections
			return true
		}
		return pqErr.Code.Class() == "08" // connection_exception
	}
	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// NewGraphSession creates a session storing the graph in db; queryCache may be nil.
func NewGraphSession(db *sql.DB, queryCache cache.Cache) repositories.Session {
	return sqlgraph.NewSession(db, Dialect{}, queryCache)
}
