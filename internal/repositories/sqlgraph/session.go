package sqlgraph

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/asakaida/graphsync/internal/entities"
	"github.com/asakaida/graphsync/internal/repositories"
	"github.com/asakaida/graphsync/pkg/cache"
)

// Session implements repositories.Session over a relational database.
// Every statement runs in its own transaction.
type Session struct {
	db      *sql.DB
	dialect Dialect
	cache   cache.Cache
	now     func() time.Time
}

// NewSession creates a session on db; queryCache may be nil.
func NewSession(db *sql.DB, dialect Dialect, queryCache cache.Cache) *Session {
	return &Session{db: db, dialect: dialect, cache: queryCache, now: time.Now}
}

// Run executes stmt in one transaction and reports what it changed.
func (s *Session) Run(ctx context.Context, stmt entities.Statement) (*entities.Result, error) {
	op := stmt.Kind().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.classify(op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	var result *entities.Result
	switch st := stmt.(type) {
	case *entities.MergeNodes:
		result, err = s.mergeNodes(ctx, tx, st)
	case *entities.ApplyLabel:
		result, err = s.applyLabel(ctx, tx, st)
	case *entities.MergeRelationships:
		result, err = s.mergeRelationships(ctx, tx, st)
	case *entities.DeleteStaleNodes:
		result, err = s.deleteStaleNodes(ctx, tx, st)
	case *entities.DeleteStaleRelationships:
		result, err = s.deleteStaleRelationships(ctx, tx, st)
	default:
		return nil, &repositories.StoreError{Op: op, Err: fmt.Errorf("unsupported statement %T", stmt)}
	}
	if err != nil {
		return nil, s.classify(op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, s.classify(op, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return result, nil
}

// EnsureIndexes creates expression indexes for the schema's extra-indexed
// properties.
func (s *Session) EnsureIndexes(ctx context.Context, schema *entities.NodeSchema) error {
	for _, query := range indexQueries(s.dialect, schema) {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return s.classify("ensure_indexes", fmt.Errorf("failed to create index: %w", err))
		}
	}
	return nil
}

// Close is a no-op; the database handle is owned by the caller.
func (s *Session) Close(ctx context.Context) error {
	return nil
}

func (s *Session) classify(op string, err error) error {
	return repositories.Classify(op, err, s.dialect.IsTransient)
}

// query returns the compiled text for a statement shape, building it once.
func (s *Session) query(ctx context.Context, key string, compile func() string) string {
	return cache.GetOrCompile(ctx, s.cache, s.dialect.Name()+"|"+key, compile)
}

func (s *Session) prepare(ctx context.Context, tx *sql.Tx, key string, compile func() string) (*sql.Stmt, error) {
	stmt, err := tx.PrepareContext(ctx, s.query(ctx, key, compile))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare %s: %w", key, err)
	}
	return stmt, nil
}

func (s *Session) mergeNodes(ctx context.Context, tx *sql.Tx, st *entities.MergeNodes) (*entities.Result, error) {
	insert, err := s.prepare(ctx, tx, "insert_node", func() string { return insertNodeQuery(s.dialect) })
	if err != nil {
		return nil, err
	}
	defer insert.Close()

	update, err := s.prepare(ctx, tx, "update_node", func() string { return updateNodeQuery(s.dialect) })
	if err != nil {
		return nil, err
	}
	defer update.Close()

	var extra *sql.Stmt
	if len(st.ExtraLabels) > 0 {
		extra, err = s.prepare(ctx, tx, "insert_extra_label", func() string { return insertExtraLabelQuery(s.dialect) })
		if err != nil {
			return nil, err
		}
		defer extra.Close()
	}

	result := &entities.Result{}
	firstSeen := s.now().UnixMilli()
	for _, row := range st.Rows {
		id := IDString(row.ID)
		props, err := encodeProperties(row.Properties, entities.LastUpdatedProperty)
		if err != nil {
			return nil, err
		}
		lastUpdated, err := lastUpdatedArg(row.Properties)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}

		res, err := insert.ExecContext(ctx, st.NodeLabel, id, props, lastUpdated, firstSeen)
		if err != nil {
			return nil, fmt.Errorf("failed to insert node %s: %w", id, err)
		}
		created, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if created == 0 {
			if _, err := update.ExecContext(ctx, st.NodeLabel, id, props, lastUpdated); err != nil {
				return nil, fmt.Errorf("failed to update node %s: %w", id, err)
			}
		}
		result.NodesCreated += int(created)

		for _, label := range st.ExtraLabels {
			res, err := extra.ExecContext(ctx, st.NodeLabel, id, label)
			if err != nil {
				return nil, fmt.Errorf("failed to label node %s: %w", id, err)
			}
			added, _ := res.RowsAffected()
			result.LabelsAdded += int(added)
		}
	}
	return result, nil
}

func (s *Session) applyLabel(ctx context.Context, tx *sql.Tx, st *entities.ApplyLabel) (*entities.Result, error) {
	key := entities.ShapeKey(st)
	add, err := s.prepare(ctx, tx, key+"|add", func() string { return addLabelQuery(s.dialect, st) })
	if err != nil {
		return nil, err
	}
	defer add.Close()

	remove, err := s.prepare(ctx, tx, key+"|remove", func() string { return removeLabelQuery(s.dialect, st) })
	if err != nil {
		return nil, err
	}
	defer remove.Close()

	conds := make([]any, len(st.Conditions))
	for i, c := range st.Conditions {
		if conds[i], err = s.matchArg(c.Property, c.Value); err != nil {
			return nil, err
		}
	}

	result := &entities.Result{}
	for _, rawID := range st.IDs {
		args := append([]any{st.NodeLabel, IDString(rawID), st.Label}, conds...)

		res, err := add.ExecContext(ctx, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to add label %s: %w", st.Label, err)
		}
		added, _ := res.RowsAffected()
		result.LabelsAdded += int(added)

		res, err = remove.ExecContext(ctx, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to remove label %s: %w", st.Label, err)
		}
		removed, _ := res.RowsAffected()
		result.LabelsRemoved += int(removed)
	}
	return result, nil
}

func (s *Session) mergeRelationships(ctx context.Context, tx *sql.Tx, st *entities.MergeRelationships) (*entities.Result, error) {
	p := st.Pattern
	key := entities.ShapeKey(st)

	var stub *sql.Stmt
	var err error
	if p.MergeTarget {
		stub, err = s.prepare(ctx, tx, "insert_stub", func() string { return insertStubQuery(s.dialect) })
		if err != nil {
			return nil, err
		}
		defer stub.Close()
	}

	insert, err := s.prepare(ctx, tx, key+"|insert", func() string { return insertRelationshipQuery(s.dialect, p) })
	if err != nil {
		return nil, err
	}
	defer insert.Close()

	update, err := s.prepare(ctx, tx, key+"|update", func() string { return updateRelationshipQuery(s.dialect, p) })
	if err != nil {
		return nil, err
	}
	defer update.Close()

	result := &entities.Result{}
	firstSeen := s.now().UnixMilli()
	for _, row := range st.Rows {
		sourceID := IDString(row.SourceID)
		props, err := encodeProperties(row.Properties, entities.LastUpdatedProperty)
		if err != nil {
			return nil, err
		}
		lastUpdated, err := lastUpdatedArg(row.Properties)
		if err != nil {
			return nil, fmt.Errorf("relationship %s from %s: %w", p.RelLabel, sourceID, err)
		}
		match := make([]any, len(p.MatchKeys))
		for i, k := range p.MatchKeys {
			if match[i], err = s.matchArg(k, row.Target[k]); err != nil {
				return nil, err
			}
		}

		if stub != nil {
			res, err := stub.ExecContext(ctx, p.TargetLabel, IDString(row.Target[entities.IDProperty]), firstSeen)
			if err != nil {
				return nil, fmt.Errorf("failed to insert %s stub: %w", p.TargetLabel, err)
			}
			created, _ := res.RowsAffected()
			result.NodesCreated += int(created)
		}

		args := append([]any{p.RelLabel, p.SourceLabel, sourceID, p.TargetLabel, props, lastUpdated, firstSeen}, match...)
		res, err := insert.ExecContext(ctx, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to insert relationship %s from %s: %w", p.RelLabel, sourceID, err)
		}
		created, _ := res.RowsAffected()
		result.RelationshipsCreated += int(created)

		// Drop firstseen; the update takes the remaining arguments in order.
		args = append(args[:6:6], match...)
		if _, err := update.ExecContext(ctx, args...); err != nil {
			return nil, fmt.Errorf("failed to update relationship %s from %s: %w", p.RelLabel, sourceID, err)
		}
	}
	return result, nil
}

func (s *Session) deleteStaleNodes(ctx context.Context, tx *sql.Tx, st *entities.DeleteStaleNodes) (*entities.Result, error) {
	query := s.query(ctx, entities.ShapeKey(st), func() string { return deleteStaleNodesQuery(s.dialect, st) })
	args := []any{st.NodeLabel, st.UpdateTag}
	scopeArgs, err := s.scopeArgs(st.Scope)
	if err != nil {
		return nil, err
	}
	args = append(args, scopeArgs...)
	if st.Limit > 0 {
		args = append(args, int64(st.Limit))
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to delete stale %s nodes: %w", st.NodeLabel, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	return &entities.Result{NodesDeleted: int(deleted)}, nil
}

func (s *Session) deleteStaleRelationships(ctx context.Context, tx *sql.Tx, st *entities.DeleteStaleRelationships) (*entities.Result, error) {
	p := st.Pattern
	query := s.query(ctx, entities.ShapeKey(st), func() string { return deleteStaleRelationshipsQuery(s.dialect, st) })
	args := []any{p.RelLabel, p.SourceLabel, p.TargetLabel, st.UpdateTag}

	if st.Scope != nil {
		if ownsScope(p, st.Scope) {
			for _, c := range st.Scope.Match {
				v, err := s.matchArg(c.Property, c.Value)
				if err != nil {
					return nil, err
				}
				args = append(args, v)
			}
		} else {
			scopeArgs, err := s.scopeArgs(st.Scope)
			if err != nil {
				return nil, err
			}
			args = append(args, scopeArgs...)
		}
	}
	if st.Limit > 0 {
		args = append(args, int64(st.Limit))
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to delete stale %s relationships: %w", p.RelLabel, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	return &entities.Result{RelationshipsDeleted: int(deleted)}, nil
}

// scopeArgs returns the arguments consumed by scopedIDs.
func (s *Session) scopeArgs(scope *entities.Scope) ([]any, error) {
	if scope == nil {
		return nil, nil
	}
	args := []any{scope.RelLabel, scope.Label}
	for _, c := range scope.Match {
		v, err := s.matchArg(c.Property, c.Value)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

// matchArg converts a matcher value: ids compare against the id column,
// everything else against the JSON properties.
func (s *Session) matchArg(key string, v any) (any, error) {
	if key == entities.IDProperty {
		return IDString(v), nil
	}
	return s.dialect.ComparisonArg(v)
}

func lastUpdatedArg(props map[string]any) (any, error) {
	v, ok := props[entities.LastUpdatedProperty]
	if !ok || v == nil {
		return nil, fmt.Errorf("%s is required", entities.LastUpdatedProperty)
	}
	tag, err := entities.AsInt64(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", entities.LastUpdatedProperty, err)
	}
	return tag, nil
}
