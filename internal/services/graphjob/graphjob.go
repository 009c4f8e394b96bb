// Package graphjob compiles node schemas into cleanup jobs that remove graph
// data the current sync run did not refresh.
package graphjob

import (
	"context"
	"fmt"
	"time"

	"github.com/asakaida/graphsync/internal/entities"
	"github.com/asakaida/graphsync/internal/repositories"
	"github.com/asakaida/graphsync/internal/services/querybuilder"
	"github.com/sirupsen/logrus"
)

// maxPasses guards iterative deletion against a store that keeps reporting
// full passes.
const maxPasses = 100000

// GraphJob is a named, ordered list of cleanup statements.
type GraphJob struct {
	Name       string
	Statements []entities.Statement
}

// FromNodeSchema builds the cleanup job for s at the run's update tag.
// Stale nodes are removed first, then stale relationships the schema owns.
// With ScopedCleanup the job only touches data attached to the current
// sub-resource; otherwise it is global for the label.
//
// The job must only run after every writer of the label has finished in the
// current sync, or nodes that are merely not written yet would be deleted.
func FromNodeSchema(s *entities.NodeSchema, rc entities.RunContext, limit int) (*GraphJob, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	tag, err := rc.UpdateTag()
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		limit = 0
	}

	var scope *entities.Scope
	if s.ScopedCleanup {
		scope, err = scopeFor(s, rc)
		if err != nil {
			return nil, err
		}
	}

	job := &GraphJob{Name: fmt.Sprintf("cleanup %s", s.Label)}
	job.Statements = append(job.Statements, &entities.DeleteStaleNodes{
		NodeLabel: s.Label,
		UpdateTag: tag,
		Scope:     scope,
		Limit:     limit,
	})
	for _, rel := range s.Relationships() {
		job.Statements = append(job.Statements, &entities.DeleteStaleRelationships{
			Pattern:   querybuilder.RelPatternFor(s.Label, &rel),
			UpdateTag: tag,
			Scope:     scope,
			Limit:     limit,
		})
	}
	return job, nil
}

func scopeFor(s *entities.NodeSchema, rc entities.RunContext) (*entities.Scope, error) {
	rel := s.SubResourceRel
	match := make([]entities.Condition, 0, len(rel.TargetMatcher))
	for _, key := range rel.MatchKeys() {
		v, err := entities.ResolveProperty(rel.TargetMatcher[key], nil, rc)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, &entities.SchemaError{Label: s.Label, Reason: fmt.Sprintf("sub-resource matcher %q resolved to nil", key)}
		}
		match = append(match, entities.Condition{Property: key, Value: v})
	}
	return &entities.Scope{
		Label:     rel.TargetLabel,
		RelLabel:  rel.RelLabel,
		Direction: rel.Direction,
		Match:     match,
	}, nil
}

// Run executes the job statements in order. A bounded deletion is repeated
// until a pass removes fewer entities than its limit.
func (j *GraphJob) Run(ctx context.Context, session repositories.Session, logger logrus.FieldLogger) (*entities.Result, error) {
	total := &entities.Result{}
	start := time.Now()
	for _, stmt := range j.Statements {
		res, err := runIterative(ctx, session, stmt)
		total.Add(res)
		if err != nil {
			return total, fmt.Errorf("failed to run %s (%s): %w", j.Name, stmt.Kind(), err)
		}
	}
	logger.WithFields(logrus.Fields{
		"action":                "graph_job",
		"job":                   j.Name,
		"nodes_deleted":         total.NodesDeleted,
		"relationships_deleted": total.RelationshipsDeleted,
		"took":                  time.Since(start),
	}).Debug("graph job finished")
	return total, nil
}

func runIterative(ctx context.Context, session repositories.Session, stmt entities.Statement) (*entities.Result, error) {
	limit := limitOf(stmt)
	total := &entities.Result{}
	for pass := 0; pass < maxPasses; pass++ {
		res, err := session.Run(ctx, stmt)
		if err != nil {
			return total, err
		}
		total.Add(res)
		if limit == 0 || res == nil || deletedBy(stmt, res) < limit {
			return total, nil
		}
	}
	return total, fmt.Errorf("%s did not converge after %d passes", stmt.Kind(), maxPasses)
}

func limitOf(stmt entities.Statement) int {
	switch s := stmt.(type) {
	case *entities.DeleteStaleNodes:
		return s.Limit
	case *entities.DeleteStaleRelationships:
		return s.Limit
	default:
		return 0
	}
}

func deletedBy(stmt entities.Statement, res *entities.Result) int {
	if stmt.Kind() == entities.KindDeleteStaleNodes {
		return res.NodesDeleted
	}
	return res.RelationshipsDeleted
}
