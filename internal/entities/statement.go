package entities

import "fmt"

// StatementKind identifies the operation a compiled statement performs.
type StatementKind int

const (
	KindMergeNodes StatementKind = iota
	KindApplyLabel
	KindMergeRelationships
	KindDeleteStaleNodes
	KindDeleteStaleRelationships
)

// String returns the snake_case name used in logs and metrics.
func (k StatementKind) String() string {
	switch k {
	case KindMergeNodes:
		return "merge_nodes"
	case KindApplyLabel:
		return "apply_label"
	case KindMergeRelationships:
		return "merge_relationships"
	case KindDeleteStaleNodes:
		return "delete_stale_nodes"
	case KindDeleteStaleRelationships:
		return "delete_stale_relationships"
	default:
		return "unknown"
	}
}

// Statement is a compiled, store-independent graph operation. Stores render
// it into their own query language and run it in one transaction.
type Statement interface {
	Kind() StatementKind
	// Subject is the node label the statement is about.
	Subject() string
}

// NodeRow is one resolved node. Properties excludes id and carries every
// name listed in MergeNodes.PropertyNames (nil values clear the property).
type NodeRow struct {
	ID         any
	Properties map[string]any
}

// MergeNodes upserts a batch of nodes by id.
type MergeNodes struct {
	NodeLabel     string
	ExtraLabels   []string
	PropertyNames []string // Sorted, id excluded
	Rows          []NodeRow
}

func (*MergeNodes) Kind() StatementKind { return KindMergeNodes }
func (s *MergeNodes) Subject() string   { return s.NodeLabel }

// ApplyLabel sets Label on the listed nodes whose properties match every
// condition, and removes it from the listed nodes that do not.
type ApplyLabel struct {
	NodeLabel  string
	Label      string
	Conditions []Condition // Sorted by property
	IDs        []any
}

func (*ApplyLabel) Kind() StatementKind { return KindApplyLabel }
func (s *ApplyLabel) Subject() string   { return s.NodeLabel }

// RelPattern is the shape shared by relationship merges and deletions.
type RelPattern struct {
	SourceLabel   string
	TargetLabel   string
	RelLabel      string
	Direction     Direction
	MatchKeys     []string // Sorted target matcher attributes
	MergeTarget   bool     // Create a stub target when none matches
	PropertyNames []string // Sorted relationship property names
}

// RelRow is one resolved relationship between the source node SourceID and
// the target identified by Target (keyed by RelPattern.MatchKeys).
type RelRow struct {
	SourceID   any
	Target     map[string]any
	Properties map[string]any
}

// MergeRelationships upserts a batch of relationships from already-written
// source nodes.
type MergeRelationships struct {
	Pattern RelPattern
	Rows    []RelRow
}

func (*MergeRelationships) Kind() StatementKind { return KindMergeRelationships }
func (s *MergeRelationships) Subject() string   { return s.Pattern.SourceLabel }

// Scope restricts cleanup to nodes attached to one sub-resource node.
type Scope struct {
	Label     string      // Sub-resource node label (e.g., "GCPProject")
	RelLabel  string      // Ownership relationship type
	Direction Direction   // As declared on the owning NodeSchema
	Match     []Condition // Sub-resource node attributes, sorted
}

// DeleteStaleNodes removes nodes of NodeLabel that the current run did not
// stamp, together with their relationships. Limit bounds one pass (0 = no bound).
type DeleteStaleNodes struct {
	NodeLabel string
	UpdateTag int64
	Scope     *Scope
	Limit     int
}

func (*DeleteStaleNodes) Kind() StatementKind { return KindDeleteStaleNodes }
func (s *DeleteStaleNodes) Subject() string   { return s.NodeLabel }

// DeleteStaleRelationships removes relationships of Pattern that the current
// run did not stamp.
type DeleteStaleRelationships struct {
	Pattern   RelPattern
	UpdateTag int64
	Scope     *Scope
	Limit     int
}

func (*DeleteStaleRelationships) Kind() StatementKind { return KindDeleteStaleRelationships }
func (s *DeleteStaleRelationships) Subject() string   { return s.Pattern.SourceLabel }

// Result summarizes what a statement changed.
type Result struct {
	NodesCreated         int
	NodesDeleted         int
	RelationshipsCreated int
	RelationshipsDeleted int
	LabelsAdded          int
	LabelsRemoved        int
}

// Add accumulates other into r.
func (r *Result) Add(other *Result) {
	if other == nil {
		return
	}
	r.NodesCreated += other.NodesCreated
	r.NodesDeleted += other.NodesDeleted
	r.RelationshipsCreated += other.RelationshipsCreated
	r.RelationshipsDeleted += other.RelationshipsDeleted
	r.LabelsAdded += other.LabelsAdded
	r.LabelsRemoved += other.LabelsRemoved
}

// ShapeKey identifies everything the rendered query text of stmt depends on.
// Row data and parameter values are left out, so statements with equal keys
// share one compiled query.
func ShapeKey(stmt Statement) string {
	switch s := stmt.(type) {
	case *MergeNodes:
		return fmt.Sprintf("%s|%s|%v|%v", s.Kind(), s.NodeLabel, s.ExtraLabels, s.PropertyNames)
	case *ApplyLabel:
		return fmt.Sprintf("%s|%s|%s|%v", s.Kind(), s.NodeLabel, s.Label, conditionProperties(s.Conditions))
	case *MergeRelationships:
		return fmt.Sprintf("%s|%+v", s.Kind(), s.Pattern)
	case *DeleteStaleNodes:
		return fmt.Sprintf("%s|%s|%s|%t", s.Kind(), s.NodeLabel, scopeShape(s.Scope), s.Limit > 0)
	case *DeleteStaleRelationships:
		return fmt.Sprintf("%s|%+v|%s|%t", s.Kind(), s.Pattern, scopeShape(s.Scope), s.Limit > 0)
	default:
		return fmt.Sprintf("%T", stmt)
	}
}

func scopeShape(scope *Scope) string {
	if scope == nil {
		return "global"
	}
	return fmt.Sprintf("%s/%s/%s/%v", scope.Label, scope.RelLabel, scope.Direction, conditionProperties(scope.Match))
}

func conditionProperties(conds []Condition) []string {
	keys := make([]string, len(conds))
	for i, c := range conds {
		keys[i] = c.Property
	}
	return keys
}
