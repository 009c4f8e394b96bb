package neo4j

import (
	"context"
	"fmt"
	"strings"

	"github.com/asakaida/graphsync/internal/entities"
	"github.com/asakaida/graphsync/pkg/cache"
)

// Renderer turns compiled statements into Cypher text plus parameters.
// Query text depends only on the statement shape and is cached by it;
// parameters carry the row data.
type Renderer struct {
	cache cache.Cache
}

// NewRenderer creates a renderer; c may be nil to disable caching.
func NewRenderer(c cache.Cache) *Renderer {
	return &Renderer{cache: c}
}

// Render returns the Cypher query and parameters for stmt.
func (r *Renderer) Render(ctx context.Context, stmt entities.Statement) (string, map[string]any, error) {
	switch s := stmt.(type) {
	case *entities.MergeNodes:
		return r.query(ctx, entities.ShapeKey(s), func() string { return mergeNodesQuery(s) }), mergeNodesParams(s), nil
	case *entities.ApplyLabel:
		return r.query(ctx, entities.ShapeKey(s), func() string { return applyLabelQuery(s) }), applyLabelParams(s), nil
	case *entities.MergeRelationships:
		return r.query(ctx, entities.ShapeKey(s), func() string { return mergeRelationshipsQuery(s) }), mergeRelationshipsParams(s), nil
	case *entities.DeleteStaleNodes:
		return r.query(ctx, entities.ShapeKey(s), func() string { return deleteStaleNodesQuery(s) }), cleanupParams(s.UpdateTag, s.Scope, s.Limit), nil
	case *entities.DeleteStaleRelationships:
		return r.query(ctx, entities.ShapeKey(s), func() string { return deleteStaleRelationshipsQuery(s) }), cleanupParams(s.UpdateTag, s.Scope, s.Limit), nil
	default:
		return "", nil, fmt.Errorf("unsupported statement %T", stmt)
	}
}

func (r *Renderer) query(ctx context.Context, shape string, compile func() string) string {
	return cache.GetOrCompile(ctx, r.cache, "cypher|"+shape, compile)
}

func mergeNodesQuery(s *entities.MergeNodes) string {
	var b strings.Builder
	b.WriteString("UNWIND $rows AS row\n")
	fmt.Fprintf(&b, "MERGE (i:%s {id: row.id})\n", s.NodeLabel)
	fmt.Fprintf(&b, "ON CREATE SET i.%s = timestamp()\n", entities.FirstSeenProperty)
	if len(s.PropertyNames) > 0 {
		sets := make([]string, len(s.PropertyNames))
		for i, p := range s.PropertyNames {
			sets[i] = fmt.Sprintf("    i.%s = row.%s", p, p)
		}
		b.WriteString("SET\n")
		b.WriteString(strings.Join(sets, ",\n"))
		b.WriteString("\n")
	}
	if len(s.ExtraLabels) > 0 {
		fmt.Fprintf(&b, "SET i:%s\n", strings.Join(s.ExtraLabels, ":"))
	}
	return b.String()
}

func mergeNodesParams(s *entities.MergeNodes) map[string]any {
	rows := make([]any, len(s.Rows))
	for i, row := range s.Rows {
		m := make(map[string]any, len(row.Properties)+1)
		for k, v := range row.Properties {
			m[k] = v
		}
		m[entities.IDProperty] = row.ID
		rows[i] = m
	}
	return map[string]any{"rows": rows}
}

func applyLabelQuery(s *entities.ApplyLabel) string {
	conds := make([]string, len(s.Conditions))
	for i, c := range s.Conditions {
		conds[i] = fmt.Sprintf("i.%s = $c%d", c.Property, i)
	}
	var b strings.Builder
	b.WriteString("UNWIND $ids AS nid\n")
	fmt.Fprintf(&b, "MATCH (i:%s {id: nid})\n", s.NodeLabel)
	fmt.Fprintf(&b, "WITH i, coalesce(%s, false) AS hit\n", strings.Join(conds, " AND "))
	fmt.Fprintf(&b, "FOREACH (_ IN CASE WHEN hit THEN [1] ELSE [] END | SET i:%s)\n", s.Label)
	fmt.Fprintf(&b, "FOREACH (_ IN CASE WHEN hit THEN [] ELSE [1] END | REMOVE i:%s)\n", s.Label)
	return b.String()
}

func applyLabelParams(s *entities.ApplyLabel) map[string]any {
	params := map[string]any{"ids": append([]any(nil), s.IDs...)}
	for i, c := range s.Conditions {
		params[fmt.Sprintf("c%d", i)] = c.Value
	}
	return params
}

// relPath renders the relationship between the schema node n and the other
// end o, honoring direction.
func relPath(n, rel, o string, d entities.Direction) string {
	if d == entities.Outward {
		return fmt.Sprintf("(%s)-[%s]->(%s)", n, rel, o)
	}
	return fmt.Sprintf("(%s)<-[%s]-(%s)", n, rel, o)
}

func inlineMap(keys []string, value func(string) string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", k, value(k))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func mergeRelationshipsQuery(s *entities.MergeRelationships) string {
	p := s.Pattern
	target := inlineMap(p.MatchKeys, func(k string) string { return "row.target." + k })

	var b strings.Builder
	b.WriteString("UNWIND $rows AS row\n")
	fmt.Fprintf(&b, "MATCH (i:%s {id: row.source_id})\n", p.SourceLabel)
	if p.MergeTarget {
		fmt.Fprintf(&b, "MERGE (t:%s %s)\n", p.TargetLabel, target)
	} else {
		fmt.Fprintf(&b, "MATCH (t:%s %s)\n", p.TargetLabel, target)
	}
	fmt.Fprintf(&b, "MERGE %s\n", relPath("i", "r:"+p.RelLabel, "t", p.Direction))
	fmt.Fprintf(&b, "ON CREATE SET r.%s = timestamp()\n", entities.FirstSeenProperty)
	if len(p.PropertyNames) > 0 {
		sets := make([]string, len(p.PropertyNames))
		for i, name := range p.PropertyNames {
			sets[i] = fmt.Sprintf("    r.%s = row.props.%s", name, name)
		}
		b.WriteString("SET\n")
		b.WriteString(strings.Join(sets, ",\n"))
		b.WriteString("\n")
	}
	return b.String()
}

func mergeRelationshipsParams(s *entities.MergeRelationships) map[string]any {
	rows := make([]any, len(s.Rows))
	for i, row := range s.Rows {
		target := make(map[string]any, len(row.Target))
		for k, v := range row.Target {
			target[k] = v
		}
		props := make(map[string]any, len(row.Properties))
		for k, v := range row.Properties {
			props[k] = v
		}
		rows[i] = map[string]any{
			"source_id": row.SourceID,
			"target":    target,
			"props":     props,
		}
	}
	return map[string]any{"rows": rows}
}

// scopeNode renders the sub-resource node pattern, e.g. "s:GCPProject {id: $scope_id}".
func scopeNode(alias string, scope *entities.Scope) string {
	keys := make([]string, len(scope.Match))
	for i, c := range scope.Match {
		keys[i] = c.Property
	}
	return fmt.Sprintf("%s:%s %s", alias, scope.Label, inlineMap(keys, func(k string) string { return "$scope_" + k }))
}

func limitClause(variable string, limit int) string {
	if limit <= 0 {
		return fmt.Sprintf("WITH DISTINCT %s\n", variable)
	}
	return fmt.Sprintf("WITH DISTINCT %s LIMIT $LIMIT_SIZE\n", variable)
}

func deleteStaleNodesQuery(s *entities.DeleteStaleNodes) string {
	var b strings.Builder
	if s.Scope == nil {
		fmt.Fprintf(&b, "MATCH (n:%s)\n", s.NodeLabel)
	} else {
		fmt.Fprintf(&b, "MATCH %s\n", relPath("n:"+s.NodeLabel, ":"+s.Scope.RelLabel, scopeNode("s", s.Scope), s.Scope.Direction))
	}
	fmt.Fprintf(&b, "WHERE n.%s <> $UPDATE_TAG\n", entities.LastUpdatedProperty)
	b.WriteString(limitClause("n", s.Limit))
	b.WriteString("DETACH DELETE n\n")
	return b.String()
}

// ownsScope reports whether p is the sub-resource relationship itself.
func ownsScope(p entities.RelPattern, scope *entities.Scope) bool {
	return scope != nil && p.RelLabel == scope.RelLabel && p.TargetLabel == scope.Label && p.Direction == scope.Direction
}

func deleteStaleRelationshipsQuery(s *entities.DeleteStaleRelationships) string {
	p := s.Pattern
	var b strings.Builder
	switch {
	case s.Scope == nil:
		fmt.Fprintf(&b, "MATCH %s\n", relPath("n:"+p.SourceLabel, "r:"+p.RelLabel, "t:"+p.TargetLabel, p.Direction))
	case ownsScope(p, s.Scope):
		fmt.Fprintf(&b, "MATCH %s\n", relPath("n:"+p.SourceLabel, "r:"+p.RelLabel, scopeNode("t", s.Scope), p.Direction))
	default:
		fmt.Fprintf(&b, "MATCH %s\n", relPath("n:"+p.SourceLabel, ":"+s.Scope.RelLabel, scopeNode("s", s.Scope), s.Scope.Direction))
		fmt.Fprintf(&b, "MATCH %s\n", relPath("n", "r:"+p.RelLabel, "t:"+p.TargetLabel, p.Direction))
	}
	fmt.Fprintf(&b, "WHERE r.%s <> $UPDATE_TAG\n", entities.LastUpdatedProperty)
	b.WriteString(limitClause("r", s.Limit))
	b.WriteString("DELETE r\n")
	return b.String()
}

func cleanupParams(tag int64, scope *entities.Scope, limit int) map[string]any {
	params := map[string]any{entities.UpdateTagKey: tag}
	if scope != nil {
		for _, c := range scope.Match {
			params["scope_"+c.Property] = c.Value
		}
	}
	if limit > 0 {
		params["LIMIT_SIZE"] = int64(limit)
	}
	return params
}

// indexQueries returns the index statements for a schema's label.
func indexQueries(s *entities.NodeSchema) []string {
	props := append(s.IndexedProperties(), entities.LastUpdatedProperty)
	queries := make([]string, 0, len(props))
	for _, p := range props {
		queries = append(queries, fmt.Sprintf("CREATE INDEX IF NOT EXISTS FOR (n:%s) ON (n.%s)", s.Label, p))
	}
	return queries
}
