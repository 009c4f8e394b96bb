package sqlgraph

import (
	"fmt"
	"strings"

	"github.com/asakaida/graphsync/internal/entities"
)

// binder hands out consecutive placeholders. Callers pass arguments in the
// order the placeholders were taken.
type binder struct {
	d Dialect
	n int
}

func (b *binder) next(typ string) string {
	b.n++
	return b.d.Param(b.n, typ)
}

// columns names the relationship columns holding one end of an edge.
type columns struct {
	label string
	id    string
}

var (
	fromCols = columns{label: "from_label", id: "from_id"}
	toCols   = columns{label: "to_label", id: "to_id"}
)

// ends returns the columns for the schema node and the other end of an
// edge declared with d: (n)-[r]->(o) is stored from n to o.
func ends(d entities.Direction) (node, other columns) {
	if d == entities.Outward {
		return fromCols, toCols
	}
	return toCols, fromCols
}

// matchClause renders "alias.id = ? AND json(alias.k) = ? ..." for keys.
func matchClause(b *binder, alias string, keys []string) string {
	if len(keys) == 0 {
		return "1 = 1"
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		if k == entities.IDProperty {
			parts[i] = fmt.Sprintf("%s.id = %s", alias, b.next(TypeText))
			continue
		}
		parts[i] = fmt.Sprintf("%s = %s", b.d.JSONField(alias+".properties", k), b.next(TypeJSON))
	}
	return strings.Join(parts, " AND ")
}

// Args: label, id, properties, lastupdated, firstseen.
func insertNodeQuery(d Dialect) string {
	b := &binder{d: d}
	return fmt.Sprintf(`INSERT INTO graph_nodes (label, id, properties, lastupdated, firstseen)
VALUES (%s, %s, %s, %s, %s)
ON CONFLICT (label, id) DO NOTHING`,
		b.next(TypeText), b.next(TypeText), d.MergeJSON("", b.next(TypeJSON)), b.next(TypeBigint), b.next(TypeBigint))
}

// Args: label, id, properties, lastupdated.
func updateNodeQuery(d Dialect) string {
	b := &binder{d: d}
	label, id := b.next(TypeText), b.next(TypeText)
	return fmt.Sprintf(`UPDATE graph_nodes SET properties = %s, lastupdated = %s
WHERE label = %s AND id = %s`,
		d.MergeJSON("properties", b.next(TypeJSON)), b.next(TypeBigint), label, id)
}

// Args: label, id, firstseen. Stubs carry no properties and no lastupdated.
func insertStubQuery(d Dialect) string {
	b := &binder{d: d}
	return fmt.Sprintf(`INSERT INTO graph_nodes (label, id, properties, lastupdated, firstseen)
VALUES (%s, %s, %s, NULL, %s)
ON CONFLICT (label, id) DO NOTHING`,
		b.next(TypeText), b.next(TypeText), d.MergeJSON("", "'{}'"), b.next(TypeBigint))
}

// Args: label, id, extra_label.
func insertExtraLabelQuery(d Dialect) string {
	b := &binder{d: d}
	return fmt.Sprintf(`INSERT INTO graph_node_labels (label, id, extra_label)
VALUES (%s, %s, %s)
ON CONFLICT DO NOTHING`, b.next(TypeText), b.next(TypeText), b.next(TypeText))
}

// Args: node label, id, label, then one value per condition.
func addLabelQuery(d Dialect, s *entities.ApplyLabel) string {
	b := &binder{d: d}
	label, id, extra := b.next(TypeText), b.next(TypeText), b.next(TypeText)
	return fmt.Sprintf(`INSERT INTO graph_node_labels (label, id, extra_label)
SELECT n.label, n.id, %s FROM graph_nodes n
WHERE n.label = %s AND n.id = %s AND %s
ON CONFLICT DO NOTHING`, extra, label, id, matchClause(b, "n", conditionKeys(s.Conditions)))
}

// Args: node label, id, label, then one value per condition.
func removeLabelQuery(d Dialect, s *entities.ApplyLabel) string {
	b := &binder{d: d}
	label, id, extra := b.next(TypeText), b.next(TypeText), b.next(TypeText)
	return fmt.Sprintf(`DELETE FROM graph_node_labels
WHERE label = %s AND id = %s AND extra_label = %s
AND NOT EXISTS (SELECT 1 FROM graph_nodes n WHERE n.label = %s AND n.id = %s AND %s)`,
		label, id, extra, label, id, matchClause(b, "n", conditionKeys(s.Conditions)))
}

func conditionKeys(conds []entities.Condition) []string {
	keys := make([]string, len(conds))
	for i, c := range conds {
		keys[i] = c.Property
	}
	return keys
}

// Args: rel label, source label, source id, target label, properties,
// lastupdated, firstseen, then one value per match key.
func insertRelationshipQuery(d Dialect, p entities.RelPattern) string {
	b := &binder{d: d}
	rel, srcLabel, srcID, tgtLabel := b.next(TypeText), b.next(TypeText), b.next(TypeText), b.next(TypeText)
	props, lastUpdated, firstSeen := b.next(TypeJSON), b.next(TypeBigint), b.next(TypeBigint)

	from, to := "s", "t"
	if p.Direction == entities.Inward {
		from, to = "t", "s"
	}
	return fmt.Sprintf(`INSERT INTO graph_relationships (rel_label, from_label, from_id, to_label, to_id, properties, lastupdated, firstseen)
SELECT %s, %s.label, %s.id, %s.label, %s.id, %s, %s, %s
FROM graph_nodes s JOIN graph_nodes t ON t.label = %s AND %s
WHERE s.label = %s AND s.id = %s
ON CONFLICT (rel_label, from_label, from_id, to_label, to_id) DO NOTHING`,
		rel, from, from, to, to, d.MergeJSON("", props), lastUpdated, firstSeen,
		tgtLabel, matchClause(b, "t", p.MatchKeys), srcLabel, srcID)
}

// Args: rel label, source label, source id, target label, properties,
// lastupdated, then one value per match key.
func updateRelationshipQuery(d Dialect, p entities.RelPattern) string {
	b := &binder{d: d}
	rel, srcLabel, srcID, tgtLabel := b.next(TypeText), b.next(TypeText), b.next(TypeText), b.next(TypeText)
	props, lastUpdated := b.next(TypeJSON), b.next(TypeBigint)

	node, other := ends(p.Direction)
	return fmt.Sprintf(`UPDATE graph_relationships SET properties = %s, lastupdated = %s
WHERE rel_label = %s AND %s = %s AND %s = %s AND %s = %s
AND %s IN (SELECT t.id FROM graph_nodes t WHERE t.label = %s AND %s)`,
		d.MergeJSON("properties", props), lastUpdated,
		rel, node.label, srcLabel, node.id, srcID, other.label, tgtLabel,
		other.id, tgtLabel, matchClause(b, "t", p.MatchKeys))
}

// scopedIDs renders a subquery selecting the ids of nodeLabel nodes attached
// to the scope node. It takes placeholders for the scope rel label, the
// scope label and each scope match value.
func scopedIDs(b *binder, nodeLabel string, scope *entities.Scope) string {
	node, other := ends(scope.Direction)
	rel, label := b.next(TypeText), b.next(TypeText)
	return fmt.Sprintf(`SELECT sr.%s FROM graph_relationships sr
JOIN graph_nodes s ON s.label = sr.%s AND s.id = sr.%s
WHERE sr.rel_label = %s AND sr.%s = %s AND s.label = %s AND %s`,
		node.id, other.label, other.id, rel, node.label, nodeLabel, label,
		matchClause(b, "s", conditionKeys(scope.Match)))
}

func limitClause(b *binder, limit int) string {
	if limit <= 0 {
		return ""
	}
	return "\nLIMIT " + b.next(TypeBigint)
}

// Args: label, update tag, then the scope arguments (rel label, scope label,
// match values) and the limit when present.
func deleteStaleNodesQuery(d Dialect, s *entities.DeleteStaleNodes) string {
	b := &binder{d: d}
	label, tag := b.next(TypeText), b.next(TypeBigint)

	var scope string
	if s.Scope != nil {
		scope = fmt.Sprintf("\nAND n.id IN (%s)", scopedIDs(b, label, s.Scope))
	}
	return fmt.Sprintf(`DELETE FROM graph_nodes
WHERE label = %s AND id IN (
SELECT n.id FROM graph_nodes n
WHERE n.label = %s AND n.lastupdated <> %s%s%s)`,
		label, label, tag, scope, limitClause(b, s.Limit))
}

// ownsScope reports whether p is the sub-resource relationship itself.
func ownsScope(p entities.RelPattern, scope *entities.Scope) bool {
	return scope != nil && p.RelLabel == scope.RelLabel && p.TargetLabel == scope.Label && p.Direction == scope.Direction
}

// Args: rel label, source label, target label, update tag, then the scope
// arguments and the limit when present. The sub-resource relationship is
// scoped by its target; other relationships by their source's attachment.
func deleteStaleRelationshipsQuery(d Dialect, s *entities.DeleteStaleRelationships) string {
	p := s.Pattern
	b := &binder{d: d}
	rel, srcLabel, tgtLabel, tag := b.next(TypeText), b.next(TypeText), b.next(TypeText), b.next(TypeBigint)
	node, other := ends(p.Direction)

	var scope string
	switch {
	case s.Scope == nil:
	case ownsScope(p, s.Scope):
		scope = fmt.Sprintf("\nAND r.%s IN (SELECT s.id FROM graph_nodes s WHERE s.label = %s AND %s)",
			other.id, tgtLabel, matchClause(b, "s", conditionKeys(s.Scope.Match)))
	default:
		scope = fmt.Sprintf("\nAND r.%s IN (%s)", node.id, scopedIDs(b, srcLabel, s.Scope))
	}
	return fmt.Sprintf(`DELETE FROM graph_relationships
WHERE (rel_label, from_label, from_id, to_label, to_id) IN (
SELECT r.rel_label, r.from_label, r.from_id, r.to_label, r.to_id FROM graph_relationships r
WHERE r.rel_label = %s AND r.%s = %s AND r.%s = %s AND r.lastupdated <> %s%s%s)`,
		rel, node.label, srcLabel, other.label, tgtLabel, tag, scope, limitClause(b, s.Limit))
}

// indexQueries returns expression indexes for the extra-indexed properties
// of a schema. id and lastupdated are covered by the table indexes.
func indexQueries(d Dialect, s *entities.NodeSchema) []string {
	var queries []string
	for _, p := range s.IndexedProperties() {
		if p == entities.IDProperty {
			continue
		}
		name := strings.ToLower(fmt.Sprintf("idx_graph_nodes_%s_%s", s.Label, p))
		queries = append(queries, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON graph_nodes ((%s)) WHERE label = '%s'",
			name, d.JSONField("properties", p), s.Label))
	}
	return queries
}
