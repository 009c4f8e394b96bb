// Package querybuilder compiles node schemas and record batches into
// idempotent merge statements.
package querybuilder

import (
	"fmt"
	"reflect"

	"github.com/asakaida/graphsync/internal/entities"
)

// DefaultBatchSize bounds the number of records committed per chunk.
const DefaultBatchSize = 10000

// Batch is the set of statements for one chunk of records, in execution
// order: nodes first, then conditional labels, then relationships.
type Batch struct {
	Nodes         *entities.MergeNodes
	Labels        []*entities.ApplyLabel
	Relationships []*entities.MergeRelationships
}

// Statements returns the batch statements in the order they must run.
func (b *Batch) Statements() []entities.Statement {
	stmts := make([]entities.Statement, 0, 1+len(b.Labels)+len(b.Relationships))
	stmts = append(stmts, b.Nodes)
	for _, l := range b.Labels {
		stmts = append(stmts, l)
	}
	for _, r := range b.Relationships {
		stmts = append(stmts, r)
	}
	return stmts
}

// BuildIngestion resolves records against s and splits them into batches of
// at most batchSize records. Nothing is returned unless every record
// resolves, so a resolution error never leaves a partial load behind.
func BuildIngestion(s *entities.NodeSchema, records []map[string]any, rc entities.RunContext, batchSize int) ([]*Batch, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	propNames := nodePropertyNames(s)
	rels := s.Relationships()
	patterns := make([]entities.RelPattern, len(rels))
	for i := range rels {
		patterns[i] = RelPatternFor(s.Label, &rels[i])
	}

	var batches []*Batch
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		chunk := records[start:end]

		batch := &Batch{
			Nodes: &entities.MergeNodes{
				NodeLabel:     s.Label,
				ExtraLabels:   append([]string(nil), s.ExtraLabels...),
				PropertyNames: propNames,
				Rows:          make([]entities.NodeRow, 0, len(chunk)),
			},
		}
		relRows := make([][]entities.RelRow, len(rels))
		ids := make([]any, 0, len(chunk))

		for i, record := range chunk {
			row, err := resolveNode(s, propNames, record, rc)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", start+i, err)
			}
			batch.Nodes.Rows = append(batch.Nodes.Rows, row)
			ids = append(ids, row.ID)

			for j := range rels {
				rows, err := resolveRelationship(&rels[j], patterns[j], row.ID, record, rc)
				if err != nil {
					return nil, fmt.Errorf("record %d: relationship %s: %w", start+i, rels[j].RelLabel, err)
				}
				relRows[j] = append(relRows[j], rows...)
			}
		}

		for _, cl := range s.ConditionalLabels {
			batch.Labels = append(batch.Labels, &entities.ApplyLabel{
				NodeLabel:  s.Label,
				Label:      cl.Label,
				Conditions: cl.SortedConditions(),
				IDs:        ids,
			})
		}
		for j := range rels {
			if len(relRows[j]) == 0 {
				continue
			}
			batch.Relationships = append(batch.Relationships, &entities.MergeRelationships{
				Pattern: patterns[j],
				Rows:    relRows[j],
			})
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// RelPatternFor describes rel as seen from nodes of sourceLabel.
func RelPatternFor(sourceLabel string, rel *entities.RelSchema) entities.RelPattern {
	return entities.RelPattern{
		SourceLabel:   sourceLabel,
		TargetLabel:   rel.TargetLabel,
		RelLabel:      rel.RelLabel,
		Direction:     rel.Direction,
		MatchKeys:     rel.MatchKeys(),
		MergeTarget:   rel.MergesTarget(),
		PropertyNames: rel.PropertyNames(),
	}
}

func nodePropertyNames(s *entities.NodeSchema) []string {
	names := make([]string, 0, len(s.Properties))
	for _, k := range s.PropertyNames() {
		if k != entities.IDProperty {
			names = append(names, k)
		}
	}
	return names
}

func resolveNode(s *entities.NodeSchema, propNames []string, record map[string]any, rc entities.RunContext) (entities.NodeRow, error) {
	id, err := entities.ResolveProperty(s.Properties[entities.IDProperty], record, rc)
	if err != nil {
		return entities.NodeRow{}, err
	}
	if id == nil {
		return entities.NodeRow{}, &entities.SchemaError{
			Label:  s.Label,
			Reason: fmt.Sprintf("%s resolved to nil from %s", entities.IDProperty, s.Properties[entities.IDProperty]),
		}
	}

	props := make(map[string]any, len(propNames))
	for _, name := range propNames {
		v, err := entities.ResolveProperty(s.Properties[name], record, rc)
		if err != nil {
			return entities.NodeRow{}, err
		}
		props[name] = v
	}
	if props[entities.LastUpdatedProperty] == nil {
		return entities.NodeRow{}, &entities.SchemaError{
			Label:  s.Label,
			Reason: fmt.Sprintf("%s resolved to nil from %s", entities.LastUpdatedProperty, s.Properties[entities.LastUpdatedProperty]),
		}
	}
	return entities.NodeRow{ID: id, Properties: props}, nil
}

func resolveRelationship(rel *entities.RelSchema, pattern entities.RelPattern, sourceID any, record map[string]any, rc entities.RunContext) ([]entities.RelRow, error) {
	props := make(map[string]any, len(pattern.PropertyNames))
	for _, name := range pattern.PropertyNames {
		v, err := entities.ResolveProperty(rel.Properties[name], record, rc)
		if err != nil {
			return nil, err
		}
		props[name] = v
	}

	target := make(map[string]any, len(pattern.MatchKeys))
	fanOutKey := rel.FanOutKey()
	var fanOut []any
	for _, key := range pattern.MatchKeys {
		v, err := entities.ResolveProperty(rel.TargetMatcher[key], record, rc)
		if err != nil {
			return nil, err
		}
		if v == nil {
			// A missing matcher value cannot identify a target.
			return nil, nil
		}
		if key == fanOutKey {
			fanOut = toList(v)
			continue
		}
		target[key] = v
	}

	// Checked once a target is known, so records without one still load.
	if props[entities.LastUpdatedProperty] == nil {
		return nil, &entities.SchemaError{
			Label:  pattern.SourceLabel,
			Reason: fmt.Sprintf("%s of %s resolved to nil from %s", entities.LastUpdatedProperty, rel.RelLabel, rel.Properties[entities.LastUpdatedProperty]),
		}
	}

	if fanOutKey == "" {
		return []entities.RelRow{{SourceID: sourceID, Target: target, Properties: props}}, nil
	}

	rows := make([]entities.RelRow, 0, len(fanOut))
	for _, elem := range fanOut {
		if elem == nil {
			continue
		}
		t := make(map[string]any, len(target)+1)
		for k, v := range target {
			t[k] = v
		}
		t[fanOutKey] = elem
		rows = append(rows, entities.RelRow{SourceID: sourceID, Target: t, Properties: props})
	}
	return rows, nil
}

// toList flattens any slice or array into []any; a scalar becomes a
// one-element list.
func toList(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
