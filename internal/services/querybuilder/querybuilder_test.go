package querybuilder

import (
	"errors"
	"testing"

	"github.com/asakaida/graphsync/internal/entities"
	"github.com/google/go-cmp/cmp"
)

func instanceSchema() *entities.NodeSchema {
	return &entities.NodeSchema{
		Label: "Instance",
		Properties: map[string]entities.PropertyRef{
			"id":          entities.Field("InstanceId"),
			"state":       entities.Field("State"),
			"lastupdated": entities.Constant(entities.UpdateTagKey),
		},
		SubResourceRel: &entities.RelSchema{
			TargetLabel:   "Account",
			TargetMatcher: map[string]entities.PropertyRef{"id": entities.Constant("ACCOUNT_ID")},
			Direction:     entities.Inward,
			RelLabel:      "RESOURCE",
			Properties:    map[string]entities.PropertyRef{"lastupdated": entities.Constant(entities.UpdateTagKey)},
		},
		OtherRels: []entities.RelSchema{{
			TargetLabel:   "Subnet",
			TargetMatcher: map[string]entities.PropertyRef{"id": entities.Field("SubnetIds", entities.OneToMany())},
			Direction:     entities.Outward,
			RelLabel:      "PART_OF_SUBNET",
			Properties:    map[string]entities.PropertyRef{"lastupdated": entities.Constant(entities.UpdateTagKey)},
		}},
		ExtraLabels: []string{"ComputeResource"},
		ConditionalLabels: []entities.ConditionalLabel{
			{Label: "Running", Conditions: map[string]any{"state": "running"}},
		},
		ScopedCleanup: true,
	}
}

func TestBuildIngestion(t *testing.T) {
	rc := entities.NewRunContext(1700, map[string]any{"ACCOUNT_ID": "acct-1"})
	records := []map[string]any{
		{"InstanceId": "i-1", "State": "running", "SubnetIds": []any{"s-1", "s-2", "s-3"}},
		{"InstanceId": "i-2", "State": "stopped"},
	}

	batches, err := BuildIngestion(instanceSchema(), records, rc, 10)
	if err != nil {
		t.Fatalf("BuildIngestion() error = %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("BuildIngestion() batches = %d, want 1", len(batches))
	}
	b := batches[0]

	wantNodes := &entities.MergeNodes{
		NodeLabel:     "Instance",
		ExtraLabels:   []string{"ComputeResource"},
		PropertyNames: []string{"lastupdated", "state"},
		Rows: []entities.NodeRow{
			{ID: "i-1", Properties: map[string]any{"lastupdated": int64(1700), "state": "running"}},
			{ID: "i-2", Properties: map[string]any{"lastupdated": int64(1700), "state": "stopped"}},
		},
	}
	if diff := cmp.Diff(wantNodes, b.Nodes); diff != "" {
		t.Errorf("Nodes mismatch (-want +got):\n%s", diff)
	}

	wantLabels := []*entities.ApplyLabel{{
		NodeLabel:  "Instance",
		Label:      "Running",
		Conditions: []entities.Condition{{Property: "state", Value: "running"}},
		IDs:        []any{"i-1", "i-2"},
	}}
	if diff := cmp.Diff(wantLabels, b.Labels); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}

	stamp := map[string]any{"lastupdated": int64(1700)}
	wantRels := []*entities.MergeRelationships{
		{
			Pattern: entities.RelPattern{
				SourceLabel:   "Instance",
				TargetLabel:   "Account",
				RelLabel:      "RESOURCE",
				Direction:     entities.Inward,
				MatchKeys:     []string{"id"},
				MergeTarget:   true,
				PropertyNames: []string{"lastupdated"},
			},
			Rows: []entities.RelRow{
				{SourceID: "i-1", Target: map[string]any{"id": "acct-1"}, Properties: stamp},
				{SourceID: "i-2", Target: map[string]any{"id": "acct-1"}, Properties: stamp},
			},
		},
		{
			Pattern: entities.RelPattern{
				SourceLabel:   "Instance",
				TargetLabel:   "Subnet",
				RelLabel:      "PART_OF_SUBNET",
				Direction:     entities.Outward,
				MatchKeys:     []string{"id"},
				MergeTarget:   true,
				PropertyNames: []string{"lastupdated"},
			},
			Rows: []entities.RelRow{
				{SourceID: "i-1", Target: map[string]any{"id": "s-1"}, Properties: stamp},
				{SourceID: "i-1", Target: map[string]any{"id": "s-2"}, Properties: stamp},
				{SourceID: "i-1", Target: map[string]any{"id": "s-3"}, Properties: stamp},
			},
		},
	}
	if diff := cmp.Diff(wantRels, b.Relationships); diff != "" {
		t.Errorf("Relationships mismatch (-want +got):\n%s", diff)
	}

	kinds := []entities.StatementKind{}
	for _, s := range b.Statements() {
		kinds = append(kinds, s.Kind())
	}
	wantKinds := []entities.StatementKind{
		entities.KindMergeNodes,
		entities.KindApplyLabel,
		entities.KindMergeRelationships,
		entities.KindMergeRelationships,
	}
	if diff := cmp.Diff(wantKinds, kinds); diff != "" {
		t.Errorf("Statements() order mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildIngestion_Chunking(t *testing.T) {
	rc := entities.NewRunContext(1, map[string]any{"ACCOUNT_ID": "acct-1"})
	records := make([]map[string]any, 5)
	for i := range records {
		records[i] = map[string]any{"InstanceId": i}
	}

	batches, err := BuildIngestion(instanceSchema(), records, rc, 2)
	if err != nil {
		t.Fatalf("BuildIngestion() error = %v", err)
	}

	var sizes []int
	for _, b := range batches {
		sizes = append(sizes, len(b.Nodes.Rows))
	}
	if diff := cmp.Diff([]int{2, 2, 1}, sizes); diff != "" {
		t.Errorf("chunk sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildIngestion_Errors(t *testing.T) {
	tests := []struct {
		name      string
		schema    func() *entities.NodeSchema
		records   []map[string]any
		params    map[string]any
		checkType func(error) bool
	}{
		{
			name:    "missing run parameter",
			schema:  instanceSchema,
			records: []map[string]any{{"InstanceId": "i-1"}},
			params:  map[string]any{},
			checkType: func(err error) bool {
				var e *entities.MissingKwargError
				return errors.As(err, &e) && e.Key == "ACCOUNT_ID"
			},
		},
		{
			name:    "record without id",
			schema:  instanceSchema,
			records: []map[string]any{{"InstanceId": "i-1"}, {"State": "running"}},
			params:  map[string]any{"ACCOUNT_ID": "acct-1"},
			checkType: func(err error) bool {
				var e *entities.SchemaError
				return errors.As(err, &e)
			},
		},
		{
			name: "node lastupdated resolves to nil",
			schema: func() *entities.NodeSchema {
				s := instanceSchema()
				s.Properties["lastupdated"] = entities.Field("Tag")
				return s
			},
			records: []map[string]any{{"InstanceId": "i-1"}},
			params:  map[string]any{"ACCOUNT_ID": "acct-1"},
			checkType: func(err error) bool {
				var e *entities.SchemaError
				return errors.As(err, &e) && e.Label == "Instance"
			},
		},
		{
			name: "relationship lastupdated resolves to nil",
			schema: func() *entities.NodeSchema {
				s := instanceSchema()
				s.OtherRels[0].Properties["lastupdated"] = entities.Field("Tag")
				return s
			},
			records: []map[string]any{{"InstanceId": "i-1", "SubnetIds": []any{"s-1"}}},
			params:  map[string]any{"ACCOUNT_ID": "acct-1"},
			checkType: func(err error) bool {
				var e *entities.SchemaError
				return errors.As(err, &e)
			},
		},
		{
			name: "invalid schema",
			schema: func() *entities.NodeSchema {
				s := instanceSchema()
				delete(s.Properties, "lastupdated")
				return s
			},
			records: []map[string]any{{"InstanceId": "i-1"}},
			params:  map[string]any{"ACCOUNT_ID": "acct-1"},
			checkType: func(err error) bool {
				var e *entities.SchemaError
				return errors.As(err, &e)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches, err := BuildIngestion(tt.schema(), tt.records, entities.NewRunContext(1, tt.params), 1)
			if err == nil {
				t.Fatal("BuildIngestion() expected error, got nil")
			}
			if batches != nil {
				t.Errorf("BuildIngestion() returned %d batches alongside an error", len(batches))
			}
			if !tt.checkType(err) {
				t.Errorf("BuildIngestion() error = %v (%T), unexpected type", err, err)
			}
		})
	}
}

func TestResolveRelationship_SkipsMissingTargets(t *testing.T) {
	rc := entities.NewRunContext(1, map[string]any{"ACCOUNT_ID": "acct-1"})
	s := instanceSchema()
	rel := &s.OtherRels[0]
	pattern := RelPatternFor(s.Label, rel)

	tests := []struct {
		name   string
		record map[string]any
		want   int
	}{
		{name: "absent list", record: map[string]any{}, want: 0},
		{name: "empty list", record: map[string]any{"SubnetIds": []any{}}, want: 0},
		{name: "nil elements skipped", record: map[string]any{"SubnetIds": []any{"s-1", nil}}, want: 1},
		{name: "typed slice", record: map[string]any{"SubnetIds": []string{"s-1", "s-2"}}, want: 2},
		{name: "scalar value", record: map[string]any{"SubnetIds": "s-1"}, want: 1},
	}

	t.Run("no target with nil lastupdated", func(t *testing.T) {
		unstamped := *rel
		unstamped.Properties = map[string]entities.PropertyRef{"lastupdated": entities.Field("Tag")}
		rows, err := resolveRelationship(&unstamped, pattern, "i-1", map[string]any{}, rc)
		if err != nil || len(rows) != 0 {
			t.Errorf("resolveRelationship() = %d rows, %v; want no rows and no error", len(rows), err)
		}
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := resolveRelationship(rel, pattern, "i-1", tt.record, rc)
			if err != nil {
				t.Fatalf("resolveRelationship() error = %v", err)
			}
			if len(rows) != tt.want {
				t.Errorf("resolveRelationship() rows = %d, want %d", len(rows), tt.want)
			}
		})
	}
}
