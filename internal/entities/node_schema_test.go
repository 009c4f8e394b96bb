package entities

import (
	"errors"
	"strings"
	"testing"
)

func tenantRel() *RelSchema {
	return &RelSchema{
		TargetLabel:   "Tenant",
		TargetMatcher: map[string]PropertyRef{"id": Constant("TENANT_ID")},
		Direction:     Inward,
		RelLabel:      "RESOURCE",
		Properties:    map[string]PropertyRef{"lastupdated": Constant(UpdateTagKey)},
	}
}

func validSchema() *NodeSchema {
	return &NodeSchema{
		Label: "Widget",
		Properties: map[string]PropertyRef{
			"id":          Field("id"),
			"name":        Field("name", ExtraIndex()),
			"lastupdated": Constant(UpdateTagKey),
		},
		SubResourceRel: tenantRel(),
		ScopedCleanup:  true,
	}
}

func TestNodeSchema_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *NodeSchema)
		wantErr string
	}{
		{
			name:   "valid schema",
			mutate: func(s *NodeSchema) {},
		},
		{
			name:    "invalid label",
			mutate:  func(s *NodeSchema) { s.Label = "My Widget" },
			wantErr: "not a valid identifier",
		},
		{
			name:    "missing id",
			mutate:  func(s *NodeSchema) { delete(s.Properties, "id") },
			wantErr: "must define id",
		},
		{
			name:    "missing lastupdated",
			mutate:  func(s *NodeSchema) { delete(s.Properties, "lastupdated") },
			wantErr: "must define lastupdated",
		},
		{
			name:    "firstseen is reserved",
			mutate:  func(s *NodeSchema) { s.Properties["firstseen"] = Field("first") },
			wantErr: "managed by the store",
		},
		{
			name:    "one-to-many node property",
			mutate:  func(s *NodeSchema) { s.Properties["tags"] = Field("tags", OneToMany()) },
			wantErr: "only valid in matchers",
		},
		{
			name:    "duplicate extra label",
			mutate:  func(s *NodeSchema) { s.ExtraLabels = []string{"Asset", "Asset"} },
			wantErr: "duplicated",
		},
		{
			name:    "extra label equals primary label",
			mutate:  func(s *NodeSchema) { s.ExtraLabels = []string{"Widget"} },
			wantErr: "duplicated",
		},
		{
			name: "conditional label clashes with extra label",
			mutate: func(s *NodeSchema) {
				s.ExtraLabels = []string{"Public"}
				s.ConditionalLabels = []ConditionalLabel{{Label: "Public", Conditions: map[string]any{"public": true}}}
			},
			wantErr: "duplicated",
		},
		{
			name: "conditional label without conditions",
			mutate: func(s *NodeSchema) {
				s.ConditionalLabels = []ConditionalLabel{{Label: "Public"}}
			},
			wantErr: "no conditions",
		},
		{
			name: "conditional label matching null",
			mutate: func(s *NodeSchema) {
				s.ConditionalLabels = []ConditionalLabel{{Label: "Untagged", Conditions: map[string]any{"tag": nil}}}
			},
			wantErr: "cannot match a null value",
		},
		{
			name:    "scoped cleanup without sub-resource",
			mutate:  func(s *NodeSchema) { s.SubResourceRel = nil },
			wantErr: "requires a sub-resource relationship",
		},
		{
			name: "scoped cleanup with field matcher",
			mutate: func(s *NodeSchema) {
				s.SubResourceRel.TargetMatcher = map[string]PropertyRef{"id": Field("tenant_id")}
			},
			wantErr: "requires constant sub-resource matchers",
		},
		{
			name: "unscoped schema may omit sub-resource",
			mutate: func(s *NodeSchema) {
				s.SubResourceRel = nil
				s.ScopedCleanup = false
			},
		},
		{
			name: "one-to-many sub-resource",
			mutate: func(s *NodeSchema) {
				s.ScopedCleanup = false
				s.SubResourceRel.TargetMatcher = map[string]PropertyRef{"id": Field("tenants", OneToMany())}
			},
			wantErr: "cannot be one-to-many",
		},
		{
			name: "relationship without lastupdated",
			mutate: func(s *NodeSchema) {
				s.OtherRels = []RelSchema{{
					TargetLabel:   "Owner",
					TargetMatcher: map[string]PropertyRef{"id": Field("owner")},
					RelLabel:      "OWNED_BY",
				}}
			},
			wantErr: "must define lastupdated",
		},
		{
			name: "relationship with empty matcher",
			mutate: func(s *NodeSchema) {
				s.OtherRels = []RelSchema{{
					TargetLabel: "Owner",
					RelLabel:    "OWNED_BY",
					Properties:  map[string]PropertyRef{"lastupdated": Constant(UpdateTagKey)},
				}}
			},
			wantErr: "empty target matcher",
		},
		{
			name: "constant one-to-many matcher",
			mutate: func(s *NodeSchema) {
				s.OtherRels = []RelSchema{{
					TargetLabel:   "Owner",
					TargetMatcher: map[string]PropertyRef{"id": Constant("OWNERS", OneToMany())},
					RelLabel:      "OWNED_BY",
					Properties:    map[string]PropertyRef{"lastupdated": Constant(UpdateTagKey)},
				}}
			},
			wantErr: "must be fields",
		},
		{
			name: "two one-to-many matchers",
			mutate: func(s *NodeSchema) {
				s.OtherRels = []RelSchema{{
					TargetLabel: "Owner",
					TargetMatcher: map[string]PropertyRef{
						"id":   Field("ids", OneToMany()),
						"name": Field("names", OneToMany()),
					},
					RelLabel:   "OWNED_BY",
					Properties: map[string]PropertyRef{"lastupdated": Constant(UpdateTagKey)},
				}}
			},
			wantErr: "more than one one-to-many",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSchema()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			var schemaErr *SchemaError
			if !errors.As(err, &schemaErr) {
				t.Errorf("Validate() error type = %T, want *SchemaError", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestNodeSchema_IndexedProperties(t *testing.T) {
	s := validSchema()
	s.Properties["arn"] = Field("arn", ExtraIndex())

	got := s.IndexedProperties()
	want := []string{"id", "arn", "name"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("IndexedProperties() = %v, want %v", got, want)
	}
}

func TestNodeSchema_Relationships(t *testing.T) {
	s := validSchema()
	s.OtherRels = []RelSchema{{TargetLabel: "Owner", RelLabel: "OWNED_BY"}}

	rels := s.Relationships()
	if len(rels) != 2 {
		t.Fatalf("Relationships() len = %d, want 2", len(rels))
	}
	if rels[0].RelLabel != "RESOURCE" || rels[1].RelLabel != "OWNED_BY" {
		t.Errorf("Relationships() order = [%s %s], want [RESOURCE OWNED_BY]", rels[0].RelLabel, rels[1].RelLabel)
	}
}

func TestRelSchema_MergesTarget(t *testing.T) {
	tests := []struct {
		name    string
		matcher map[string]PropertyRef
		want    bool
	}{
		{
			name:    "id only",
			matcher: map[string]PropertyRef{"id": Field("owner")},
			want:    true,
		},
		{
			name:    "non-id attribute",
			matcher: map[string]PropertyRef{"arn": Field("owner_arn")},
			want:    false,
		},
		{
			name:    "id plus another attribute",
			matcher: map[string]PropertyRef{"id": Field("owner"), "region": Field("region")},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &RelSchema{TargetMatcher: tt.matcher}
			if got := r.MergesTarget(); got != tt.want {
				t.Errorf("MergesTarget() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConditionalLabel_SortedConditions(t *testing.T) {
	cl := ConditionalLabel{Label: "Exposed", Conditions: map[string]any{"public": true, "internet_facing": true, "acl": "open"}}

	got := cl.SortedConditions()
	if len(got) != 3 {
		t.Fatalf("SortedConditions() len = %d, want 3", len(got))
	}
	for i, want := range []string{"acl", "internet_facing", "public"} {
		if got[i].Property != want {
			t.Errorf("SortedConditions()[%d].Property = %s, want %s", i, got[i].Property, want)
		}
	}
}
