package entities

import (
	"regexp"
	"sort"
)

const (
	// IDProperty is the identity property every node carries.
	IDProperty = "id"
	// LastUpdatedProperty is stamped with the update tag on every write.
	LastUpdatedProperty = "lastupdated"
	// FirstSeenProperty is set once, when the store creates the entity.
	FirstSeenProperty = "firstseen"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func isIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// NodeSchema declares one graph entity type and how records map onto it.
// A schema is declared once and shared by every sync of that resource type;
// treat it as read-only after Validate succeeds.
type NodeSchema struct {
	Label             string                 // Primary label (e.g., "EC2Instance")
	Properties        map[string]PropertyRef // Node attribute -> source; must include id and lastupdated
	SubResourceRel    *RelSchema             // Ownership edge to the tenant node (optional)
	OtherRels         []RelSchema            // Any other relationships
	ExtraLabels       []string               // Labels applied to every node of this schema
	ConditionalLabels []ConditionalLabel     // Labels applied when node properties match
	ScopedCleanup     bool                   // Restrict cleanup to the current sub-resource
}

// ConditionalLabel applies Label to nodes whose properties equal every
// entry of Conditions.
type ConditionalLabel struct {
	Label      string
	Conditions map[string]any
}

// Condition is one property/value pair of a ConditionalLabel.
type Condition struct {
	Property string
	Value    any
}

// SortedConditions returns the conditions ordered by property name.
func (c ConditionalLabel) SortedConditions() []Condition {
	keys := make([]string, 0, len(c.Conditions))
	for k := range c.Conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Condition, 0, len(keys))
	for _, k := range keys {
		out = append(out, Condition{Property: k, Value: c.Conditions[k]})
	}
	return out
}

// PropertyNames returns the node property names in sorted order.
func (s *NodeSchema) PropertyNames() []string {
	return sortedKeys(s.Properties)
}

// IndexedProperties returns id followed by every property marked ExtraIndex.
func (s *NodeSchema) IndexedProperties() []string {
	out := []string{IDProperty}
	for _, k := range s.PropertyNames() {
		if k != IDProperty && s.Properties[k].ExtraIndex {
			out = append(out, k)
		}
	}
	return out
}

// Relationships returns every relationship of the schema, the sub-resource
// relationship first.
func (s *NodeSchema) Relationships() []RelSchema {
	rels := make([]RelSchema, 0, len(s.OtherRels)+1)
	if s.SubResourceRel != nil {
		rels = append(rels, *s.SubResourceRel)
	}
	return append(rels, s.OtherRels...)
}

// Validate checks the schema invariants and returns *SchemaError on failure.
func (s *NodeSchema) Validate() error {
	if !isIdentifier(s.Label) {
		return schemaErrorf(s.Label, "label %q is not a valid identifier", s.Label)
	}
	if _, ok := s.Properties[IDProperty]; !ok {
		return schemaErrorf(s.Label, "properties must define %s", IDProperty)
	}
	if _, ok := s.Properties[LastUpdatedProperty]; !ok {
		return schemaErrorf(s.Label, "properties must define %s", LastUpdatedProperty)
	}
	for k, ref := range s.Properties {
		if !isIdentifier(k) {
			return schemaErrorf(s.Label, "property %q is not a valid identifier", k)
		}
		if k == FirstSeenProperty {
			return schemaErrorf(s.Label, "property %s is managed by the store", FirstSeenProperty)
		}
		if ref.Name == "" {
			return schemaErrorf(s.Label, "property %q has an empty ref", k)
		}
		if ref.OneToMany {
			return schemaErrorf(s.Label, "property %q: one-to-many is only valid in matchers", k)
		}
	}

	seen := make(map[string]bool)
	for _, l := range s.ExtraLabels {
		if !isIdentifier(l) {
			return schemaErrorf(s.Label, "extra label %q is not a valid identifier", l)
		}
		if l == s.Label || seen[l] {
			return schemaErrorf(s.Label, "extra label %q is duplicated", l)
		}
		seen[l] = true
	}
	for _, cl := range s.ConditionalLabels {
		if !isIdentifier(cl.Label) {
			return schemaErrorf(s.Label, "conditional label %q is not a valid identifier", cl.Label)
		}
		if cl.Label == s.Label || seen[cl.Label] {
			return schemaErrorf(s.Label, "conditional label %q is duplicated", cl.Label)
		}
		seen[cl.Label] = true
		if len(cl.Conditions) == 0 {
			return schemaErrorf(s.Label, "conditional label %q has no conditions", cl.Label)
		}
		for k, v := range cl.Conditions {
			if !isIdentifier(k) {
				return schemaErrorf(s.Label, "conditional label %q: property %q is not a valid identifier", cl.Label, k)
			}
			if v == nil {
				return schemaErrorf(s.Label, "conditional label %q: property %q cannot match a null value", cl.Label, k)
			}
		}
	}

	if s.SubResourceRel != nil {
		if err := s.SubResourceRel.validate(s.Label); err != nil {
			return err
		}
		if s.SubResourceRel.FanOutKey() != "" {
			return schemaErrorf(s.Label, "sub-resource relationship cannot be one-to-many")
		}
	}
	for i := range s.OtherRels {
		if err := s.OtherRels[i].validate(s.Label); err != nil {
			return err
		}
	}

	if s.ScopedCleanup {
		if s.SubResourceRel == nil {
			return schemaErrorf(s.Label, "scoped cleanup requires a sub-resource relationship")
		}
		for k, ref := range s.SubResourceRel.TargetMatcher {
			if !ref.IsConstant() {
				return schemaErrorf(s.Label, "scoped cleanup requires constant sub-resource matchers, %q is %s", k, ref)
			}
		}
	}
	return nil
}
