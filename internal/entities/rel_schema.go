package entities

import "sort"

// Direction tells which end of a relationship is its subject.
type Direction int

const (
	// Inward draws the relationship from the target to the schema node: (n)<-[r]-(t).
	Inward Direction = iota
	// Outward draws the relationship from the schema node to the target: (n)-[r]->(t).
	Outward
)

// String returns "inward" or "outward".
func (d Direction) String() string {
	if d == Outward {
		return "outward"
	}
	return "inward"
}

// RelSchema describes a relationship from a node schema to nodes of another label.
type RelSchema struct {
	TargetLabel   string                 // Label of the node at the other end (e.g., "AWSAccount")
	TargetMatcher map[string]PropertyRef // Target attribute -> value used to find the target
	Direction     Direction
	RelLabel      string                 // Relationship type (e.g., "RESOURCE")
	Properties    map[string]PropertyRef // Properties stamped on the relationship, lastupdated included
}

// MatchKeys returns the target matcher attributes in sorted order.
func (r *RelSchema) MatchKeys() []string {
	return sortedKeys(r.TargetMatcher)
}

// PropertyNames returns the relationship property names in sorted order.
func (r *RelSchema) PropertyNames() []string {
	return sortedKeys(r.Properties)
}

// MergesTarget reports whether loading this relationship may create a stub
// target. Only a matcher on exactly the identity property can do so, since a
// stub holds nothing but its id.
func (r *RelSchema) MergesTarget() bool {
	_, ok := r.TargetMatcher[IDProperty]
	return ok && len(r.TargetMatcher) == 1
}

// FanOutKey returns the matcher attribute that fans out per list element, or "".
func (r *RelSchema) FanOutKey() string {
	for _, k := range r.MatchKeys() {
		if r.TargetMatcher[k].OneToMany {
			return k
		}
	}
	return ""
}

func (r *RelSchema) validate(owner string) error {
	if !isIdentifier(r.TargetLabel) {
		return schemaErrorf(owner, "relationship target label %q is not a valid identifier", r.TargetLabel)
	}
	if !isIdentifier(r.RelLabel) {
		return schemaErrorf(owner, "relationship label %q is not a valid identifier", r.RelLabel)
	}
	if r.Direction != Inward && r.Direction != Outward {
		return schemaErrorf(owner, "relationship %s has unknown direction %d", r.RelLabel, r.Direction)
	}
	if len(r.TargetMatcher) == 0 {
		return schemaErrorf(owner, "relationship %s has an empty target matcher", r.RelLabel)
	}
	fanOut := 0
	for k, ref := range r.TargetMatcher {
		if !isIdentifier(k) {
			return schemaErrorf(owner, "relationship %s matcher key %q is not a valid identifier", r.RelLabel, k)
		}
		if ref.Name == "" {
			return schemaErrorf(owner, "relationship %s matcher %q has an empty ref", r.RelLabel, k)
		}
		if ref.OneToMany {
			if ref.IsConstant() {
				return schemaErrorf(owner, "relationship %s matcher %q: one-to-many refs must be fields", r.RelLabel, k)
			}
			fanOut++
		}
	}
	if fanOut > 1 {
		return schemaErrorf(owner, "relationship %s has more than one one-to-many matcher", r.RelLabel)
	}
	if _, ok := r.Properties[LastUpdatedProperty]; !ok {
		return schemaErrorf(owner, "relationship %s must define %s", r.RelLabel, LastUpdatedProperty)
	}
	for k, ref := range r.Properties {
		if !isIdentifier(k) {
			return schemaErrorf(owner, "relationship %s property %q is not a valid identifier", r.RelLabel, k)
		}
		if ref.OneToMany {
			return schemaErrorf(owner, "relationship %s property %q: one-to-many is only valid in matchers", r.RelLabel, k)
		}
	}
	return nil
}

func sortedKeys(m map[string]PropertyRef) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
