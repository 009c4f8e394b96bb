package entities

import (
	"fmt"
	"sort"
	"sync"
)

// Catalog holds the node schemas known to a process, keyed by name.
// Several schemas may share a label (e.g., two collectors writing the same
// node type), but only when they agree on cleanup scoping: an unscoped
// cleanup for a label would otherwise delete the nodes a scoped writer of
// another tenant relies on.
type Catalog struct {
	mu      sync.RWMutex
	schemas map[string]*NodeSchema
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{schemas: make(map[string]*NodeSchema)}
}

// Register validates s and adds it under name.
func (c *Catalog) Register(name string, s *NodeSchema) error {
	if name == "" {
		return fmt.Errorf("schema name is required")
	}
	if err := s.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.schemas[name]; exists {
		return schemaErrorf(s.Label, "schema %q is already registered", name)
	}
	for other, existing := range c.schemas {
		if existing.Label == s.Label && existing.ScopedCleanup != s.ScopedCleanup {
			return schemaErrorf(s.Label, "schema %q disagrees with %q on scoped cleanup for a shared label", name, other)
		}
	}
	c.schemas[name] = s
	return nil
}

// Get returns the schema registered under name.
func (c *Catalog) Get(name string) (*NodeSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[name]
	return s, ok
}

// Names returns the registered schema names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.schemas))
	for n := range c.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
