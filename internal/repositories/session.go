package repositories

import (
	"context"

	"github.com/asakaida/graphsync/internal/entities"
)

// Session defines the interface for running compiled statements against a
// graph store. Each Run executes in its own transaction and commits on
// success, so a chunk that succeeded stays committed if a later one fails.
type Session interface {
	// Run executes one statement and reports what it changed
	Run(ctx context.Context, stmt entities.Statement) (*entities.Result, error)

	// Close releases the session's connection
	Close(ctx context.Context) error
}

// Indexer is implemented by stores that can create indexes for a schema's
// identity and extra-indexed properties.
type Indexer interface {
	EnsureIndexes(ctx context.Context, schema *entities.NodeSchema) error
}
