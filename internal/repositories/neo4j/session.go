// Package neo4j runs compiled statements against Neo4j over Bolt.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/asakaida/graphsync/internal/entities"
	"github.com/asakaida/graphsync/internal/infrastructure/config"
	"github.com/asakaida/graphsync/internal/repositories"
	"github.com/asakaida/graphsync/pkg/cache"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// NewDriver creates a Bolt driver from configuration and verifies connectivity.
func NewDriver(ctx context.Context, cfg *config.Neo4jConfig) (neo4j.DriverWithContext, error) {
	auth := neo4j.BasicAuth(cfg.User, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
		c.SocketConnectTimeout = 5 * time.Second
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify neo4j connectivity: %w", err)
	}
	return driver, nil
}

// Neo4jSession implements repositories.Session over one driver session.
type Neo4jSession struct {
	session  neo4j.SessionWithContext
	renderer *Renderer
}

// NewNeo4jSession opens a write session on database ("" selects the default).
func NewNeo4jSession(ctx context.Context, driver neo4j.DriverWithContext, database string, queryCache cache.Cache) repositories.Session {
	return &Neo4jSession{
		session: driver.NewSession(ctx, neo4j.SessionConfig{
			AccessMode:   neo4j.AccessModeWrite,
			DatabaseName: database,
		}),
		renderer: NewRenderer(queryCache),
	}
}

// Run renders stmt to Cypher and executes it in a managed write transaction.
func (s *Neo4jSession) Run(ctx context.Context, stmt entities.Statement) (*entities.Result, error) {
	query, params, err := s.renderer.Render(ctx, stmt)
	if err != nil {
		return nil, &repositories.StoreError{Op: stmt.Kind().String(), Err: err}
	}

	summary, err := s.session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return nil, repositories.Classify(stmt.Kind().String(), fmt.Errorf("failed to run cypher: %w", err), isTransient)
	}

	counters := summary.(neo4j.ResultSummary).Counters()
	return &entities.Result{
		NodesCreated:         counters.NodesCreated(),
		NodesDeleted:         counters.NodesDeleted(),
		RelationshipsCreated: counters.RelationshipsCreated(),
		RelationshipsDeleted: counters.RelationshipsDeleted(),
		LabelsAdded:          counters.LabelsAdded(),
		LabelsRemoved:        counters.LabelsRemoved(),
	}, nil
}

// EnsureIndexes creates the identity, extra and lastupdated indexes for the
// schema label. Index creation is idempotent.
func (s *Neo4jSession) EnsureIndexes(ctx context.Context, schema *entities.NodeSchema) error {
	for _, query := range indexQueries(schema) {
		res, err := s.session.Run(ctx, query, nil)
		if err == nil {
			_, err = res.Consume(ctx)
		}
		if err != nil {
			return repositories.Classify("ensure_indexes", fmt.Errorf("failed to create index: %w", err), isTransient)
		}
	}
	return nil
}

// Close closes the driver session.
func (s *Neo4jSession) Close(ctx context.Context) error {
	return s.session.Close(ctx)
}

func isTransient(err error) bool {
	if neo4j.IsRetryable(err) || neo4j.IsConnectivityError(err) {
		return true
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		return strings.HasPrefix(neoErr.Code, "Neo.TransientError")
	}
	return false
}
