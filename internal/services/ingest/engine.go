// Package ingest is the engine collectors call to write a sync run into the
// graph: Load upserts records, Cleanup removes what the run did not touch.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/asakaida/graphsync/internal/entities"
	"github.com/asakaida/graphsync/internal/infrastructure/config"
	"github.com/asakaida/graphsync/internal/infrastructure/metrics"
	"github.com/asakaida/graphsync/internal/repositories"
	"github.com/asakaida/graphsync/internal/services/graphjob"
	"github.com/asakaida/graphsync/internal/services/querybuilder"
	"github.com/sirupsen/logrus"
)

// Config tunes chunking, timeouts and retries.
type Config struct {
	BatchSize      int           // Records per committed chunk
	ChunkTimeout   time.Duration // Deadline of one statement; 0 disables it
	MaxRetries     int           // Retries after a transient store error
	InitialBackoff time.Duration // First retry delay, doubled per attempt
	CleanupLimit   int           // Deletions per cleanup pass; 0 is unbounded
	EnsureIndexes  bool          // Create label indexes before the first chunk
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:      querybuilder.DefaultBatchSize,
		ChunkTimeout:   60 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
	}
}

// ConfigFrom maps the application configuration onto engine settings.
func ConfigFrom(cfg config.IngestConfig) Config {
	c := DefaultConfig()
	c.BatchSize = cfg.BatchSize
	c.ChunkTimeout = cfg.ChunkTimeout
	c.MaxRetries = cfg.MaxRetries
	c.CleanupLimit = cfg.CleanupLimit
	c.EnsureIndexes = true
	return c
}

// Engine runs compiled load and cleanup statements against a session.
// It holds no per-run state and is safe for concurrent use.
type Engine struct {
	cfg      Config
	logger   logrus.FieldLogger
	recorder *metrics.Recorder
}

// NewEngine creates an engine; recorder may be nil, a nil logger falls back
// to the logrus standard logger.
func NewEngine(cfg Config, logger logrus.FieldLogger, recorder *metrics.Recorder) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = querybuilder.DefaultBatchSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{cfg: cfg, logger: logger, recorder: recorder}
}

// Load upserts records as nodes of schema, together with their conditional
// labels and relationships. Every record is resolved before anything is
// written. Chunks commit independently; on failure the chunks already
// committed stay and the originating error is returned.
func (e *Engine) Load(ctx context.Context, session repositories.Session, schema *entities.NodeSchema, records []map[string]any, rc entities.RunContext) error {
	batches, err := querybuilder.BuildIngestion(schema, records, rc, e.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to compile load of %s: %w", schema.Label, err)
	}

	logger := e.logger.WithFields(logrus.Fields{
		"action": "ingest_load",
		"label":  schema.Label,
		"run_id": rc.RunID(),
	})

	if e.cfg.EnsureIndexes {
		if ix, ok := session.(repositories.Indexer); ok {
			if err := ix.EnsureIndexes(ctx, schema); err != nil {
				return fmt.Errorf("failed to ensure indexes for %s: %w", schema.Label, err)
			}
		}
	}

	guarded := e.guard(session, logger)
	total := &entities.Result{}
	start := time.Now()
	for i, batch := range batches {
		for _, stmt := range batch.Statements() {
			res, err := guarded.Run(ctx, stmt)
			if err != nil {
				return fmt.Errorf("failed to load %s chunk %d/%d: %w", schema.Label, i+1, len(batches), err)
			}
			total.Add(res)
		}
		logger.WithFields(logrus.Fields{
			"chunk":  i + 1,
			"chunks": len(batches),
			"rows":   len(batch.Nodes.Rows),
		}).Debug("chunk committed")
	}

	logger.WithFields(logrus.Fields{
		"records":               len(records),
		"nodes_created":         total.NodesCreated,
		"relationships_created": total.RelationshipsCreated,
		"took":                  time.Since(start),
	}).Info("load finished")
	return nil
}

// Cleanup deletes the schema's nodes and relationships whose lastupdated
// differs from the run's update tag. It must run only after every writer of
// the label has finished in the current sync.
func (e *Engine) Cleanup(ctx context.Context, session repositories.Session, schema *entities.NodeSchema, rc entities.RunContext) error {
	logger := e.logger.WithFields(logrus.Fields{
		"action": "ingest_cleanup",
		"label":  schema.Label,
		"run_id": rc.RunID(),
	})

	job, err := graphjob.FromNodeSchema(schema, rc, e.cfg.CleanupLimit)
	if err != nil {
		return e.cleanupFailed(logger, schema.Label, fmt.Errorf("failed to compile cleanup of %s: %w", schema.Label, err))
	}

	res, err := job.Run(ctx, e.guard(session, logger), logger)
	if err != nil {
		return e.cleanupFailed(logger, schema.Label, fmt.Errorf("failed to clean up %s: %w", schema.Label, err))
	}

	logger.WithFields(logrus.Fields{
		"nodes_deleted":         res.NodesDeleted,
		"relationships_deleted": res.RelationshipsDeleted,
	}).Info("cleanup finished")
	return nil
}

func (e *Engine) cleanupFailed(logger logrus.FieldLogger, label string, err error) error {
	e.recorder.RecordCleanupFailure(label)
	logger.WithError(err).Error("cleanup failed")
	return err
}

// Sync loads records and then cleans up the label. A load failure is
// returned; a cleanup failure is logged and counted but does not fail the
// sync, since stale data only lingers until the next run.
func (e *Engine) Sync(ctx context.Context, session repositories.Session, schema *entities.NodeSchema, records []map[string]any, rc entities.RunContext) error {
	if err := e.Load(ctx, session, schema, records, rc); err != nil {
		return err
	}
	_ = e.Cleanup(ctx, session, schema, rc)
	return nil
}
