package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/asakaida/graphsync/internal/entities"
	"github.com/asakaida/graphsync/internal/infrastructure/metrics"
	"github.com/asakaida/graphsync/internal/repositories"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// guardedSession runs each statement under the chunk deadline and retries
// transient failures with exponential backoff. Statements are idempotent,
// so a retried statement converges to the same graph.
type guardedSession struct {
	next    repositories.Session
	engine  *Engine
	logger  logrus.FieldLogger
	timeout time.Duration
}

func (e *Engine) guard(session repositories.Session, logger logrus.FieldLogger) *guardedSession {
	return &guardedSession{
		next:    metrics.InstrumentSession(session, e.recorder),
		engine:  e,
		logger:  logger,
		timeout: e.cfg.ChunkTimeout,
	}
}

func (s *guardedSession) Run(ctx context.Context, stmt entities.Statement) (*entities.Result, error) {
	var result *entities.Result
	var lastErr error

	op := func() error {
		res, err := s.runOnce(ctx, stmt)
		if err == nil {
			result = res
			return nil
		}
		lastErr = err
		if !repositories.IsTransient(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		s.engine.recorder.RecordRetry()
		s.logger.WithFields(logrus.Fields{
			"statement": stmt.Kind().String(),
			"wait":      wait,
		}).WithError(err).Warn("transient store error, retrying")
	}

	if err := backoff.RetryNotify(op, s.engine.retryPolicy(ctx), notify); err != nil {
		// The context error of a cancelled parent says less than the
		// statement's own failure.
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, err
	}
	return result, nil
}

func (s *guardedSession) runOnce(ctx context.Context, stmt entities.Statement) (*entities.Result, error) {
	if s.timeout <= 0 {
		return s.next.Run(ctx, stmt)
	}
	chunkCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.next.Run(chunkCtx, stmt)
	if err != nil && !repositories.IsTransient(err) && errors.Is(chunkCtx.Err(), context.DeadlineExceeded) {
		// Drivers report an interrupted statement in their own words.
		return nil, &repositories.TransientStoreError{Op: stmt.Kind().String(), Err: err}
	}
	return res, err
}

func (s *guardedSession) Close(ctx context.Context) error {
	return s.next.Close(ctx)
}

func (e *Engine) retryPolicy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = e.cfg.InitialBackoff
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(e.cfg.MaxRetries)), ctx)
}
