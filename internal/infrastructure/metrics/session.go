package metrics

import (
	"context"
	"time"

	"github.com/asakaida/graphsync/internal/entities"
	"github.com/asakaida/graphsync/internal/repositories"
)

// Recorder fans events out to a Collector and an optional PrometheusExporter.
// A nil *Recorder records nothing.
type Recorder struct {
	collector *Collector
	exporter  *PrometheusExporter
}

// NewRecorder creates a recorder; exporter may be nil.
func NewRecorder(collector *Collector, exporter *PrometheusExporter) *Recorder {
	return &Recorder{collector: collector, exporter: exporter}
}

// Collector returns the in-process collector.
func (r *Recorder) Collector() *Collector {
	if r == nil {
		return nil
	}
	return r.collector
}

func (r *Recorder) statement(stmt entities.Statement, took time.Duration, err error) {
	if r == nil {
		return
	}
	kind := stmt.Kind().String()
	seconds := took.Seconds()
	transient := repositories.IsTransient(err)

	if r.collector != nil {
		r.collector.RecordStatement(kind)
		r.collector.RecordDuration(kind, seconds)
		if err != nil {
			r.collector.RecordError(kind, transient)
		}
	}
	if r.exporter != nil {
		r.exporter.RecordStatement(kind, stmt.Subject())
		r.exporter.RecordDuration(kind, seconds)
		if err != nil {
			r.exporter.RecordError(kind, transient)
		}
	}
}

// RecordRetry records a chunk retry.
func (r *Recorder) RecordRetry() {
	if r == nil {
		return
	}
	if r.collector != nil {
		r.collector.RecordRetry()
	}
	if r.exporter != nil {
		r.exporter.RecordRetry()
	}
}

// RecordCleanupFailure records a failed cleanup job for label.
func (r *Recorder) RecordCleanupFailure(label string) {
	if r == nil {
		return
	}
	if r.collector != nil {
		r.collector.RecordCleanupFailure(label)
	}
	if r.exporter != nil {
		r.exporter.RecordCleanupFailure(label)
	}
}

// instrumentedSession records every statement run through it.
type instrumentedSession struct {
	next     repositories.Session
	recorder *Recorder
}

// InstrumentSession wraps next so that each Run is counted and timed.
func InstrumentSession(next repositories.Session, recorder *Recorder) repositories.Session {
	if recorder == nil {
		return next
	}
	return &instrumentedSession{next: next, recorder: recorder}
}

func (s *instrumentedSession) Run(ctx context.Context, stmt entities.Statement) (*entities.Result, error) {
	start := time.Now()
	res, err := s.next.Run(ctx, stmt)
	s.recorder.statement(stmt, time.Since(start), err)
	return res, err
}

func (s *instrumentedSession) Close(ctx context.Context) error {
	return s.next.Close(ctx)
}

// EnsureIndexes forwards to the wrapped session when it supports indexing.
func (s *instrumentedSession) EnsureIndexes(ctx context.Context, schema *entities.NodeSchema) error {
	if ix, ok := s.next.(repositories.Indexer); ok {
		return ix.EnsureIndexes(ctx, schema)
	}
	return nil
}
