package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/asakaida/graphsync/pkg/cache"
	"github.com/asakaida/graphsync/pkg/cache/memorycache"
)

// Collector collects and aggregates ingestion metrics in process.
type Collector struct {
	// Statement metrics, keyed by statement kind
	statements  sync.Map // map[string]*uint64 - kind -> count
	errors      sync.Map // map[string]*uint64 - kind -> error count
	transient   sync.Map // map[string]*uint64 - kind -> transient error count
	duration    sync.Map // map[string]*durationValue - kind -> total duration in seconds
	retries     uint64
	cleanupFail sync.Map // map[string]*uint64 - label -> failed cleanups

	// Compiled-query cache (optional)
	cache cache.Cache
}

// durationValue holds duration with mutex for thread-safe updates.
type durationValue struct {
	mu           sync.Mutex
	totalSeconds float64
}

// CacheMetrics holds compiled-query cache metrics.
type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	KeysCurrent int64
	MemoryBytes int64
	Evictions   uint64
}

// StatementMetrics holds per-kind statement metrics.
type StatementMetrics struct {
	Counts               map[string]uint64
	ErrorCounts          map[string]uint64
	TransientErrorCounts map[string]uint64
	TotalDurationSeconds map[string]float64
	Retries              uint64
	CleanupFailures      map[string]uint64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetCache sets the compiled-query cache to report on.
func (c *Collector) SetCache(cache cache.Cache) {
	c.cache = cache
}

// RecordStatement records one executed statement.
func (c *Collector) RecordStatement(kind string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.statements, kind), 1)
}

// RecordError records a failed statement; transient marks retryable failures.
func (c *Collector) RecordError(kind string, transient bool) {
	atomic.AddUint64(c.getOrCreateCounter(&c.errors, kind), 1)
	if transient {
		atomic.AddUint64(c.getOrCreateCounter(&c.transient, kind), 1)
	}
}

// RecordDuration records the duration of a statement in seconds.
func (c *Collector) RecordDuration(kind string, durationSeconds float64) {
	val, _ := c.duration.LoadOrStore(kind, &durationValue{})
	dv := val.(*durationValue)

	dv.mu.Lock()
	dv.totalSeconds += durationSeconds
	dv.mu.Unlock()
}

// RecordRetry records a chunk retried after a transient failure.
func (c *Collector) RecordRetry() {
	atomic.AddUint64(&c.retries, 1)
}

// RecordCleanupFailure records a cleanup job that failed for label.
func (c *Collector) RecordCleanupFailure(label string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.cleanupFail, label), 1)
}

// GetCacheMetrics returns current cache metrics.
func (c *Collector) GetCacheMetrics() *CacheMetrics {
	if c.cache == nil {
		return &CacheMetrics{}
	}

	metrics := c.cache.Metrics()
	if metrics == nil {
		return &CacheMetrics{}
	}

	result := &CacheMetrics{
		Hits:      metrics.Hits,
		Misses:    metrics.Misses,
		HitRate:   metrics.HitRate(),
		Evictions: metrics.KeysEvicted,
	}

	if memCache, ok := c.cache.(*memorycache.Cache); ok {
		result.KeysCurrent = int64(memCache.Len())
		result.MemoryBytes = memCache.Size()
	}

	return result
}

// GetStatementMetrics returns a snapshot of the statement metrics.
func (c *Collector) GetStatementMetrics() *StatementMetrics {
	return &StatementMetrics{
		Counts:               snapshotCounters(&c.statements),
		ErrorCounts:          snapshotCounters(&c.errors),
		TransientErrorCounts: snapshotCounters(&c.transient),
		TotalDurationSeconds: c.snapshotDurations(),
		Retries:              atomic.LoadUint64(&c.retries),
		CleanupFailures:      snapshotCounters(&c.cleanupFail),
	}
}

func snapshotCounters(m *sync.Map) map[string]uint64 {
	out := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		out[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})
	return out
}

func (c *Collector) snapshotDurations() map[string]float64 {
	out := make(map[string]float64)
	c.duration.Range(func(key, value any) bool {
		dv := value.(*durationValue)
		dv.mu.Lock()
		out[key.(string)] = dv.totalSeconds
		dv.mu.Unlock()
		return true
	})
	return out
}

// getOrCreateCounter gets or creates a counter for the given key.
func (c *Collector) getOrCreateCounter(m *sync.Map, key string) *uint64 {
	val, _ := m.LoadOrStore(key, new(uint64))
	return val.(*uint64)
}
