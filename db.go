package entitygraph

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nkoval/entitygraph/internal/engine"
)

// engineTx and engineTree are local aliases for the internal engine
// types so the rest of this package can refer to them without every
// file importing the engine package by name.
type engineTx = engine.Tx
type engineTree = engine.Tree

// Db is the top-level handle on an entitygraph store: the engine
// (bbolt-backed ordered trees), plus the observability and
// coordination hooks every operation runs through.
type Db struct {
	engine  *engine.Engine
	logger  Logger
	metrics Metrics
	lock    *DistributedLock // nil unless WithDistributedLock is set
	stripes *StripedLocks
}

// Option configures a Db at construction time.
type Option func(*Db)

// WithLogger overrides the default no-op Logger.
func WithLogger(l Logger) Option {
	return func(db *Db) { db.logger = l }
}

// WithMetrics overrides the default no-op Metrics.
func WithMetrics(m Metrics) Option {
	return func(db *Db) { db.metrics = m }
}

// WithDistributedLock enables cross-process coordination of Delete
// (its Plan and Apply steps) via a Redis-backed lock. Without this
// option, Delete is serialised per key only within a single process,
// by the in-process striped lock; a second process opening the same
// file would need its own coordination, which is what this option
// provides. Other operations do not take this lock.
func WithDistributedLock(l *DistributedLock) Option {
	return func(db *Db) { db.lock = l }
}

// Open opens (creating if necessary) the entitygraph database at path.
func Open(path string, opts ...Option) (*Db, error) {
	eng, err := engine.Open(path)
	if err != nil {
		return nil, err
	}
	db := &Db{
		engine:  eng,
		logger:  &NoOpLogger{},
		metrics: &NoOpMetrics{},
		stripes: NewStripedLocks(32),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// Close releases the underlying database file.
func (db *Db) Close() error {
	return db.engine.Close()
}

// withCompositeLock runs fn while holding an exclusive lock on key. A
// composite operation like Delete spans more than one bbolt
// transaction (Plan reads, Apply writes), so bbolt's own per-transaction
// serialisation isn't enough to keep two callers working the same key
// from interleaving even within a single process; the in-process striped
// lock closes that window unconditionally. The distributed lock, when
// configured via WithDistributedLock, additionally closes it across
// processes sharing the same database file.
func (db *Db) withCompositeLock(ctx context.Context, key string, fn func() error) error {
	unstripe := db.stripes.Lock(key)
	defer unstripe()

	if db.lock == nil {
		return fn()
	}
	start := Now()
	unlock, err := db.lock.Lock(ctx, key)
	db.metrics.Timing(MetricLockDuration, time.Since(start))
	if err != nil {
		db.metrics.Increment(MetricLockFailed)
		return err
	}
	db.metrics.Increment(MetricLockAcquired)
	defer unlock()
	return fn()
}

func marshalJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, WithContext(ErrSerialisation, map[string]interface{}{"error": err.Error()})
	}
	return data, nil
}

func unmarshalJSON(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return WithContext(ErrSerialisation, map[string]interface{}{"error": err.Error()})
	}
	return nil
}
