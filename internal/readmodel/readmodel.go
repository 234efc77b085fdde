package readmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"fotocopias/backend/internal/cache"
)

// sharedLoadTimeout bounds a load that no caller can cancel.
const sharedLoadTimeout = 30 * time.Second

// Loader reads the authoritative value for a filter from the store.
type Loader[T any] func(ctx context.Context, filter string) (T, error)

// Recorder observes cache lookups.
type Recorder interface {
	CacheLookup(namespace string, hit bool)
}

type Option func(*options)

type options struct {
	logger   *slog.Logger
	recorder Recorder
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(o *options) {
		o.recorder = recorder
	}
}

// Query is a cached, filter-keyed view over the store. Entries live under the
// namespace generation current when they were written, so Invalidate makes
// every older entry unreachable at once.
type Query[T any] struct {
	namespace string
	cache     cache.Store
	ttl       time.Duration
	load      Loader[T]
	group     singleflight.Group
	logger    *slog.Logger
	recorder  Recorder
	// pending is set when a generation bump could not reach the cache; reads
	// go to the store until a later bump succeeds.
	pending atomic.Bool
}

func New[T any](namespace string, store cache.Store, ttl time.Duration, load Loader[T], opts ...Option) *Query[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if store == nil {
		store = cache.Noop{}
	}
	return &Query[T]{
		namespace: namespace,
		cache:     store,
		ttl:       ttl,
		load:      load,
		logger:    o.logger,
		recorder:  o.recorder,
	}
}

func (q *Query[T]) Namespace() string {
	return q.namespace
}

// Fetch returns the cached value for filter, loading it on a miss. Concurrent
// misses for the same key share one load.
func (q *Query[T]) Fetch(ctx context.Context, filter string) (T, error) {
	if q.pending.Load() {
		if err := q.bump(ctx); err != nil {
			return q.load(ctx, filter)
		}
	}

	gen, err := q.cache.Generation(ctx, q.namespace)
	if err != nil {
		q.logger.WarnContext(ctx, "read model generation lookup failed", "namespace", q.namespace, "error", err)
		return q.load(ctx, filter)
	}
	key := fmt.Sprintf("%s:%d:%s", q.namespace, gen, filter)

	if value, ok := q.cached(ctx, key); ok {
		q.record(true)
		return value, nil
	}
	q.record(false)

	// The shared load outlives any single caller; each caller still stops
	// waiting when its own context ends.
	resultChan := q.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()
		value, err := q.load(loadCtx, filter)
		if err != nil {
			return nil, err
		}
		q.store(loadCtx, key, value)
		return value, nil
	})
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// Invalidate forces the next Fetch of every filter to bypass the cache.
func (q *Query[T]) Invalidate(ctx context.Context) error {
	if err := q.bump(ctx); err != nil {
		q.pending.Store(true)
		return fmt.Errorf("invalidate %s: %w", q.namespace, err)
	}
	return nil
}

func (q *Query[T]) bump(ctx context.Context) error {
	if _, err := q.cache.Bump(ctx, q.namespace); err != nil {
		return err
	}
	q.pending.Store(false)
	return nil
}

func (q *Query[T]) cached(ctx context.Context, key string) (T, bool) {
	var value T
	raw, ok, err := q.cache.Get(ctx, key)
	if err != nil {
		q.logger.WarnContext(ctx, "read model cache get failed", "namespace", q.namespace, "error", err)
		return value, false
	}
	if !ok {
		return value, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		q.logger.WarnContext(ctx, "read model cache entry unreadable", "namespace", q.namespace, "error", err)
		return value, false
	}
	return value, true
}

func (q *Query[T]) store(ctx context.Context, key string, value T) {
	payload, err := json.Marshal(value)
	if err != nil {
		q.logger.WarnContext(ctx, "read model encode failed", "namespace", q.namespace, "error", err)
		return
	}
	if err := q.cache.Set(ctx, key, payload, q.ttl); err != nil {
		q.logger.WarnContext(ctx, "read model cache set failed", "namespace", q.namespace, "error", err)
	}
}

func (q *Query[T]) record(hit bool) {
	if q.recorder != nil {
		q.recorder.CacheLookup(q.namespace, hit)
	}
}
