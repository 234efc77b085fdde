package readmodel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fotocopias/backend/internal/cache"
)

type stockRow struct {
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

type fakeCatalog struct {
	mu    sync.Mutex
	stock int
	calls atomic.Int32
}

func (f *fakeCatalog) load(_ context.Context, filter string) ([]stockRow, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return []stockRow{{Name: "Resma A4 " + filter, Stock: f.stock}}, nil
}

func (f *fakeCatalog) set(stock int) {
	f.mu.Lock()
	f.stock = stock
	f.mu.Unlock()
}

type countingRecorder struct {
	hits, misses atomic.Int32
}

func (r *countingRecorder) CacheLookup(_ string, hit bool) {
	if hit {
		r.hits.Add(1)
		return
	}
	r.misses.Add(1)
}

func TestFetchCachesPerFilter(t *testing.T) {
	ctx := context.Background()
	catalog := &fakeCatalog{stock: 50}
	rec := &countingRecorder{}
	q := New[[]stockRow]("catalog", cache.NewMemory(), time.Minute, catalog.load, WithRecorder(rec))

	first, err := q.Fetch(ctx, "500h")
	require.NoError(t, err)
	second, err := q.Fetch(ctx, "500h")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), catalog.calls.Load())

	_, err = q.Fetch(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, int32(2), catalog.calls.Load())
	assert.Equal(t, int32(1), rec.hits.Load())
	assert.Equal(t, int32(2), rec.misses.Load())
}

func TestInvalidateMakesNextFetchSeeNewStock(t *testing.T) {
	ctx := context.Background()
	catalog := &fakeCatalog{stock: 50}
	q := New[[]stockRow]("catalog", cache.NewMemory(), time.Minute, catalog.load)

	rows, err := q.Fetch(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 50, rows[0].Stock)

	catalog.set(47)
	rows, err = q.Fetch(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 50, rows[0].Stock, "cached value until invalidated")

	require.NoError(t, q.Invalidate(ctx))
	rows, err = q.Fetch(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 47, rows[0].Stock)
}

func TestConcurrentMissesShareOneLoad(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	var calls atomic.Int32
	load := func(_ context.Context, _ string) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}
	q := New[int]("sales", cache.Noop{}, time.Minute, load)

	const readers = 8
	var wg sync.WaitGroup
	results := make(chan int, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := q.Fetch(ctx, "50")
			if err == nil {
				results <- v
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	count := 0
	for v := range results {
		assert.Equal(t, 7, v)
		count++
	}
	assert.Equal(t, readers, count)
	assert.Less(t, calls.Load(), int32(readers))
}

func TestCancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	loadErr := make(chan error, 1)
	var calls atomic.Int32
	load := func(ctx context.Context, _ string) (int, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		loadErr <- ctx.Err()
		return 7, nil
	}
	q := New[int]("catalog", cache.Noop{}, time.Minute, load)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := q.Fetch(firstCtx, "resma")
		firstDone <- err
	}()
	<-started

	secondDone := make(chan int, 1)
	go func() {
		v, err := q.Fetch(context.Background(), "resma")
		if err != nil {
			v = -1
		}
		secondDone <- v
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstDone, context.Canceled)

	close(release)
	assert.Equal(t, 7, <-secondDone)
	assert.NoError(t, <-loadErr)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoadErrorIsReturnedAndNotCached(t *testing.T) {
	ctx := context.Background()
	fail := true
	load := func(_ context.Context, _ string) (string, error) {
		if fail {
			return "", errors.New("store offline")
		}
		return "ok", nil
	}
	q := New[string]("clients", cache.NewMemory(), time.Minute, load)

	_, err := q.Fetch(ctx, "")
	require.EqualError(t, err, "store offline")

	fail = false
	v, err := q.Fetch(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestRedisInvalidationIsSharedAcrossTerminals(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	newStore := func() cache.Store {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return cache.NewRedisFromClient(client)
	}

	catalog := &fakeCatalog{stock: 24}
	terminalA := New[[]stockRow]("catalog", newStore(), time.Minute, catalog.load)
	terminalB := New[[]stockRow]("catalog", newStore(), time.Minute, catalog.load)

	_, err := terminalA.Fetch(ctx, "")
	require.NoError(t, err)
	rows, err := terminalB.Fetch(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 24, rows[0].Stock)
	assert.Equal(t, int32(1), catalog.calls.Load(), "terminal B reads the entry terminal A cached")

	catalog.set(20)
	require.NoError(t, terminalA.Invalidate(ctx))

	rows, err = terminalB.Fetch(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 20, rows[0].Stock)
}

func TestCacheOutageFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	catalog := &fakeCatalog{stock: 5}
	q := New[[]stockRow]("catalog", cache.NewRedisFromClient(client), time.Minute, catalog.load)

	_, err := q.Fetch(ctx, "")
	require.NoError(t, err)

	mr.SetError("LOADING")
	catalog.set(4)
	assert.Error(t, q.Invalidate(ctx))

	rows, err := q.Fetch(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 4, rows[0].Stock)

	mr.SetError("")
	rows, err = q.Fetch(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 4, rows[0].Stock)
}
