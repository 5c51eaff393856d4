package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/searcher/ranker"
)

type memoryBackend struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: make(map[string]string)}
}

func (m *memoryBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryBackend) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = string(value.([]byte))
	return nil
}

func (m *memoryBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func sampleEntry() *Entry {
	return &Entry{Results: []ranker.Candidate{{Chunk: 1, Row: 2, Score: 0.9, Code: "int x;"}}, Chunks: 3}
}

func TestGetOrComputeCaches(t *testing.T) {
	c := New(newMemoryBackend(), Config{TTL: time.Minute, Model: "m", Epoch: 1}, nil)
	calls := 0
	compute := func() (*Entry, error) {
		calls++
		return sampleEntry(), nil
	}

	got, hit, err := c.GetOrCompute(context.Background(), "read file", 10, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, sampleEntry(), got)

	got, hit, err = c.GetOrCompute(context.Background(), "  Read FILE!", 10, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, sampleEntry(), got)
	assert.Equal(t, 1, calls)

	hits, misses := c.Stats()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 1, misses)
}

func TestKeyScoping(t *testing.T) {
	a := New(newMemoryBackend(), Config{Model: "m", Epoch: 1}, nil)
	b := New(newMemoryBackend(), Config{Model: "m", Epoch: 2}, nil)

	assert.Equal(t, a.Key("read file", 5), a.Key("READ, file", 5))
	assert.NotEqual(t, a.Key("read file", 5), a.Key("read file", 6))
	assert.NotEqual(t, a.Key("read file", 5), a.Key("file read", 5))
	assert.NotEqual(t, a.Key("read file", 5), b.Key("read file", 5))
	// Words outside every vocabulary still produce distinct keys.
	assert.NotEqual(t, a.Key("qwxz", 5), a.Key("zzyq", 5))
}

// cancelAwareBackend refuses writes on a cancelled context, as Redis does.
type cancelAwareBackend struct{ *memoryBackend }

func (b cancelAwareBackend) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.memoryBackend.Set(ctx, key, value, ttl)
}

func TestGetOrComputeStoresAfterCallerCancels(t *testing.T) {
	c := New(cancelAwareBackend{newMemoryBackend()}, Config{TTL: time.Minute, Model: "m"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	compute := func() (*Entry, error) {
		cancel()
		return sampleEntry(), nil
	}

	_, hit, err := c.GetOrCompute(ctx, "read file", 10, compute)
	require.NoError(t, err)
	assert.False(t, hit)

	_, ok := c.Get(context.Background(), "read file", 10)
	assert.True(t, ok)
}

func TestBackendFailureDegradesToMiss(t *testing.T) {
	backend := newMemoryBackend()
	backend.err = errors.New("connection refused")
	c := New(backend, Config{}, nil)

	got, hit, err := c.GetOrCompute(context.Background(), "q", 1, func() (*Entry, error) {
		return sampleEntry(), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, sampleEntry(), got)
}

func TestComputeErrorIsReturned(t *testing.T) {
	c := New(newMemoryBackend(), Config{}, nil)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), "q", 1, func() (*Entry, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

func TestConcurrentMissesShareComputation(t *testing.T) {
	c := New(newMemoryBackend(), Config{}, nil)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), "q", 1, func() (*Entry, error) {
				calls.Add(1)
				<-release
				return sampleEntry(), nil
			})
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvalidate(t *testing.T) {
	backend := newMemoryBackend()
	c := New(backend, Config{}, nil)
	c.Set(context.Background(), "a", 1, sampleEntry())
	c.Set(context.Background(), "b", 1, sampleEntry())
	backend.data["other:key"] = "x"

	n, err := c.Invalidate(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Contains(t, backend.data, "other:key")
}
