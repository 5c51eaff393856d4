package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgredis "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/redis"
)

func TestLocalBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(8, time.Minute)

	_, err := b.Get(ctx, "search:missing")
	assert.True(t, pkgredis.IsNilError(err))

	require.NoError(t, b.Set(ctx, "search:a", []byte(`{"chunks":1}`), 0))
	require.NoError(t, b.Set(ctx, "other:b", "x", 0))
	got, err := b.Get(ctx, "search:a")
	require.NoError(t, err)
	assert.Equal(t, `{"chunks":1}`, got)

	assert.Error(t, b.Set(ctx, "search:c", 42, 0))

	n, err := b.FlushByPattern(ctx, "search:*")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 1, b.Len())
}

func TestLocalBackendEvictsOldest(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(2, time.Minute)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, b.Set(ctx, k, k, 0))
	}
	_, err := b.Get(ctx, "a")
	assert.True(t, pkgredis.IsNilError(err))
	assert.Equal(t, 2, b.Len())
}

func TestQueryCacheOverLocalBackend(t *testing.T) {
	ctx := context.Background()
	c := New(NewLocalBackend(16, time.Minute), Config{TTL: time.Minute, Model: "m", Epoch: 1}, nil)

	c.Set(ctx, "read file", 5, sampleEntry())
	got, ok := c.Get(ctx, "Read FILE", 5)
	require.True(t, ok)
	assert.Equal(t, sampleEntry(), got)
}
