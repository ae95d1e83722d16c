package storage

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loader(v string) func() (string, bool, error) {
	return func() (string, bool, error) { return v, true, nil }
}

func TestActiveLRUCache_EvictsInactiveFirst(t *testing.T) {
	c, err := NewActiveLRUCache[string](2)
	require.NoError(t, err)

	c.Add([]byte("K1"), "one")
	c.Add([]byte("K2"), "two")

	c.NewCycle()
	v, ok, err := c.Get([]byte("K1"), loader("reloaded"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", v)

	c.Add([]byte("K3"), "three")

	assert.True(t, c.Contains([]byte("K1")))
	assert.False(t, c.Contains([]byte("K2")))
	assert.True(t, c.Contains([]byte("K3")))
	assert.Equal(t, 2, c.Len())
}

func TestActiveLRUCache_FallsBackToLRU(t *testing.T) {
	c, err := NewActiveLRUCache[string](2)
	require.NoError(t, err)

	// All entries were accessed in this cycle, so the oldest goes.
	c.Add([]byte("K1"), "one")
	c.Add([]byte("K2"), "two")
	c.Add([]byte("K3"), "three")

	assert.False(t, c.Contains([]byte("K1")))
	assert.True(t, c.Contains([]byte("K2")))
	assert.True(t, c.Contains([]byte("K3")))
}

func TestActiveLRUCache_Get(t *testing.T) {
	hits := prometheus.NewCounter(prometheus.CounterOpts{Name: "hits"})
	misses := prometheus.NewCounter(prometheus.CounterOpts{Name: "misses"})
	c, err := NewActiveLRUCache[string](4, WithCacheCounters(hits, misses))
	require.NoError(t, err)

	v, ok, err := c.Get([]byte("K1"), loader("one"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	v, ok, err = c.Get([]byte("K1"), loader("other"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	_, ok, err = c.Get([]byte("K2"), func() (string, bool, error) { return "", false, nil })
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, c.Contains([]byte("K2")), "misses are not cached")

	boom := errors.New("boom")
	_, _, err = c.Get([]byte("K3"), func() (string, bool, error) { return "", false, boom })
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(hits))
	assert.Equal(t, 3.0, testutil.ToFloat64(misses))

	c.Drop()
	assert.Zero(t, c.Len())
}

func TestActiveLRUCache_InvalidSize(t *testing.T) {
	_, err := NewActiveLRUCache[string](-1)
	assert.Error(t, err)
}
