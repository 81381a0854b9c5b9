package expirable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMapGetWithinTTL(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	m := New[string, int](clock)

	m.Insert("a", 1, 3*time.Second)

	now = now.Add(1 * time.Millisecond)
	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestMapExpiryBoundary(t *testing.T) {
	// Healthcheck reply arriving one millisecond before expires_at is
	// accepted; one millisecond after is rejected (spec.md §8).
	base := time.Now()
	now := base
	clock := func() time.Time { return now }
	m := New[string, bool](clock)

	m.Insert("peer", true, 3*time.Second)

	now = base.Add(3*time.Second - time.Millisecond)
	_, ok := m.Get("peer")
	require.True(t, ok, "one ms before expiry must be accepted")

	now = base.Add(3*time.Second + time.Millisecond)
	_, ok = m.Get("peer")
	require.False(t, ok, "one ms after expiry must be rejected")
}

func TestMapSweepOnInsert(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	m := New[string, int](clock)

	m.Insert("stale", 1, time.Second)
	now = now.Add(2 * time.Second)
	m.Insert("fresh", 2, time.Second)

	require.Equal(t, 1, m.Len())
	_, ok := m.Get("stale")
	require.False(t, ok)
}

func TestMapDeleteAndLen(t *testing.T) {
	m := New[string, int](nil)
	m.Insert("a", 1, time.Minute)
	m.Insert("b", 2, time.Minute)
	require.Equal(t, 2, m.Len())
	m.Delete("a")
	require.Equal(t, 1, m.Len())
	_, ok := m.Get("a")
	require.False(t, ok)
}
