package collection

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeMapSwap(t *testing.T) {
	m := NewSafeMap()
	old, ok := m.Swap("c1", 1)
	require.False(t, ok)
	require.Nil(t, old)

	old, ok = m.Swap("c1", 2)
	require.True(t, ok)
	require.Equal(t, 1, old)

	v, _ := m.Get("c1")
	require.Equal(t, 2, v)
}

func TestSafeMapCompareAndDel(t *testing.T) {
	m := NewSafeMap()
	m.Set("c1", "new")
	require.False(t, m.CompareAndDel("c1", "old"))
	require.True(t, m.ContainsKey("c1"))
	require.True(t, m.CompareAndDel("c1", "new"))
	require.False(t, m.ContainsKey("c1"))
}

func TestSafeMapGetOrSet(t *testing.T) {
	m := NewSafeMap()
	v, exist := m.GetOrSet("k", 1)
	require.False(t, exist)
	require.Equal(t, 1, v)
	v, exist = m.GetOrSet("k", 2)
	require.True(t, exist)
	require.Equal(t, 1, v)
}

func TestSafeMapDeletionCompaction(t *testing.T) {
	m := NewSafeMap()
	for i := 0; i < maxDeletion+copyThreshold; i++ {
		m.Set(i, i)
	}
	for i := 0; i < maxDeletion+copyThreshold-1; i++ {
		m.Del(i)
	}
	require.Equal(t, 1, m.Size())
	require.Len(t, m.Values(), 1)
	v, ok := m.Get(maxDeletion + copyThreshold - 1)
	require.True(t, ok)
	require.Equal(t, maxDeletion+copyThreshold-1, v)
}
