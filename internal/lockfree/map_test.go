package lockfree

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapInsertFindRemove(t *testing.T) {
	m := NewMap[string]()

	actual, inserted := m.Insert(42, "answer")
	assert.True(t, inserted)
	assert.Equal(t, "answer", actual)
	assert.Equal(t, 1, m.Len())

	v, ok := m.Find(42)
	require.True(t, ok)
	assert.Equal(t, "answer", v)

	v, ok = m.Remove(42)
	require.True(t, ok)
	assert.Equal(t, "answer", v)
	assert.Equal(t, 0, m.Len())

	_, ok = m.Find(42)
	assert.False(t, ok)
}

func TestMapInsertDuplicateReturnsSameRecord(t *testing.T) {
	m := NewMap[int]()

	a, inserted := m.Insert(7, 1)
	assert.True(t, inserted)
	b, inserted := m.Insert(7, 2)
	assert.False(t, inserted)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, m.Len())
}

// TestMapConcurrentInsertRace mirrors spec.md §8 scenario 6: two threads
// concurrently add_feature the same id; both return the same record, and
// the map size increases by exactly 1.
func TestMapConcurrentInsertRace(t *testing.T) {
	m := NewMap[int]()

	var wg sync.WaitGroup
	results := make([]int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _ := m.Insert(123, i+1)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, results[0], results[1])
	assert.Equal(t, 1, m.Len())
}

// TestMapSplitOrderSoundness mirrors spec.md §8's "Split-order soundness":
// after inserting K random 63-bit keys into an initially empty map,
// iterating yields exactly K user keys, each once.
func TestMapSplitOrderSoundness(t *testing.T) {
	m := NewMap[int]()
	rnd := rand.New(rand.NewSource(1))

	const k = 5000
	want := make(map[uint64]int, k)
	for len(want) < k {
		h := uint64(rnd.Int63()) // 63-bit: rand.Int63 never sets the top bit
		if _, exists := want[h]; exists {
			continue
		}
		want[h] = len(want)
		m.Insert(h, want[h])
	}

	seen := make(map[uint64]bool, k)
	m.Range(func(hash uint64, val int) bool {
		assert.False(t, seen[hash], "hash %d observed twice", hash)
		seen[hash] = true
		assert.Equal(t, want[hash], val)
		return true
	})

	assert.Len(t, seen, k)
	assert.Equal(t, k, m.Len())
}

func TestMapGrowsAndStillFindsEverything(t *testing.T) {
	m := NewMap[int]()
	const n = 2000
	for i := 0; i < n; i++ {
		m.Insert(uint64(i*2+1), i)
	}
	for i := 0; i < n; i++ {
		v, ok := m.Find(uint64(i*2 + 1))
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestMapConcurrentMixedOpsLinearizability(t *testing.T) {
	m := NewMap[int]()
	const n = 500

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Insert(uint64(i+1), i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, m.Len())

	var wg2 sync.WaitGroup
	for i := 0; i < n; i += 2 {
		wg2.Add(1)
		go func(i int) {
			defer wg2.Done()
			m.Remove(uint64(i + 1))
		}(i)
	}
	wg2.Wait()

	assert.Equal(t, n/2, m.Len())
	for i := 1; i < n; i += 2 {
		_, ok := m.Find(uint64(i + 1))
		assert.True(t, ok)
	}
	for i := 0; i < n; i += 2 {
		_, ok := m.Find(uint64(i + 1))
		assert.False(t, ok)
	}
}
