package model

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/logfst/internal/strpool"
)

func newTestModel() *Model {
	return New(strpool.New(false), 0)
}

func TestAddFeatureCreatesAndFindsSameRecord(t *testing.T) {
	m := newTestModel()
	hashes := []uint64{1, 2, 3}

	rec, ok := m.AddFeature(0, hashes, false)
	require.True(t, ok)
	require.NotNil(t, rec)

	again, ok := m.AddFeature(0, hashes, false)
	require.True(t, ok)
	assert.Same(t, rec, again)
}

func TestAddFeatureTagIsTopByte(t *testing.T) {
	m := newTestModel()
	rec, ok := m.AddFeature(5, []uint64{10, 20}, false)
	require.True(t, ok)
	assert.Equal(t, 5, rec.Tag())
	assert.Equal(t, uint64(5), rec.ID>>56)
}

func TestAddFeatureIncrementFrequency(t *testing.T) {
	m := newTestModel()
	hashes := []uint64{7}

	rec, ok := m.AddFeature(1, hashes, true)
	require.True(t, ok)
	assert.EqualValues(t, 1, rec.Frq.Load())

	rec2, ok := m.AddFeature(1, hashes, true)
	require.True(t, ok)
	assert.Same(t, rec, rec2)
	assert.EqualValues(t, 2, rec.Frq.Load())
}

func TestAddFeatureGatedOffOutsideWindow(t *testing.T) {
	m := newTestModel()
	m.SetWindow(3, 5, 10)
	m.SetIter(2) // below start[3]=5

	rec, ok := m.AddFeature(3, []uint64{1}, false)
	assert.False(t, ok)
	assert.Nil(t, rec)
}

func TestAddFeatureAllowedInsideWindow(t *testing.T) {
	m := newTestModel()
	m.SetWindow(3, 5, 10)
	m.SetIter(7)

	rec, ok := m.AddFeature(3, []uint64{1}, false)
	assert.True(t, ok)
	assert.NotNil(t, rec)
}

// TestAddFeatureConcurrentInsertRace mirrors spec.md §8 scenario 6:
// concurrently add_feature the same id from two workers; both return the
// same record.
func TestAddFeatureConcurrentInsertRace(t *testing.T) {
	m := newTestModel()
	hashes := []uint64{99, 100}

	var wg sync.WaitGroup
	results := make([]*FeatureRecord, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, _ := m.AddFeature(0, hashes, true)
			results[i] = rec
		}(i)
	}
	wg.Wait()

	assert.Same(t, results[0], results[1])
	assert.EqualValues(t, 2, results[0].Frq.Load())
}

func TestAddGradientAccumulatesConcurrently(t *testing.T) {
	m := newTestModel()
	rec, ok := m.AddFeature(0, []uint64{1}, false)
	require.True(t, ok)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.AddGradient(0.5)
		}()
	}
	wg.Wait()

	assert.InDelta(t, float64(n)*0.5, rec.Gradient(), 1e-9)
}

func TestRangeVisitsEveryFeature(t *testing.T) {
	m := newTestModel()
	m.AddFeature(0, []uint64{1}, false)
	m.AddFeature(0, []uint64{2}, false)
	m.AddFeature(1, []uint64{3}, false)

	count := 0
	m.Range(func(id uint64, rec *FeatureRecord) bool {
		count++
		return true
	})
	assert.Equal(t, 3, count)
}

func TestShrinkRemovesOnlyZeroWeightFeatures(t *testing.T) {
	m := newTestModel()
	live, _ := m.AddFeature(0, []uint64{1}, false)
	live.X = 0.5
	dead, _ := m.AddFeature(0, []uint64{2}, false)
	dead.X = 0

	m.Shrink()

	_, ok := m.Features.Find(live.ID)
	assert.True(t, ok)
	_, ok = m.Features.Find(dead.ID)
	assert.False(t, ok)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := newTestModel()
	a, _ := m.AddFeature(0, []uint64{1}, false)
	a.X = 1.5
	b, _ := m.AddFeature(2, []uint64{2}, false)
	b.X = -0.25

	dir := t.TempDir()
	path := filepath.Join(dir, "model.txt")
	require.NoError(t, m.Save(path))

	loaded := newTestModel()
	require.NoError(t, loaded.Load(path))

	rec, ok := loaded.Features.Find(a.ID)
	require.True(t, ok)
	assert.InDelta(t, 1.5, rec.X, 1e-12)

	rec, ok = loaded.Features.Find(b.ID)
	require.True(t, ok)
	assert.InDelta(t, -0.25, rec.X, 1e-12)
}

func TestLoadMissingFileReturnsIOError(t *testing.T) {
	m := newTestModel()
	err := m.Load(filepath.Join(t.TempDir(), "does-not-exist.txt"))
	require.Error(t, err)
}

func TestStatsCountsActiveAndTotalPerTag(t *testing.T) {
	m := newTestModel()
	a, _ := m.AddFeature(0, []uint64{1}, false)
	a.X = 1.0
	_, _ = m.AddFeature(0, []uint64{2}, false) // stays zero
	b, _ := m.AddFeature(4, []uint64{3}, false)
	b.X = -2.0

	s := m.Stats()
	assert.EqualValues(t, 1, s.Active[0])
	assert.EqualValues(t, 2, s.Total[0])
	assert.EqualValues(t, 1, s.Active[4])
	assert.EqualValues(t, 1, s.Total[4])
	assert.EqualValues(t, 2, s.ActiveTotal)
	assert.EqualValues(t, 3, s.GrandTotal)
}

func TestReservedDenseRecordsPreinserted(t *testing.T) {
	m := New(strpool.New(false), 4)
	require.Len(t, m.Real, 4)
	for i := 1; i < 4; i++ {
		require.NotNil(t, m.Real[i])
		assert.Equal(t, 128-i, m.Real[i].Tag())
		_, ok := m.Features.Find(m.Real[i].ID)
		assert.True(t, ok)
	}
}

func TestEnableDumpWritesInsertedFeatures(t *testing.T) {
	m := newTestModel()
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.txt")
	require.NoError(t, m.EnableDump(path))

	m.AddFeature(0, []uint64{1, 2}, false)
	require.NoError(t, m.CloseDump())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), " ")
	assert.NotEmpty(t, data)
}

func TestTagStartedRespectsWindowStartOnly(t *testing.T) {
	m := newTestModel()
	m.SetWindow(5, 3, 10)

	m.SetIter(0)
	assert.False(t, m.TagStarted(5))

	m.SetIter(3)
	assert.True(t, m.TagStarted(5))

	// Unlike AddFeature, TagStarted ignores the window's Remove bound.
	m.SetIter(20)
	assert.True(t, m.TagStarted(5))
}

func TestRemovalDueRespectsWindowRemoveBound(t *testing.T) {
	m := newTestModel()
	m.SetWindow(5, 0, 10)

	m.SetIter(9)
	assert.False(t, m.RemovalDue(5))

	m.SetIter(10)
	assert.True(t, m.RemovalDue(5))
}
