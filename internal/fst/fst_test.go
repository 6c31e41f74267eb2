package fst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/logfst/internal/model"
	"github.com/standardbeagle/logfst/internal/strpool"
)

func newTestModel() *model.Model {
	return model.New(strpool.New(false), 0)
}

// trivialAcceptor mirrors spec.md §8's "Trivial acceptor" scenario: a
// single arc from state 0 straight to the final state.
func trivialAcceptor(t *testing.T) *FST {
	t.Helper()
	mdl := newTestModel()
	f, err := Parse([]string{
		"0 1 a a",
		"1",
	}, mdl, 0, "test", 1)
	require.NoError(t, err)
	return f
}

func TestParseTrivialAcceptor(t *testing.T) {
	f := trivialAcceptor(t)
	assert.Equal(t, 2, f.NStates)
	assert.Equal(t, 1, f.Final)
	require.Len(t, f.Arcs, 1)
	assert.Equal(t, 0, f.Arcs[0].Src)
	assert.Equal(t, 1, f.Arcs[0].Trg)
}

func TestParseSkipsCommentsAndBlankLines(t *testing.T) {
	mdl := newTestModel()
	f, err := Parse([]string{
		"# a comment",
		"",
		"0 1 a b",
		"1",
	}, mdl, 0, "test", 1)
	require.NoError(t, err)
	require.Len(t, f.Arcs, 1)
}

func TestParseRejectsThreeFieldLine(t *testing.T) {
	mdl := newTestModel()
	_, err := Parse([]string{"0 1 a", "1"}, mdl, 0, "test", 1)
	require.Error(t, err)
}

func TestParseRejectsDuplicateFinalLine(t *testing.T) {
	mdl := newTestModel()
	_, err := Parse([]string{"0 1 a b", "1", "2"}, mdl, 0, "test", 1)
	require.Error(t, err)
}

func TestParseRejectsMissingFinalLine(t *testing.T) {
	mdl := newTestModel()
	_, err := Parse([]string{"0 1 a b"}, mdl, 0, "test", 1)
	require.Error(t, err)
}

func TestParseReadsDenseWeights(t *testing.T) {
	mdl := newTestModel()
	f, err := Parse([]string{
		"0 1 a b 1.5 2.5",
		"1",
	}, mdl, 2, "test", 1)
	require.NoError(t, err)
	require.Len(t, f.Arcs[0].Weights, 2)
	assert.InDelta(t, 1.5, f.Arcs[0].Weights[0], 1e-12)
	assert.InDelta(t, 2.5, f.Arcs[0].Weights[1], 1e-12)
}

func TestAddStatesBuildsAdjacency(t *testing.T) {
	mdl := newTestModel()
	f, err := Parse([]string{
		"0 1 a b",
		"1 2 c d",
		"2",
	}, mdl, 0, "test", 1)
	require.NoError(t, err)

	f.AddStates()
	require.Len(t, f.States, 3)
	assert.Equal(t, []int{0}, f.States[0].Out)
	assert.Equal(t, []int{0}, f.States[1].In)
	assert.Equal(t, []int{1}, f.States[1].Out)
	assert.Equal(t, []int{1}, f.States[2].In)
}

// TestAddSortLinearChain mirrors a simple DAG: a straight chain of states,
// where s2t must visit arcs in source order and t2s in reverse.
func TestAddSortLinearChain(t *testing.T) {
	mdl := newTestModel()
	f, err := Parse([]string{
		"0 1 a b",
		"1 2 c d",
		"2 3 e f",
		"3",
	}, mdl, 0, "test", 1)
	require.NoError(t, err)

	require.NoError(t, f.AddSort())
	assert.Equal(t, []int{0, 1, 2}, f.S2T)
	assert.Equal(t, []int{2, 1, 0}, f.T2S)
}

// TestAddSortDiamond mirrors a DAG with two parallel paths merging, the
// shape a gradient's forward-backward over a lattice actually exercises.
func TestAddSortDiamond(t *testing.T) {
	mdl := newTestModel()
	f, err := Parse([]string{
		"0 1 a b",
		"0 2 a b",
		"1 3 c d",
		"2 3 c d",
		"3",
	}, mdl, 0, "test", 1)
	require.NoError(t, err)

	require.NoError(t, f.AddSort())
	require.Len(t, f.S2T, 4)
	require.Len(t, f.T2S, 4)

	// Every arc out of state 0 precedes every arc into state 3 in s2t.
	pos := map[int]int{}
	for i, a := range f.S2T {
		pos[a] = i
	}
	assert.Less(t, pos[0], pos[2]) // arc 0->1 precedes arc 1->3
	assert.Less(t, pos[1], pos[3]) // arc 0->2 precedes arc 2->3
}

// TestAddSortDetectsCycle mirrors spec.md's acyclicity invariant: a
// two-state cycle is never a valid training FST.
func TestAddSortDetectsCycle(t *testing.T) {
	mdl := newTestModel()
	f, err := Parse([]string{
		"0 1 a b",
		"1 0 c d",
		"1",
	}, mdl, 0, "test", 1)
	require.NoError(t, err)

	err = f.AddSort()
	require.Error(t, err)
}

func TestAddSortIsIdempotent(t *testing.T) {
	f := trivialAcceptor(t)
	require.NoError(t, f.AddSort())
	first := f.S2T
	require.NoError(t, f.AddSort())
	assert.Equal(t, first, f.S2T)
}

func TestRemoveStatesAndSortClearCaches(t *testing.T) {
	f := trivialAcceptor(t)
	require.NoError(t, f.AddSort())
	require.NotNil(t, f.States)
	require.NotNil(t, f.S2T)

	f.RemoveSort()
	assert.Nil(t, f.S2T)
	assert.Nil(t, f.T2S)

	f.RemoveStates()
	assert.Nil(t, f.States)
}
