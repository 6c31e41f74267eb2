package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/logfst/internal/arena"
	"github.com/standardbeagle/logfst/internal/fst"
	"github.com/standardbeagle/logfst/internal/model"
	"github.com/standardbeagle/logfst/internal/strpool"
)

func newTestModel() *model.Model {
	return model.New(strpool.New(false), 0)
}

func newTestArena() *arena.FeatureArena {
	return arena.NewFeatureArena(arena.NewFeatureBlockPool())
}

// trivialAcceptor mirrors spec.md §8's "Trivial acceptor" scenario: two
// arcs out of state 0 into state 1, labelled a and b.
func trivialAcceptor(t *testing.T, mdl *model.Model) *fst.FST {
	t.Helper()
	f, err := fst.Parse([]string{
		"0 1 a a",
		"0 1 b b",
		"1",
	}, mdl, 0, "test", 1)
	require.NoError(t, err)
	return f
}

func TestGenerateEmitsUnigramFeaturePerArc(t *testing.T) {
	mdl := newTestModel()
	f := trivialAcceptor(t, mdl)

	g := New(mdl.Strings, false)
	require.NoError(t, g.AddPattern("0s0"))

	g.Generate(mdl, f, newTestArena())

	require.Len(t, f.Arcs[0].Unigram, 1)
	require.Len(t, f.Arcs[1].Unigram, 1)
	assert.NotEqual(t, f.Arcs[0].Unigram[0], f.Arcs[1].Unigram[0])
}

// TestGenerateEqualityFeature mirrors spec.md §8's "Equality feature"
// scenario: pattern 0:0s0=0t0 resolves to "true" when ilbl==olbl and
// "false" otherwise.
func TestGenerateEqualityFeature(t *testing.T) {
	mdl := newTestModel()
	f, err := fst.Parse([]string{
		"0 1 x x",
		"0 1 x y",
		"1",
	}, mdl, 0, "test", 1)
	require.NoError(t, err)

	g := New(mdl.Strings, false)
	require.NoError(t, g.AddPattern("0:0s0=0t0"))

	g.Generate(mdl, f, newTestArena())

	require.Len(t, f.Arcs[0].Unigram, 1)
	require.Len(t, f.Arcs[1].Unigram, 1)

	trueRec, ok := mdl.Features.Find(f.Arcs[0].Unigram[0])
	require.True(t, ok)
	falseRec, ok := mdl.Features.Find(f.Arcs[1].Unigram[0])
	require.True(t, ok)
	assert.NotEqual(t, trueRec.ID, falseRec.ID)
}

// TestGeneratePatternRewriteMatchesDirectPattern mirrors spec.md §8's
// "Pattern rewrite" scenario: a p1-only pattern resolves to the identical
// feature id as the equivalent p0 pattern on the same arc.
func TestGeneratePatternRewriteMatchesDirectPattern(t *testing.T) {
	mdlA := newTestModel()
	fA := trivialAcceptor(t, mdlA)
	gA := New(mdlA.Strings, false)
	require.NoError(t, gA.AddPattern("0s0"))
	gA.Generate(mdlA, fA, newTestArena())

	mdlB := newTestModel()
	fB := trivialAcceptor(t, mdlB)
	gB := New(mdlB.Strings, false)
	require.NoError(t, gB.AddPattern("1s0"))
	gB.Generate(mdlB, fB, newTestArena())

	assert.Equal(t, fA.Arcs[0].Unigram[0], fB.Arcs[0].Unigram[0])
}

func TestGenerateBigramFeaturePerStatePair(t *testing.T) {
	mdl := newTestModel()
	f, err := fst.Parse([]string{
		"0 1 a b",
		"1 2 c d",
		"2",
	}, mdl, 0, "test", 1)
	require.NoError(t, err)

	g := New(mdl.Strings, false)
	require.NoError(t, g.AddPattern("0s0,1s0"))

	g.Generate(mdl, f, newTestArena())

	require.Len(t, f.States, 3)
	require.Len(t, f.States[1].Bigram, 1)    // one incoming arc
	require.Len(t, f.States[1].Bigram[0], 1) // one outgoing arc
	assert.Len(t, f.States[1].Bigram[0][0], 1)
	assert.Empty(t, f.Arcs[0].Unigram)
}

func TestGenerateNoBigramPatternsLeavesStatesBigramNil(t *testing.T) {
	mdl := newTestModel()
	f, err := fst.Parse([]string{
		"0 1 a b",
		"1 2 c d",
		"2",
	}, mdl, 0, "test", 1)
	require.NoError(t, err)

	g := New(mdl.Strings, false)
	require.NoError(t, g.AddPattern("0s0"))
	g.Generate(mdl, f, newTestArena())

	for _, s := range f.States {
		assert.Nil(t, s.Bigram)
	}
}

func TestGenerateFrequencyCountedOnHypothesisSideByDefault(t *testing.T) {
	mdl := newTestModel()
	f := trivialAcceptor(t, mdl)
	f.Mult = 1.0

	g := New(mdl.Strings, false) // onRef=false: count on hypothesis (mult>0) side
	require.NoError(t, g.AddPattern("0s0"))
	g.Generate(mdl, f, newTestArena())

	rec, ok := mdl.Features.Find(f.Arcs[0].Unigram[0])
	require.True(t, ok)
	assert.EqualValues(t, 1, rec.Frq.Load())
}

func TestGenerateFrequencyNotCountedOnReferenceSideByDefault(t *testing.T) {
	mdl := newTestModel()
	f := trivialAcceptor(t, mdl)
	f.Mult = -1.0

	g := New(mdl.Strings, false)
	require.NoError(t, g.AddPattern("0s0"))
	g.Generate(mdl, f, newTestArena())

	rec, ok := mdl.Features.Find(f.Arcs[0].Unigram[0])
	require.True(t, ok)
	assert.EqualValues(t, 0, rec.Frq.Load())
}

func TestGeneratePopulatesArenaLiveIDs(t *testing.T) {
	mdl := newTestModel()
	f := trivialAcceptor(t, mdl)
	g := New(mdl.Strings, false)
	require.NoError(t, g.AddPattern("0s0"))

	ar := newTestArena()
	g.Generate(mdl, f, ar)
	assert.EqualValues(t, 2, ar.LiveIDs()) // one slot per arc, one pattern each
}
