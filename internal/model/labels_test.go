package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/logfst/internal/strpool"
)

func TestMapSourceInternsTokensByPipe(t *testing.T) {
	m := newTestModel()
	lbl := m.MapSource("NOUN|sg|nom")
	require.Len(t, lbl.Tokens, 3)
	assert.NotZero(t, lbl.Raw)
}

func TestMapSourceReturnsSameLabelForSameText(t *testing.T) {
	m := newTestModel()
	a := m.MapSource("VERB|past")
	b := m.MapSource("VERB|past")
	assert.Same(t, a, b)
}

func TestMapSourceAndTargetAreIndependentVocabularies(t *testing.T) {
	m := newTestModel()
	src := m.MapSource("X")
	trg := m.MapTarget("X")
	assert.NotSame(t, src, trg)
	assert.Equal(t, src.Raw, trg.Raw) // same text hashes the same either way
}

func TestMapSourceDoesNotRetainStringByDefault(t *testing.T) {
	m := newTestModel() // storeAll = false
	lbl := m.MapSource("UNRETAINED")
	assert.Equal(t, strpool.Unknown, m.Strings.Get(lbl.Raw))
}

func TestMapTargetAlwaysRetainsString(t *testing.T) {
	m := newTestModel() // storeAll = false, but target mapping is always mandatory
	lbl := m.MapTarget("RETAINED")
	assert.Equal(t, "RETAINED", m.Strings.Get(lbl.Raw))
}

func TestMapSourceRetainsStringInStoreAllMode(t *testing.T) {
	m := New(strpool.New(true), 0)
	lbl := m.MapSource("ALSO-RETAINED")
	assert.Equal(t, "ALSO-RETAINED", m.Strings.Get(lbl.Raw))
}

func TestSingleTokenLabelHasOneToken(t *testing.T) {
	m := newTestModel()
	lbl := m.MapSource("PUNCT")
	require.Len(t, lbl.Tokens, 1)
}
