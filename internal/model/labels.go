package model

import (
	"strings"

	"github.com/standardbeagle/logfst/internal/lockfree"
	"github.com/standardbeagle/logfst/internal/strpool"
	"github.com/standardbeagle/logfst/internal/xhash"
)

// Label is an input or output arc symbol: the hash of its full textual
// form plus the hashes of its `|`-separated tokens, enabling patterns
// that reference individual tokens (spec.md §3, original_source lbl_t).
type Label struct {
	Raw    uint64
	Tokens []uint64
}

// Token returns the hash of the i-th `|`-separated token of this label.
func (l *Label) Token(i int) uint64 {
	return l.Tokens[i]
}

func newLabel(pool *strpool.Pool, text string, mandatory bool) *Label {
	raw := pool.InternString(text, mandatory)
	parts := strings.Split(text, "|")
	toks := make([]uint64, len(parts))
	for i, part := range parts {
		toks[i] = pool.InternString(part, mandatory)
	}
	return &Label{Raw: raw, Tokens: toks}
}

// LabelVocabulary interns label strings into a lock-free map keyed by the
// hash of the full label text, so arcs sharing the same symbol share a
// single Label (original_source mdl_maplbl).
type LabelVocabulary struct {
	labels *lockfree.Map[*Label]
}

func newLabelVocabulary() *LabelVocabulary {
	return &LabelVocabulary{labels: lockfree.NewMap[*Label]()}
}

// Map interns text in this vocabulary, creating a new Label only if one
// is not already present. mandatory controls whether the string pool
// retains the label's (and its tokens') source text for diagnostic
// output, independent of the vocabulary's own lifetime.
func (v *LabelVocabulary) Map(pool *strpool.Pool, text string, mandatory bool) *Label {
	hash := xhash.String(text)
	if lbl, ok := v.labels.Find(hash); ok {
		return lbl
	}
	tmp := newLabel(pool, text, mandatory)
	actual, _ := v.labels.Insert(hash, tmp)
	return actual
}

// Len returns the number of distinct labels interned so far.
func (v *LabelVocabulary) Len() int {
	return v.labels.Len()
}

// MapSource interns text in the model's source-label vocabulary. Matches
// original_source mdl_mapsrc, which passes mandatory=0: source labels are
// only retained in the string pool when the pool itself is in store-all
// mode.
func (m *Model) MapSource(text string) *Label {
	return m.Source.Map(m.Strings, text, false)
}

// MapTarget interns text in the model's target-label vocabulary. Matches
// original_source mdl_maptrg, which passes mandatory=1: target labels are
// always retained in the string pool, regardless of store-all mode,
// since decode output needs to print them back out.
func (m *Model) MapTarget(text string) *Label {
	return m.Target.Map(m.Strings, text, true)
}
