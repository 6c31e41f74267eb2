package features

import (
	"github.com/standardbeagle/logfst/internal/arena"
	"github.com/standardbeagle/logfst/internal/debug"
	"github.com/standardbeagle/logfst/internal/fst"
	"github.com/standardbeagle/logfst/internal/model"
	"github.com/standardbeagle/logfst/internal/strpool"
)

// Generator compiles patterns and emits per-arc/per-state-pair feature
// lists against a model's feature table (original_source gen_t).
type Generator struct {
	strings *strpool.Pool

	unigram []*pattern
	bigram  []*pattern

	hashTrue  uint64
	hashFalse uint64

	// onRef selects which side of a training pair (hypothesis or
	// reference) contributes to feature frequency counts (spec.md
	// §4.6 "Frequency counting mode").
	onRef bool
}

// New creates a feature generator over pool, interning the two constant
// equality-predicate hashes "true"/"false" (original_source gen_new).
// onRef mirrors the --ref-freq flag: when set, frequency is counted on
// reference (negative-multiplier) FSTs rather than hypothesis ones.
func New(pool *strpool.Pool, onRef bool) *Generator {
	return &Generator{
		strings:   pool,
		hashTrue:  pool.InternString("true", false),
		hashFalse: pool.InternString("false", false),
		onRef:     onRef,
	}
}

// AddPattern compiles and registers a pattern string, sorting it into the
// generator's unigram or bigram list per spec.md §4.6 (original_source
// gen_addpat).
func (g *Generator) AddPattern(text string) error {
	pat, err := compilePattern(text, g.strings)
	if err != nil {
		return wrapFormatError(text, err)
	}
	if pat.Bigram {
		g.bigram = append(g.bigram, pat)
	} else {
		g.unigram = append(g.unigram, pat)
	}
	return nil
}

// NumUnigramPatterns and NumBigramPatterns report the compiled pattern
// counts used to size a feature arena's per-arc/per-pair allocations
// (original_source gen_ftralloc's nupat/nbpat).
func (g *Generator) NumUnigramPatterns() int { return len(g.unigram) }
func (g *Generator) NumBigramPatterns() int  { return len(g.bigram) }

// resolve materializes one item's token hash against the arc-pair's
// labels, or, for an equality item, the interned "true"/"false" hash
// (original_source gen_get). labels is indexed p*2+s: for a unigram
// pattern (always p==0 after the rewrite) labels holds
// {a.ilbl, a.olbl}; for a bigram pattern labels holds
// {a_in.ilbl, a_in.olbl, a_out.ilbl, a_out.olbl}.
func (g *Generator) resolve(it item, labels []*model.Label) uint64 {
	h1 := labels[it.P1*2+it.S1].Token(it.T1)
	if !it.hasEquality() {
		return h1
	}
	h2 := labels[it.P2*2+it.S2].Token(it.T2)
	if h1 == h2 {
		return g.hashTrue
	}
	return g.hashFalse
}

// emit resolves pat against labels and reduces the resulting hash
// sequence through the model's feature table, matching gen_uftr/gen_bftr's
// shared body: hsh[0] is the pattern's name hash when non-zero, followed
// by each item's resolved hash.
func (g *Generator) emit(mdl *model.Model, pat *pattern, labels []*model.Label, countFrequency bool) (*model.FeatureRecord, bool) {
	hashes := make([]uint64, 0, len(pat.Items)+1)
	if pat.ID != 0 {
		hashes = append(hashes, pat.ID)
	}
	for _, it := range pat.Items {
		hashes = append(hashes, g.resolve(it, labels))
	}
	return mdl.AddFeature(pat.Tag, hashes, countFrequency)
}

// Generate emits every compiled pattern's features over f: unigram
// features per arc against (a.ilbl, a.olbl), bigram features per state
// for every incoming×outgoing arc pair, storing the resulting feature ids
// on f.Arcs[i].Unigram / f.States[i].Bigram (original_source gen_addftr).
// Feature-id lists are carved from ar, a single per-FST arena block
// (spec.md §4.6), rather than individually heap-allocated. f.AddStates
// is called if the state adjacency has not been built yet.
func (g *Generator) Generate(mdl *model.Model, f *fst.FST, ar *arena.FeatureArena) {
	f.AddStates()
	debug.LogFeatures("generating features over %d arcs, %d unigram/%d bigram patterns\n",
		len(f.Arcs), g.NumUnigramPatterns(), g.NumBigramPatterns())

	// original_source gen_addftr: frq := (mult<0 && onref) || (mult>0 && !onref).
	countFrequency := (f.Mult < 0 && g.onRef) || (f.Mult > 0 && !g.onRef)

	nu := g.NumUnigramPatterns()
	for i := range f.Arcs {
		a := &f.Arcs[i]
		labels := [2]*model.Label{a.ILbl, a.OLbl}
		f.Arcs[i].Unigram = emitAll(mdl, g, g.unigram, labels[:], countFrequency, ar, nu)
	}

	nb := g.NumBigramPatterns()
	if nb == 0 {
		return
	}
	for si := range f.States {
		s := &f.States[si]
		ni, no := len(s.In), len(s.Out)
		if ni == 0 || no == 0 {
			continue
		}
		s.Bigram = make([][][]uint64, ni)
		for ii := 0; ii < ni; ii++ {
			ai := &f.Arcs[s.In[ii]]
			row := make([][]uint64, no)
			for io := 0; io < no; io++ {
				ao := &f.Arcs[s.Out[io]]
				labels := [4]*model.Label{ai.ILbl, ai.OLbl, ao.ILbl, ao.OLbl}
				row[io] = emitAll(mdl, g, g.bigram, labels[:], countFrequency, ar, nb)
			}
			s.Bigram[ii] = row
		}
	}
}

// emitAll resolves every pattern in pats against labels, collecting the
// resulting feature ids into a capacity-cap slot carved from ar. A
// pattern's feature is skipped when Model.AddFeature reports it is
// gated off by the tag's current training window, so the returned slice
// may be shorter than cap (original_source arc_t.ucnt / state_t.bcnt[][]
// trimming the allocated block to the count actually filled).
func emitAll(mdl *model.Model, g *Generator, pats []*pattern, labels []*model.Label, countFrequency bool, ar *arena.FeatureArena, slots int) []uint64 {
	slot := ar.Alloc(slots)
	n := 0
	for _, pat := range pats {
		rec, ok := g.emit(mdl, pat, labels, countFrequency)
		if !ok {
			continue
		}
		slot[n] = rec.ID
		n++
	}
	return slot[:n]
}
