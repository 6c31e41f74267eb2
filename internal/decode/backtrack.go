package decode

import (
	"math"

	"github.com/standardbeagle/logfst/internal/fst"
	"github.com/standardbeagle/logfst/internal/strpool"
)

// Hypothesis is one input/output label pair of a decoded path.
type Hypothesis struct {
	ILbl, OLbl string
}

// backtrack finds the highest-scoring path ending at f's final state and
// walks its EBack pointers back to the initial state, returning the
// decoded (input, output) label pairs in left-to-right order
// (original_source dec_backtrack). Requires forward to have already run.
func backtrack(f *fst.FST, pool *strpool.Pool) []Hypothesis {
	best := math.Inf(-1)
	ei := -1
	for e := range f.Arcs {
		if f.Arcs[e].Trg != f.Final {
			continue
		}
		if f.Arcs[e].Alpha > best {
			best = f.Arcs[e].Alpha
			ei = e
		}
	}
	if ei < 0 {
		return nil
	}

	var rev []Hypothesis
	ed := &f.Arcs[ei]
	rev = append(rev, Hypothesis{ILbl: pool.Get(ed.ILbl.Raw), OLbl: pool.Get(ed.OLbl.Raw)})
	for ed.Src != 0 {
		ei = ed.EBack
		ed = &f.Arcs[ei]
		rev = append(rev, Hypothesis{ILbl: pool.Get(ed.ILbl.Raw), OLbl: pool.Get(ed.OLbl.Raw)})
	}

	out := make([]Hypothesis, len(rev))
	for i, h := range rev {
		out[len(rev)-1-i] = h
	}
	return out
}
