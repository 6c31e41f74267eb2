// Package decode implements the Viterbi decoder of spec.md §4.9: the
// tropical-semiring analogue of the gradient engine's forward pass, plus
// the two output modes original_source supports — 1-best hypothesis text
// and a scored-FST dump for external rescoring.
//
// Grounded on original_source's dec_* family (lost.c).
package decode

import (
	"math"

	"github.com/standardbeagle/logfst/internal/fst"
)

// forward runs the Viterbi forward recursion over f's lattice, setting
// every arc's Alpha to its best-path score and EBack to the index of the
// incoming arc that achieved it (original_source dec_forward). Requires
// f.AddSort and gradient.Psi/gradient.AllocScratch to have already run.
//
// This mirrors the gradient engine's forwardBackward almost exactly, the
// only difference being a max over incoming candidates instead of a
// logsumexp — matching the original's own comment that dec_forward "is the
// same than the gradient forward step" in the tropical semiring.
func forward(f *fst.FST) {
	for _, o := range f.S2T {
		ao := &f.Arcs[o]
		if ao.Src == 0 {
			ao.Alpha = ao.Psi
			continue
		}
		st := &f.States[ao.Src]
		no := indexOf(st.Out, o)
		best := math.Inf(-1)
		bestIn := -1
		for ni, in := range st.In {
			ai := &f.Arcs[in]
			v := ao.Psi + st.PairPsi[ni][no] + ai.Alpha
			if v > best {
				best = v
				bestIn = in
			}
		}
		ao.Alpha = best
		ao.EBack = bestIn
	}
}

// indexOf locates v's position within list (original_source's linear
// search for an arc's slot within its state's In/Out list).
func indexOf(list []int, v int) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}
