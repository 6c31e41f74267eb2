package gradient

import (
	"math"

	"github.com/standardbeagle/logfst/internal/fst"
)

// forwardBackward runs the forward and backward log-space recursions over
// f's lattice, setting every arc's Alpha/Beta (original_source
// grd_fwdbwd). Requires f.AddSort to have built S2T/T2S and psi to have
// already populated Psi/PairPsi.
func forwardBackward(f *fst.FST) {
	for _, o := range f.S2T {
		ao := &f.Arcs[o]
		if ao.Src == 0 {
			ao.Alpha = ao.Psi
			continue
		}
		st := &f.States[ao.Src]
		no := indexOf(st.Out, o)
		alpha := math.Inf(-1)
		for ni, in := range st.In {
			ai := &f.Arcs[in]
			alpha = logsumexp(alpha, ao.Psi+st.PairPsi[ni][no]+ai.Alpha)
		}
		ao.Alpha = alpha
	}

	for _, i := range f.T2S {
		ai := &f.Arcs[i]
		if ai.Trg == f.Final {
			ai.Beta = 0
			continue
		}
		st := &f.States[ai.Trg]
		ni := indexOf(st.In, i)
		beta := math.Inf(-1)
		for no, out := range st.Out {
			ao := &f.Arcs[out]
			beta = logsumexp(beta, ao.Psi+st.PairPsi[ni][no]+ao.Beta)
		}
		ai.Beta = beta
	}
}

// indexOf locates v's position within list, matching original_source's
// linear search for an arc's slot within its state's In/Out list (state
// fan-in/fan-out is small enough that this beats maintaining a reverse
// index).
func indexOf(list []int, v int) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}
