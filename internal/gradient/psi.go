// Package gradient implements the forward-backward gradient engine of
// spec.md §4.7: per-FST log-potentials, the forward/backward recursions
// over the topologically-sorted lattice, and the expectation-gradient
// accumulation into the model's feature table, dispatched across a worker
// pool that claims FSTs from a shared atomic counter.
//
// Grounded on original_source's grd_* family (lost.c); worker dispatch
// shape grounded on the teacher's internal/indexing/master_index.go
// runFileProcessor/runFileScanner pipeline and its
// internal/mcp/integration_test.go errgroup.WithContext/SetLimit usage.
package gradient

import (
	"math"

	"github.com/standardbeagle/logfst/internal/fst"
	"github.com/standardbeagle/logfst/internal/model"
)

// logsumexp computes log(exp(a) + exp(b)) while avoiding overflow
// (original_source logsum). a == -Inf acts as the recursion's identity
// element, matching the -DBL_MAX sentinel grd_fwdbwd seeds alpha/beta with.
func logsumexp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if a > b {
		return a + math.Log1p(math.Exp(b-a))
	}
	return b + math.Log1p(math.Exp(a-b))
}

// psi computes every arc's local log-potential and every state-pair's
// combined bigram log-potential from the model's current weights
// (original_source grd_dopsi). Requires the feature generator to have
// already populated f.Arcs[*].Unigram / f.States[*].Bigram and
// allocScratch to have sized f.States[*].PairPsi.
func psi(mdl *model.Model, f *fst.FST) {
	for i := range f.Arcs {
		a := &f.Arcs[i]
		sum := 0.0
		for _, id := range a.Unigram {
			if rec, ok := mdl.Features.Find(id); ok {
				sum += rec.X
			}
		}
		if len(a.Weights) > 0 {
			sum += a.Weights[0]
		}
		for j := 1; j < len(a.Weights); j++ {
			rec := mdl.Real[j]
			if mdl.TagStarted(rec.Tag()) {
				sum += rec.X * a.Weights[j]
			}
		}
		a.Psi = sum
	}

	for si := range f.States {
		s := &f.States[si]
		for ni := range s.Bigram {
			for no := range s.Bigram[ni] {
				sum := 0.0
				for _, id := range s.Bigram[ni][no] {
					if rec, ok := mdl.Features.Find(id); ok {
						sum += rec.X
					}
				}
				s.PairPsi[ni][no] = sum
			}
		}
	}
}

// allocScratch builds every state's PairPsi matrix sized
// len(In)×len(Out), if not already present (original_source grd_addspc).
// A no-op per state if its matrix is already allocated, matching the
// guard fst_addstates/fst_addsort use to stay idempotent across repeated
// passes over the same FST at cache_lvl 4.
func allocScratch(f *fst.FST) {
	for si := range f.States {
		s := &f.States[si]
		if s.PairPsi != nil {
			continue
		}
		s.PairPsi = make([][]float64, len(s.In))
		for i := range s.PairPsi {
			s.PairPsi[i] = make([]float64, len(s.Out))
		}
	}
}

// freeScratch tears down PairPsi, matching original_source grd_remspc.
func freeScratch(f *fst.FST) {
	for si := range f.States {
		f.States[si].PairPsi = nil
	}
}
