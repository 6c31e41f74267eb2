package gradient

import (
	"math"

	"github.com/standardbeagle/logfst/internal/fst"
	"github.com/standardbeagle/logfst/internal/model"
)

// update accumulates every feature's expectation-gradient contribution for
// f into the model, returning mult*Z where Z is f's log partition function
// (original_source grd_doupd). Requires psi and forwardBackward to have
// already run.
//
// The dense-feature loop below does not re-check Model.TagStarted: neither
// does grd_doupd's real[i] update, even though grd_dopsi gates the same
// records when computing ψ. A tag that has not started contributes nothing
// to ψ/alpha/beta, so the gradient this adds is harmless until the tag's
// window opens, but it is not skipped — matching the original exactly.
func update(mdl *model.Model, f *fst.FST) float64 {
	mul := f.Mult

	z := math.Inf(-1)
	for i := range f.Arcs {
		if f.Arcs[i].Trg == f.Final {
			z = logsumexp(z, f.Arcs[i].Alpha)
		}
	}

	for i := range f.Arcs {
		a := &f.Arcs[i]
		ex := math.Exp(-z + a.Alpha + a.Beta)
		for _, id := range a.Unigram {
			if rec, ok := mdl.Features.Find(id); ok {
				rec.AddGradient(ex * mul)
			}
		}
		for j := 1; j < len(a.Weights); j++ {
			mdl.Real[j].AddGradient(ex * a.Weights[j] * mul)
		}
	}

	for si := range f.States {
		s := &f.States[si]
		if s.Bigram == nil {
			continue
		}
		for ni, in := range s.In {
			for no, out := range s.Out {
				ai := &f.Arcs[in]
				ao := &f.Arcs[out]
				ex := math.Exp(-z + ai.Alpha + ao.Beta + ao.Psi + s.PairPsi[ni][no])
				for _, id := range s.Bigram[ni][no] {
					if rec, ok := mdl.Features.Find(id); ok {
						rec.AddGradient(ex * mul)
					}
				}
			}
		}
	}

	return mul * z
}
