package gradient

import (
	"github.com/standardbeagle/logfst/internal/fst"
	"github.com/standardbeagle/logfst/internal/model"
)

// Psi computes every arc's and state-pair's log-potential from mdl's
// current weights. Exported for internal/decode, which shares this exact
// computation with the training engine (original_source grd_dopsi, called
// by both grd_worker and dec_decode).
func Psi(mdl *model.Model, f *fst.FST) { psi(mdl, f) }

// AllocScratch builds f's PairPsi scratch if not already present.
// Exported for internal/decode (original_source grd_addspc).
func AllocScratch(f *fst.FST) { allocScratch(f) }

// FreeScratch tears down f's PairPsi scratch. Exported for internal/decode
// (original_source grd_remspc).
func FreeScratch(f *fst.FST) { freeScratch(f) }

// ClearFeatures drops f's generated feature-id lists. Exported for
// internal/decode (original_source gen_remftr).
func ClearFeatures(f *fst.FST) { clearFeatures(f) }
