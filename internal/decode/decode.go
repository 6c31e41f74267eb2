package decode

import (
	"fmt"
	"io"

	"github.com/standardbeagle/logfst/internal/arena"
	"github.com/standardbeagle/logfst/internal/debug"
	"github.com/standardbeagle/logfst/internal/features"
	"github.com/standardbeagle/logfst/internal/fst"
	"github.com/standardbeagle/logfst/internal/gradient"
	"github.com/standardbeagle/logfst/internal/model"
	"github.com/standardbeagle/logfst/internal/progress"
	"github.com/standardbeagle/logfst/internal/strpool"
)

// Decoder runs one Viterbi decoding pass over a dataset, writing either
// 1-best hypotheses or a scored-FST dump to Out, one FST at a time
// (original_source dec_decode). Unlike the gradient engine, decoding is a
// single-threaded, one-shot pass over the dataset with no next-iteration
// cache to preserve, so every per-FST cache is always torn down between
// FSTs regardless of any cache-level setting — there is no equivalent of
// gradient.Engine's CacheLevel here.
type Decoder struct {
	Model     *model.Model
	Generator *features.Generator
	Dataset   *fst.Dataset
	Pool      *strpool.Pool

	// Dump selects the scored-FST dump format instead of 1-best hypothesis
	// text (original_source's spc flag).
	Dump bool

	Out io.Writer
	Bar *progress.Bar
}

// New creates a Decoder over mdl/gen/dat, writing hypothesis text to out.
func New(mdl *model.Model, gen *features.Generator, dat *fst.Dataset, pool *strpool.Pool, out io.Writer) *Decoder {
	return &Decoder{Model: mdl, Generator: gen, Dataset: dat, Pool: pool, Out: out}
}

// Decode runs the decoding pass over every FST in d.Dataset in order
// (original_source dec_decode).
func (d *Decoder) Decode() error {
	ar := arena.NewFeatureArena(arena.NewFeatureBlockPool())
	defer ar.Release()

	debug.LogDecode("decode pass starting: %d FSTs, dump=%v\n", len(d.Dataset.FSTs), d.Dump)

	if d.Bar != nil {
		d.Bar.Start()
	}

	for _, f := range d.Dataset.FSTs {
		f.AddStates()
		if err := f.AddSort(); err != nil {
			return err
		}
		d.Generator.Generate(d.Model, f, ar)
		gradient.AllocScratch(f)
		gradient.Psi(d.Model, f)

		if d.Dump {
			dumpScored(f, d.Pool, d.Out)
		} else {
			forward(f)
			hyps := backtrack(f, d.Pool)
			writeHypothesis(d.Out, hyps)
		}

		gradient.FreeScratch(f)
		gradient.ClearFeatures(f)
		ar.Reset()
		f.RemoveSort()
		f.RemoveStates()

		if d.Bar != nil {
			d.Bar.Next()
		}
	}

	if d.Bar != nil {
		d.Bar.End()
	}
	return nil
}

// writeHypothesis prints hyps as "ilbl@olbl " pairs terminated by a
// newline, matching original_source dec_decode's non-spc output loop.
func writeHypothesis(w io.Writer, hyps []Hypothesis) {
	for _, h := range hyps {
		fmt.Fprintf(w, "%s@%s ", h.ILbl, h.OLbl)
	}
	fmt.Fprint(w, "\n")
}
