package gradient

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/logfst/internal/arena"
	"github.com/standardbeagle/logfst/internal/debug"
	"github.com/standardbeagle/logfst/internal/features"
	"github.com/standardbeagle/logfst/internal/fst"
	"github.com/standardbeagle/logfst/internal/model"
)

// CacheLevel controls how much of a pass's per-FST scratch (state lists,
// topological orderings, feature lists, gradient scratch) is retained once
// an FST has been processed, for reuse by the next Compute call over the
// same dataset (spec.md §3/§7). Each tier is a strict superset of the one
// below it.
type CacheLevel int

const (
	// CacheNone tears everything down: states, sort order, features, and
	// gradient scratch are rebuilt from scratch on the next pass.
	CacheNone CacheLevel = iota
	// CacheStates retains the per-state incoming/outgoing arc lists.
	CacheStates
	// CacheSort additionally retains the topological arc orderings.
	CacheSort
	// CacheFeatures additionally retains the generated feature-id lists.
	// The generator still re-resolves every pattern each pass regardless
	// of this tier (a feature may have been pruned from the model since
	// the last pass); this tier only decides whether the arena backing
	// them is held onto between FSTs rather than released early.
	CacheFeatures
	// CacheAll additionally retains the gradient scratch (PairPsi).
	CacheAll
)

// Engine drives one gradient computation pass over a dataset: claiming
// FSTs from a shared counter, running ψ/forward-backward/update on each,
// and summing the resulting objective (original_source grd_t/grd_compute).
type Engine struct {
	Model     *model.Model
	Generator *features.Generator
	Dataset   *fst.Dataset

	// NumThreads bounds worker concurrency; values below 1 count as 1.
	// Every worker, including a lone one, runs on its own goroutine.
	NumThreads int
	Cache      CacheLevel

	// Tick, if set, is called once per FST claimed by any worker, for a
	// caller-supplied progress bar (original_source prg_next). Must be
	// safe for concurrent use.
	Tick func()

	idx atomic.Int64
	fx  atomicFloat64
}

// New creates an Engine over mdl/gen/dat with single-threaded, no-cache
// defaults; callers override NumThreads/Cache before calling Compute.
func New(mdl *model.Model, gen *features.Generator, dat *fst.Dataset) *Engine {
	return &Engine{Model: mdl, Generator: gen, Dataset: dat, NumThreads: 1}
}

// Compute runs one gradient pass over the engine's dataset, returning the
// summed objective value Σ mult·Z across every FST (original_source
// grd_compute). Feature gradients accumulate directly into the model's
// feature records as a side effect; callers read them via
// model.FeatureRecord.Gradient after Compute returns.
func (e *Engine) Compute(ctx context.Context) (float64, error) {
	e.idx.Store(0)
	e.fx.store(0)

	nth := e.NumThreads
	if nth < 1 {
		nth = 1
	}
	if nth > len(e.Dataset.FSTs) {
		nth = len(e.Dataset.FSTs)
	}
	if nth < 1 {
		return 0, nil
	}

	debug.LogGradient("compute pass starting: %d FSTs, %d workers, cache=%d\n", len(e.Dataset.FSTs), nth, e.Cache)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(nth)
	for i := 0; i < nth; i++ {
		g.Go(func() error {
			return e.worker(ctx)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return e.fx.load(), nil
}

// worker claims FSTs one at a time from the shared counter until the
// dataset is exhausted or ctx is cancelled, running the full per-FST
// pipeline on each before tearing down scratch per e.Cache
// (original_source grd_worker).
func (e *Engine) worker(ctx context.Context) error {
	ar := arena.NewFeatureArena(arena.NewFeatureBlockPool())
	local := 0.0

	for {
		select {
		case <-ctx.Done():
			e.fx.add(local)
			return ctx.Err()
		default:
		}

		i := e.idx.Add(1) - 1
		if int(i) >= len(e.Dataset.FSTs) {
			break
		}
		f := e.Dataset.FSTs[i]

		f.AddStates()
		if err := f.AddSort(); err != nil {
			e.fx.add(local)
			return err
		}
		e.Generator.Generate(e.Model, f, ar)
		allocScratch(f)

		psi(e.Model, f)
		forwardBackward(f)
		local += update(e.Model, f)

		if e.Cache < CacheAll {
			freeScratch(f)
		}
		if e.Cache < CacheFeatures {
			clearFeatures(f)
			ar.Reset()
		}
		if e.Cache < CacheSort {
			f.RemoveSort()
		}
		if e.Cache < CacheStates {
			f.RemoveStates()
		}

		if e.Tick != nil {
			e.Tick()
		}
	}

	ar.Release()
	e.fx.add(local)
	debug.LogGradient("worker done, local objective=%f\n", local)
	return nil
}

// clearFeatures drops an FST's generated feature-id lists, matching
// original_source gen_remftr. The lists are re-derived by
// Generator.Generate on the next pass regardless of whether this runs, so
// this only affects how promptly the backing arena block can be reused.
func clearFeatures(f *fst.FST) {
	for i := range f.Arcs {
		f.Arcs[i].Unigram = nil
	}
	for i := range f.States {
		f.States[i].Bigram = nil
	}
}
