// Package fst implements the weighted-FST representation of spec.md §3:
// arcs, states, and the forward/backward topological orderings gradient
// and decode walk, plus the text-format parser of §6.
//
// Grounded on original_source's fst_*/dat_* family (lost.c).
package fst

import (
	"github.com/standardbeagle/logfst/internal/alloc"
	"github.com/standardbeagle/logfst/internal/lferrors"
	"github.com/standardbeagle/logfst/internal/model"
)

// arcListAllocator pools the small, bursty per-state incoming/outgoing
// arc-index slices AddStates builds and RemoveStates tears down, avoiding
// one heap allocation per state per FST pass.
var arcListAllocator = alloc.NewArcSlabAllocator[int]()

// Arc is a transition (src_state, trg_state, input_label, output_label,
// dense_weights[]), plus the transient per-iteration scratch spec.md §3
// describes: Psi/Alpha/Beta for gradient, EBack/YBack for decoding, and
// the resolved unigram feature list for this arc.
type Arc struct {
	Src, Trg int
	ILbl     *model.Label
	OLbl     *model.Label

	// Weights holds the dense feature scores dense_0..dense_{maxReal-1}
	// read from the arc's trailing score columns (spec.md §4.5/§4.7's
	// "real" records); nil when the model carries no reserved dense
	// features (the shipped default, maxReal == 0).
	Weights []float64

	// Unigram is the arc-local feature list emitted by the generator
	// (original_source arc_t.ulst): feature-record ids, resolved through
	// Model.Features when their weight or gradient is needed. Backed by
	// an internal/arena.FeatureArena block rather than individually
	// heap-boxed, per spec.md §4.6.
	Unigram []uint64

	// Psi, Alpha, Beta are the gradient engine's per-iteration log-space
	// scratch (spec.md §4.7); EBack/YBack are the decoder's Viterbi
	// back-pointers (spec.md §4.9). Both reuse the same arc slots across
	// phases, matching original_source's field-sharing.
	Psi, Alpha, Beta float64
	EBack, YBack     int
}

// State indexes an FST's incoming and outgoing arcs, plus, per
// incoming×outgoing pair, the bigram feature list and scratch
// log-potential the generator and gradient engine populate
// (original_source state_t).
type State struct {
	In  []int // incoming arc indices (ilst)
	Out []int // outgoing arc indices (olst)

	// Bigram[ni][no] is the feature list (feature-record ids) for the
	// (incoming arc ni, outgoing arc no) pair (original_source blst);
	// PairPsi[ni][no] is its summed log-potential (original_source psi).
	// Bigram is nil until the feature generator runs; PairPsi is nil
	// until the gradient engine's ψ phase runs.
	Bigram  [][][]uint64
	PairPsi [][]float64
}

// FST is a parsed finite-state transducer: a DAG with a unique source
// (state 0) and unique sink (Final), augmented lazily with state
// adjacency lists and topological arc orderings as gradient/decode passes
// need them (spec.md §3's cache_lvl lifecycle).
type FST struct {
	Acceptor bool
	Mult     float64
	Final    int
	NStates  int

	// Record is this FST's 1-based ordinal within the Dataset it was
	// loaded into (counting every record loaded so far across however
	// many Dataset.LoadFile calls contributed to it; 0 if parsed
	// standalone, outside of Dataset.LoadFile), carried so a later
	// structural error (toposort failure) can still name the offending
	// record (spec.md §7: "fatal with record number").
	Record int

	Arcs   []Arc
	States []State // nil until AddStates

	// S2T/T2S are arc indices in forward- and reverse-topological order
	// (original_source s2t/t2s), nil until AddSort.
	S2T, T2S []int
}

// New creates an empty FST with no arcs or states, matching
// original_source fst_new.
func New() *FST {
	return &FST{Final: -1}
}

// AddStates builds per-state incoming/outgoing arc-index lists from the
// arc array, matching original_source fst_addstates. A no-op if states
// are already built.
func (f *FST) AddStates() {
	if f.States != nil {
		return
	}
	states := make([]State, f.NStates)
	inCount := make([]int, f.NStates)
	outCount := make([]int, f.NStates)
	for _, a := range f.Arcs {
		inCount[a.Trg]++
		outCount[a.Src]++
	}
	for s := range states {
		states[s].In = arcListAllocator.Get(inCount[s])
		states[s].Out = arcListAllocator.Get(outCount[s])
	}
	for i, a := range f.Arcs {
		states[a.Src].Out = append(states[a.Src].Out, i)
		states[a.Trg].In = append(states[a.Trg].In, i)
	}
	f.States = states
}

// RemoveStates tears down the per-state adjacency lists, returning their
// backing slices to arcListAllocator, matching original_source
// fst_remstates (part of the cache_lvl teardown between FSTs).
func (f *FST) RemoveStates() {
	for _, s := range f.States {
		arcListAllocator.Put(s.In)
		arcListAllocator.Put(s.Out)
	}
	f.States = nil
}

// toposort performs a Kahn's-algorithm topological sort of states,
// returning states in sorted order from the initial state (rev == false)
// or from the final state (rev == true). It also verifies the FST has a
// unique extremal state and no cycle, matching original_source
// fst_toposort.
func (f *FST) toposort(rev bool) ([]int, error) {
	n := f.NStates
	deg := make([]int, n)
	lst := make([]int, n)
	for s := 0; s < n; s++ {
		if !rev {
			deg[s] = len(f.States[s].In)
		} else {
			deg[s] = len(f.States[s].Out)
		}
		lst[s] = s
	}

	done := 0
	for done < n {
		last := done
		for i := done; i < n; i++ {
			if deg[lst[i]] != 0 {
				continue
			}
			lst[i], lst[last] = lst[last], lst[i]
			last++
		}
		if done == 0 && last != 1 {
			return nil, lferrors.NewStructuralError(f.Record, "FST does not have a unique initial state")
		}
		if last == done {
			return nil, lferrors.NewStructuralError(f.Record, "FST contains a cycle")
		}
		for i := done; i < last; i++ {
			s := lst[i]
			if !rev {
				for _, a := range f.States[s].Out {
					deg[f.Arcs[a].Trg]--
				}
			} else {
				for _, a := range f.States[s].In {
					deg[f.Arcs[a].Src]--
				}
			}
		}
		done = last
	}
	return lst, nil
}

// AddSort builds S2T and T2S, the arc-index orderings used by the
// gradient engine's forward and backward passes, matching
// original_source fst_addsort. Building states first via AddStates if
// needed. A no-op if both orderings already exist.
func (f *FST) AddSort() error {
	if f.S2T != nil && f.T2S != nil {
		return nil
	}
	f.AddStates()

	lst, err := f.toposort(false)
	if err != nil {
		return err
	}
	s2t := make([]int, 0, len(f.Arcs))
	flg := make([]uint8, len(f.Arcs))
	for _, s := range lst {
		for _, a := range f.States[s].Out {
			if flg[a] == 1 {
				continue
			}
			s2t = append(s2t, a)
			flg[a] = 1
		}
	}

	lst, err = f.toposort(true)
	if err != nil {
		return err
	}
	t2s := make([]int, 0, len(f.Arcs))
	for _, s := range lst {
		for _, a := range f.States[s].In {
			if flg[a] == 2 {
				continue
			}
			t2s = append(t2s, a)
			flg[a] = 2
		}
	}

	f.S2T, f.T2S = s2t, t2s
	return nil
}

// RemoveSort tears down S2T/T2S, matching original_source fst_remsort.
func (f *FST) RemoveSort() {
	f.S2T, f.T2S = nil, nil
}
