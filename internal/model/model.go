// Package model implements the feature table and model store of spec.md
// §3/§4.5: a lock-free feature map keyed by (tag, pattern-hash) ids, a
// shared string pool, source/target label vocabularies, per-tag gating
// windows, and the reserved dense-feature records.
//
// Grounded on original_source's mdl_* family (lost.c).
package model

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/standardbeagle/logfst/internal/lferrors"
	"github.com/standardbeagle/logfst/internal/lockfree"
	"github.com/standardbeagle/logfst/internal/strpool"
	"github.com/standardbeagle/logfst/internal/xhash"
)

const mask56 = (uint64(1) << 56) - 1

// MaxTags is the number of distinct feature tags (spec.md §3: "top 8 bits
// hold a tag (0-127)").
const MaxTags = 128

// FeatureRecord is a single sparse feature: a weight, an accumulated
// gradient, and the RPROP bookkeeping fields needed to adapt its step size
// (spec.md §3, original_source ftr_t).
type FeatureRecord struct {
	// ID is this record's full 64-bit key: top 8 bits are the tag, low 56
	// bits are the pattern/token hash. Stored on the record (rather than
	// recovered only from the map) so Tag, Save, and dump iteration don't
	// need a separate hash-of-record lookup.
	ID uint64

	// X is the current weight, touched only by the single-threaded RPROP
	// sweep (spec.md §5).
	X float64

	// g holds the bit pattern of the accumulated gradient, mutated
	// concurrently by gradient workers via AddGradient's CAS loop
	// (spec.md §4.3).
	g atomic.Uint64

	// Gp, Stp, Dlt are RPROP-only state, touched only by the
	// single-threaded sweep between gradient passes.
	Gp  float32
	Stp float32
	Dlt float32

	// Frq is the occurrence count for the current iteration, incremented
	// atomically by AddFeature during gradient/generation and reset by the
	// RPROP sweep's housekeeping step.
	Frq atomic.Int64
}

func newFeatureRecord(id uint64) *FeatureRecord {
	return &FeatureRecord{ID: id}
}

// Tag returns this record's feature tag, the top 8 bits of ID
// (original_source mdl_gettag).
func (r *FeatureRecord) Tag() int {
	return int(r.ID >> 56)
}

// Gradient returns the current accumulated gradient.
func (r *FeatureRecord) Gradient() float64 {
	return math.Float64frombits(r.g.Load())
}

// SetGradient overwrites the accumulated gradient. Only safe when called
// from the single-threaded RPROP sweep, never concurrently with
// AddGradient.
func (r *FeatureRecord) SetGradient(v float64) {
	r.g.Store(math.Float64bits(v))
}

// AddGradient atomically adds delta to the accumulated gradient via a CAS
// loop on the float64 bit pattern (spec.md §4.3). Safe for concurrent use
// by many gradient workers.
func (r *FeatureRecord) AddGradient(delta float64) {
	for {
		old := r.g.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if r.g.CompareAndSwap(old, next) {
			return
		}
	}
}

// window holds the iteration range [Start, Remove) during which a tag's
// features may be newly inserted (spec.md §4.5/§4.8).
type window struct {
	Start  int
	Remove int
}

// Model owns the feature map, shared string pool, source/target label
// vocabularies, per-tag gating windows, and the reserved dense-feature
// records (original_source mdl_t).
type Model struct {
	Features *lockfree.Map[*FeatureRecord]
	Strings  *strpool.Pool
	Source   *LabelVocabulary
	Target   *LabelVocabulary

	// Real holds the reserved dense-feature records at fixed tag 128-i for
	// i in [1, len(Real)). Real[0] is unused, matching original_source's
	// 1-based loop over real[MAX_REAL].
	Real []*FeatureRecord

	MinFreq int

	iter    atomic.Int64
	windows [MaxTags]window

	dumpMu   sync.Mutex
	dumpFile *os.File
	dumpW    *bufio.Writer
}

// New creates an empty model. maxReal is the count of reserved dense
// feature slots (original_source MAX_REAL, shipped as 0 — see
// DESIGN.md's Open Question note); pool is the shared string pool used
// for label interning.
func New(pool *strpool.Pool, maxReal int) *Model {
	m := &Model{
		Features: lockfree.NewMap[*FeatureRecord](),
		Strings:  pool,
		Source:   newLabelVocabulary(),
		Target:   newLabelVocabulary(),
	}
	for tag := 0; tag < MaxTags; tag++ {
		m.windows[tag] = window{Start: 0, Remove: math.MaxInt32}
	}
	if maxReal > 0 {
		m.Real = make([]*FeatureRecord, maxReal)
		for i := 1; i < maxReal; i++ {
			id := (uint64(i) & mask56) | (uint64(128-i) << 56)
			rec := newFeatureRecord(id)
			actual, _ := m.Features.Insert(id, rec)
			m.Real[i] = actual
		}
	}
	return m
}

// SetWindow sets tag's gating window: AddFeature may create a new record
// for tag only while the model's current iteration is in [start, remove).
func (m *Model) SetWindow(tag, start, remove int) {
	m.windows[tag] = window{Start: start, Remove: remove}
}

// Iter returns the model's current training iteration, used to gate new
// feature insertion.
func (m *Model) Iter() int {
	return int(m.iter.Load())
}

// SetIter sets the model's current training iteration (called by the
// training loop at the start of each pass).
func (m *Model) SetIter(n int) {
	m.iter.Store(int64(n))
}

// TagStarted reports whether tag's window has opened by the model's
// current iteration (original_source grd_dopsi's
// `mdl->stt[mdl_gettag(mdl->real[i])] <= mdl->itr` dense-feature gate).
// Unlike AddFeature's window check, this ignores the window's Remove
// bound: once a tag has started, its already-created dense records stay
// in use for the rest of training.
func (m *Model) TagStarted(tag int) bool {
	return m.Iter() >= m.windows[tag].Start
}

// RemovalDue reports whether tag's window has closed by the model's
// current iteration (original_source rbp_step's `mdl->rem[tag] <=
// mdl->itr`), used by the RPROP sweep to decide whether a zero-weight
// feature for this tag may be pruned yet.
func (m *Model) RemovalDue(tag int) bool {
	return m.Iter() >= m.windows[tag].Remove
}

// EnableDump opens path for single-threaded dump-mode writes: every
// successful AddFeature insertion is appended as "id hashes...\n" in hex
// (original_source mdl->dump). Must not be enabled while gradient workers
// may concurrently call AddFeature.
func (m *Model) EnableDump(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return lferrors.NewIOError("create", path, err)
	}
	m.dumpFile = f
	m.dumpW = bufio.NewWriter(f)
	return nil
}

// CloseDump flushes and closes the dump file, if one is open.
func (m *Model) CloseDump() error {
	if m.dumpW == nil {
		return nil
	}
	if err := m.dumpW.Flush(); err != nil {
		return lferrors.NewIOError("flush", m.dumpFile.Name(), err)
	}
	err := m.dumpFile.Close()
	m.dumpFile, m.dumpW = nil, nil
	if err != nil {
		return lferrors.NewIOError("close", "", err)
	}
	return nil
}

func (m *Model) writeDump(id uint64, hashes []uint64) {
	m.dumpMu.Lock()
	defer m.dumpMu.Unlock()
	fmt.Fprintf(m.dumpW, "%016x", id)
	for _, h := range hashes {
		fmt.Fprintf(m.dumpW, " %016x", h)
	}
	fmt.Fprint(m.dumpW, "\n")
}

// featureID computes a feature's map key from its tag and the hashes
// making up its pattern, matching original_source mdl_addftr's id
// computation: the hash of the hash buffer, masked to 56 bits, with the
// tag packed into the top 8 bits.
func featureID(tag int, hashes []uint64) uint64 {
	h := xhash.Combine(hashes...)
	return (h & mask56) | (uint64(tag) << 56)
}

// AddFeature looks up (or, if the tag's window permits, creates) the
// feature identified by tag and hashes, matching original_source
// mdl_addftr. If incrementFrequency is set, the returned record's Frq is
// atomically incremented regardless of whether it was found, lost a
// concurrent insertion race, or was freshly created. Returns (nil, false)
// only when the feature does not exist and the tag's window forbids
// creating it.
func (m *Model) AddFeature(tag int, hashes []uint64, incrementFrequency bool) (*FeatureRecord, bool) {
	id := featureID(tag, hashes)

	if rec, ok := m.Features.Find(id); ok {
		if incrementFrequency {
			rec.Frq.Add(1)
		}
		return rec, true
	}

	w := m.windows[tag]
	iter := m.Iter()
	if iter < w.Start || iter >= w.Remove {
		return nil, false
	}

	tmp := newFeatureRecord(id)
	actual, inserted := m.Features.Insert(id, tmp)
	if inserted && m.dumpW != nil {
		m.writeDump(id, hashes)
	}
	if incrementFrequency {
		actual.Frq.Add(1)
	}
	return actual, true
}

// Range calls fn for every feature record currently in the model, in the
// underlying map's split order, stopping early if fn returns false
// (original_source mdl_next, exposed as an iterator rather than a
// last-cursor API).
func (m *Model) Range(fn func(id uint64, rec *FeatureRecord) bool) {
	m.Features.Range(fn)
}

// Remove removes the feature with the given id, if present
// (original_source mdl_remove).
func (m *Model) Remove(id uint64) bool {
	_, ok := m.Features.Remove(id)
	return ok
}

// Shrink removes every feature whose weight is exactly zero
// (original_source mdl_shrink). Like the original, this must only be
// called when no gradient worker is concurrently active — see
// DESIGN.md's Open Question note on pruning without a quiescence
// barrier.
func (m *Model) Shrink() {
	var dead []uint64
	m.Range(func(id uint64, rec *FeatureRecord) bool {
		if rec.X == 0 {
			dead = append(dead, id)
		}
		return true
	})
	for _, id := range dead {
		m.Remove(id)
	}
}

// Save writes every feature's (id, weight) pair to path, one per line as
// "%016x %.14f\n", matching original_source mdl_save.
func (m *Model) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return lferrors.NewIOError("create", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var writeErr error
	m.Range(func(id uint64, rec *FeatureRecord) bool {
		if _, writeErr = fmt.Fprintf(w, "%016x %.14f\n", id, rec.X); writeErr != nil {
			return false
		}
		return true
	})
	if writeErr != nil {
		return lferrors.NewIOError("write", path, writeErr)
	}
	if err := w.Flush(); err != nil {
		return lferrors.NewIOError("flush", path, err)
	}
	return nil
}

// Load reads a model file in the "%016x %.14f\n" format written by Save,
// creating any feature id not already present with Frq/Gp/Stp/Dlt zeroed,
// matching original_source mdl_load.
func (m *Model) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return lferrors.NewIOError("open", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		idx := strings.IndexByte(text, ' ')
		if idx < 0 {
			return lferrors.NewFormatError(path, line, text, fmt.Errorf("missing id/weight separator"))
		}
		id, err := strconv.ParseUint(text[:idx], 16, 64)
		if err != nil {
			return lferrors.NewFormatError(path, line, text[:idx], err)
		}
		weight, err := strconv.ParseFloat(text[idx+1:], 64)
		if err != nil {
			return lferrors.NewFormatError(path, line, text[idx+1:], err)
		}
		rec, ok := m.Features.Find(id)
		if !ok {
			tmp := newFeatureRecord(id)
			rec, _ = m.Features.Insert(id, tmp)
		}
		rec.X = weight
	}
	if err := scanner.Err(); err != nil {
		return lferrors.NewIOError("read", path, err)
	}
	return nil
}

// Stats summarizes active (nonzero-weight) and total feature counts, per
// tag and overall (original_source mdl_stats).
type Stats struct {
	Active      [MaxTags]int64
	Total       [MaxTags]int64
	ActiveTotal int64
	GrandTotal  int64
}

// Stats computes a Stats snapshot by ranging over the full feature map.
func (m *Model) Stats() Stats {
	var s Stats
	m.Range(func(id uint64, rec *FeatureRecord) bool {
		tag := rec.Tag()
		s.Total[tag]++
		s.GrandTotal++
		if rec.X != 0 {
			s.Active[tag]++
			s.ActiveTotal++
		}
		return true
	})
	return s
}
