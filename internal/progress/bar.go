// Package progress implements the unbounded dash-progress bar of spec.md
// §7: callers don't know in advance how many steps a pass will take, so
// this reports activity every N items rather than a percentage.
//
// Grounded on original_source's prg_* family (lost.c).
package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Bar prints a dash per step items processed, a pipe every 10 steps, and
// a timestamped line break every 50 steps, matching original_source
// prg_next exactly. Next is safe for concurrent use by many workers; the
// step size is caller-chosen (original_source's callers use nfst/49 or
// ftrs.count/49, so a full pass prints roughly one line of dashes).
type Bar struct {
	w    io.Writer
	step int64

	count atomic.Int64
	mu    sync.Mutex
	start time.Time
	last  time.Time
}

// New creates a Bar writing to w with the given step size. step <= 0 is
// treated as 1 (original_source prg_new asserts step != 0; this allocates
// the same well-defined bar instead of that invariant being the caller's
// problem).
func New(w io.Writer, step int64) *Bar {
	if step <= 0 {
		step = 1
	}
	return &Bar{w: w, step: step}
}

// Start begins a new progress sequence, matching original_source
// prg_start.
func (b *Bar) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprint(b.w, "        [")
	b.count.Store(0)
	b.start = time.Now()
	b.last = b.start
}

// Next reports that one more item has been processed, matching
// original_source prg_next.
func (b *Bar) Next() {
	n := b.count.Add(1)
	if n%b.step != 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case n%(50*b.step) == 0:
		now := time.Now()
		d := now.Sub(b.last)
		fmt.Fprintf(b.w, "-]  tm=%dm%02ds\n        [", int(d.Minutes()), int(d.Seconds())%60)
		b.last = now
	case n%(10*b.step) == 0:
		fmt.Fprint(b.w, "|")
	default:
		fmt.Fprint(b.w, "-")
	}
}

// End finishes the progress line with the total elapsed time, matching
// original_source prg_end.
func (b *Bar) End() {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := time.Since(b.start)
	fmt.Fprintf(b.w, "]  total=%dm%02ds\n", int(d.Minutes()), int(d.Seconds())%60)
}
