// Package strpool implements the shared hash→string pool of spec.md §4.4,
// grounded on original_source's ssp_* functions and the teacher's
// internal/core/string_pool.go (hash-keyed interning shape), but keyed by
// the same 63-bit hash space as the feature map via internal/lockfree
// instead of an incrementing uint32 id.
package strpool

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/standardbeagle/logfst/internal/lferrors"
	"github.com/standardbeagle/logfst/internal/lockfree"
	"github.com/standardbeagle/logfst/internal/xhash"
)

// Unknown is returned by Get for a hash with no interned string,
// matching original_source ssp_get's "@@UNKNOWN" sentinel.
const Unknown = "@@UNKNOWN"

// Pool is a shared string pool: Intern(buffer, mandatory) -> hash,
// Get(hash) -> string. Strings are only retained in the reverse map when
// mandatory is true or the pool was created with storeAll set — the rest
// of the time only the hash is computed and returned, since a feature's
// identity never requires recovering its source text.
type Pool struct {
	hashToString *lockfree.Map[string]
	storeAll     bool
}

// New creates an empty string pool. storeAll corresponds to the --str-all
// CLI flag (SPEC_FULL.md §C): when true, every interned string is kept
// regardless of its mandatory flag, exactly matching original_source's
// ssp_buffer(..., md)'s "md || ssp->all" condition.
func New(storeAll bool) *Pool {
	return &Pool{hashToString: lockfree.NewMap[string](), storeAll: storeAll}
}

// Intern computes the 63-bit hash of buf and, if mandatory or the pool is
// in store-all mode, stores the reverse mapping. Always returns the hash
// (original_source ssp_buffer).
func (p *Pool) Intern(buf []byte, mandatory bool) uint64 {
	h := xhash.Bytes(buf)
	p.retain(h, func() string { return string(buf) }, mandatory)
	return h
}

// InternString is Intern for a string argument, avoiding a []byte copy
// when the caller already holds a string (original_source ssp_string).
func (p *Pool) InternString(s string, mandatory bool) uint64 {
	h := xhash.String(s)
	p.retain(h, func() string { return s }, mandatory)
	return h
}

func (p *Pool) retain(h uint64, text func() string, mandatory bool) {
	if !mandatory && !p.storeAll {
		return
	}
	if _, found := p.hashToString.Find(h); !found {
		p.hashToString.Insert(h, text())
	}
}

// Get returns the string interned under hash, or Unknown if none was
// stored (either never interned, or interned without the mandatory flag
// while not in store-all mode). Matches original_source ssp_get.
func (p *Pool) Get(hash uint64) string {
	if s, ok := p.hashToString.Find(hash); ok {
		return s
	}
	return Unknown
}

// Len returns the number of strings currently retained in the reverse map.
func (p *Pool) Len() int {
	return p.hashToString.Len()
}

// Range calls fn for every (hash, string) pair retained in the pool, in the
// map's split order, stopping early if fn returns false.
func (p *Pool) Range(fn func(hash uint64, s string) bool) {
	p.hashToString.Range(fn)
}

// Save writes every retained (hash, string) pair to path, one per line as
// "%016x %s\n", matching original_source ssp_save.
func (p *Pool) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return lferrors.NewIOError("create", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var writeErr error
	p.Range(func(hash uint64, s string) bool {
		if _, writeErr = fmt.Fprintf(w, "%016x %s\n", hash, s); writeErr != nil {
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

// Load reads a string-pool file in the "%016x %s\n" format written by
// Save, interning every line's string as mandatory, matching
// original_source ssp_load (which strips the leading hash token and keeps
// the remainder as the string, regardless of this pool's storeAll mode).
// The stored hash is recomputed from the string; the file's hash token is
// only checked to be valid hex.
func (p *Pool) Load(path string) error {
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
			return lferrors.NewFormatError(path, line, text, fmt.Errorf("missing hash/string separator"))
		}
		if _, err := strconv.ParseUint(text[:idx], 16, 64); err != nil {
			return lferrors.NewFormatError(path, line, text[:idx], err)
		}
		p.InternString(text[idx+1:], true)
	}
	if err := scanner.Err(); err != nil {
		return lferrors.NewIOError("read", path, err)
	}
	return nil
}
