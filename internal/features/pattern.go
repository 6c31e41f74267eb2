// Package features implements the feature generator of spec.md §4.6:
// pattern compilation and per-arc/per-state-pair feature emission.
//
// Grounded on original_source's gen_* family (lost.c): gen_addpat (pattern
// grammar), gen_ftralloc/gen_remftr (arena-backed list storage), gen_get
// (equality-feature resolution), gen_uftr/gen_bftr/gen_addftr (emission).
package features

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/standardbeagle/logfst/internal/lferrors"
	"github.com/standardbeagle/logfst/internal/strpool"
)

// item is one reference within a pattern: p(0|1).(s|t).tokenIndex,
// optionally joined by "=" to a second reference forming an equality
// predicate (original_source itm_t).
type item struct {
	P1, S1, T1 int
	P2, S2, T2 int // P2 < 0 when there is no equality clause
}

func (it item) hasEquality() bool { return it.P2 >= 0 }

// pattern is a compiled feature template (original_source pat_t).
type pattern struct {
	ID     uint64 // optional name hash, 0 if the pattern carries no name
	Tag    int
	Items  []item
	Bigram bool // false: resolved per arc against (ilbl, olbl); true: per state-pair
}

var itemHalfRe = regexp.MustCompile(`^(\d+)([st])(\d+)$`)

func isAlphaByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// compilePattern parses a single add_pattern(text) string per spec.md
// §4.6's grammar:
//
//	[tag:][name:]item[,item]*
//	item := P S T [ = P S T ]
//	P := 0|1    S := s|t    T := integer
//
// and applies the p1-only rewrite: if no item references position 0, every
// item is shifted to reference position 0 instead, turning a pattern that
// only ever touches the "second" arc of a pair into a unigram pattern on
// that arc (original_source gen_addpat).
func compilePattern(text string, pool *strpool.Pool) (*pattern, error) {
	rest := text

	tag := 0
	if idx := strings.IndexByte(rest, ':'); idx >= 0 {
		if n, err := strconv.Atoi(rest[:idx]); err == nil {
			tag = n
			rest = rest[idx+1:]
		}
	}

	var id uint64
	if len(rest) > 0 && isAlphaByte(rest[0]) {
		idx := strings.IndexByte(rest, ':')
		if idx < 0 {
			return nil, fmt.Errorf("pattern name missing trailing ':' in %q", text)
		}
		id = pool.InternString(rest[:idx], false)
		rest = rest[idx+1:]
	}

	var items []item
	if rest != "" {
		parts := strings.Split(rest, ",")
		items = make([]item, len(parts))
		for i, part := range parts {
			it, err := parseItem(part)
			if err != nil {
				return nil, fmt.Errorf("%w (pattern %q)", err, text)
			}
			items[i] = it
		}
	}

	if id == 0 && len(items) == 0 {
		return nil, fmt.Errorf("empty pattern %q: needs a name or at least one item", text)
	}

	var cnt [2]int
	for _, it := range items {
		cnt[it.P1]++
		if it.hasEquality() {
			cnt[it.P2]++
		}
	}
	if cnt[0] == 0 {
		for i := range items {
			items[i].P1--
			if items[i].hasEquality() {
				items[i].P2--
			}
		}
		cnt[0], cnt[1] = cnt[1], 0
	}

	return &pattern{ID: id, Tag: tag, Items: items, Bigram: cnt[1] != 0}, nil
}

type itemHalf struct{ p, s, t int }

func parseItem(s string) (item, error) {
	halves := strings.SplitN(strings.TrimSpace(s), "=", 2)
	left, err := parseItemHalf(halves[0])
	if err != nil {
		return item{}, err
	}
	it := item{P1: left.p, S1: left.s, T1: left.t, P2: -1, S2: -1, T2: -1}
	if len(halves) == 2 {
		right, err := parseItemHalf(halves[1])
		if err != nil {
			return item{}, err
		}
		it.P2, it.S2, it.T2 = right.p, right.s, right.t
	}
	return it, nil
}

func parseItemHalf(s string) (itemHalf, error) {
	m := itemHalfRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return itemHalf{}, fmt.Errorf("malformed pattern item %q", s)
	}
	p, _ := strconv.Atoi(m[1])
	if p != 0 && p != 1 {
		return itemHalf{}, fmt.Errorf("pattern item position must be 0 or 1, got %d", p)
	}
	sv := 0
	if m[2] == "t" {
		sv = 1
	}
	t, _ := strconv.Atoi(m[3])
	return itemHalf{p: p, s: sv, t: t}, nil
}

// wrapFormatError tags a pattern-compilation failure as a §7 format error
// rooted at the --pattern flag, rather than a line-oriented
// file.
func wrapFormatError(text string, err error) error {
	return lferrors.NewFormatError("pattern", 0, text, err)
}
