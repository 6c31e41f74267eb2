package fst

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/standardbeagle/logfst/internal/lferrors"
	"github.com/standardbeagle/logfst/internal/model"
)

// Parse builds an FST from the text lines of a single record (one
// EOS-terminated paragraph of a dataset file, per spec.md §6), interning
// labels into mdl, matching original_source dat_parse. Comment and blank
// lines are ignored wherever they occur within the record.
//
// Each other line is either:
//   - the final-state marker: just a state token (at most 2 fields,
//     trailing fields after the state token are ignored), appearing
//     exactly once;
//   - an arc: "src trg ilabel olabel [dense-score...]" (at least 4
//     fields); trailing score fields beyond maxReal are ignored.
//
// source names the record for error messages (typically a file path);
// record is its 1-based ordinal (Dataset.LoadFile passes the position
// within the whole dataset, not within one file; 0 if not tracked),
// stashed on the returned FST so a later structural error (a toposort
// failure) can still name the offending record.
func Parse(lines []string, mdl *model.Model, maxReal int, source string, record int) (*FST, error) {
	states := map[string]int{}
	stateID := func(tok string) int {
		if id, ok := states[tok]; ok {
			return id
		}
		id := len(states)
		states[tok] = id
		return id
	}

	var arcs []Arc
	haveFinal := false
	var finalTok string

	for i, raw := range lines {
		lineNo := i + 1
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		toks := strings.Fields(line)
		switch {
		case len(toks) == 3:
			return nil, lferrors.NewFormatError(source, lineNo, line, fmt.Errorf("arc line needs at least 4 fields (src trg ilabel olabel)"))
		case len(toks) <= 2:
			if haveFinal {
				return nil, lferrors.NewFormatError(source, lineNo, line, fmt.Errorf("duplicate final-state line"))
			}
			haveFinal = true
			finalTok = toks[0]
			continue
		}

		src := stateID(toks[0])
		trg := stateID(toks[1])
		ilbl := mdl.MapSource(toks[2])
		olbl := mdl.MapTarget(toks[3])

		var weights []float64
		if maxReal > 0 {
			weights = make([]float64, maxReal)
			for j := 4; j < len(toks) && j-4 < maxReal; j++ {
				v, err := strconv.ParseFloat(toks[j], 64)
				if err != nil {
					return nil, lferrors.NewFormatError(source, lineNo, toks[j], err)
				}
				weights[j-4] = v
			}
		}

		arcs = append(arcs, Arc{Src: src, Trg: trg, ILbl: ilbl, OLbl: olbl, Weights: weights})
	}

	if !haveFinal {
		return nil, lferrors.NewStructuralError(record, fmt.Sprintf("%s: missing final-state line", source))
	}

	f := New()
	f.NStates = len(states)
	f.Final = stateID(finalTok)
	f.Arcs = arcs
	f.Record = record
	return f, nil
}

// Dataset is an ordered collection of parsed FSTs loaded from one or more
// files (original_source dat_t).
type Dataset struct {
	FSTs []*FST
}

// LoadFile appends every FST parsed from path to the dataset, where
// records are separated by a line reading exactly "EOS" (surrounded by
// optional whitespace), matching original_source dat_load/str_readeos.
// Comment and blank lines within a record are not boundaries — they are
// passed through to Parse, which ignores them. mult sets each parsed
// FST's Mult (the training sign: positive for hypothesis FSTs, negative
// for reference FSTs).
func (d *Dataset) LoadFile(path string, mdl *model.Model, mult float64, maxReal int) error {
	f, err := os.Open(path)
	if err != nil {
		return lferrors.NewIOError("open", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var block []string
	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		record := len(d.FSTs) + 1
		parsed, err := Parse(block, mdl, maxReal, path, record)
		if err != nil {
			return err
		}
		parsed.Mult = mult
		d.FSTs = append(d.FSTs, parsed)
		block = block[:0]
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "EOS" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		block = append(block, line)
	}
	if err := flush(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return lferrors.NewIOError("read", path, err)
	}
	return nil
}

// LoadFile parses path as a standalone dataset, a convenience wrapper
// around Dataset.LoadFile for the common single-file case.
func LoadFile(path string, mdl *model.Model, mult float64, maxReal int) (*Dataset, error) {
	d := &Dataset{}
	if err := d.LoadFile(path, mdl, mult, maxReal); err != nil {
		return nil, err
	}
	return d, nil
}
