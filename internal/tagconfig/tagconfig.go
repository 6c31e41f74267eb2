// Package tagconfig parses the per-tag hyperparameter configuration of
// spec.md §6/§9 ("Dynamic configuration"): repeatable `tag-start T:N`,
// `tag-remove T:N`, `tag-rho1/2/3 [T:]V` CLI flag values, plus an optional
// `--hyperconfig` KDL file listing the same per-tag settings in bulk.
//
// Grounded on the teacher's internal/config/kdl_config.go for the KDL
// loading shape (kdl.Parse + document.Node AST walk with small
// firstXArg helpers) and on its `T:N`-style repeatable-flag parsing
// convention seen in its config override flow.
package tagconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"

	"github.com/standardbeagle/logfst/internal/lferrors"
	"github.com/standardbeagle/logfst/internal/model"
	"github.com/standardbeagle/logfst/internal/rprop"
)

// ParseTaggedInt parses a `T:N` flag value (tag-start, tag-remove),
// returning the tag and its integer value. flag names the originating
// CLI flag, used only to annotate a format error.
func ParseTaggedInt(flag, raw string) (tag int, val int, err error) {
	tagPart, valPart, ok := strings.Cut(raw, ":")
	if !ok {
		return 0, 0, lferrors.NewFormatError(flag, 0, raw, fmt.Errorf("expected T:N"))
	}
	tag, err = strconv.Atoi(tagPart)
	if err != nil {
		return 0, 0, lferrors.NewFormatError(flag, 0, tagPart, err)
	}
	val, err = strconv.Atoi(valPart)
	if err != nil {
		return 0, 0, lferrors.NewFormatError(flag, 0, valPart, err)
	}
	if tag < 0 || tag >= model.MaxTags {
		return 0, 0, lferrors.NewFormatError(flag, 0, tagPart, fmt.Errorf("tag out of range [0,%d)", model.MaxTags))
	}
	return tag, val, nil
}

// ParseTaggedFloat parses a `[T:]V` flag value (tag-rho1/2/3): the tag
// prefix is optional and defaults to 0 when raw carries no colon.
func ParseTaggedFloat(flag, raw string) (tag int, val float64, err error) {
	tagPart, valPart, ok := strings.Cut(raw, ":")
	if !ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, 0, lferrors.NewFormatError(flag, 0, raw, err)
		}
		return 0, v, nil
	}
	tag, err = strconv.Atoi(tagPart)
	if err != nil {
		return 0, 0, lferrors.NewFormatError(flag, 0, tagPart, err)
	}
	val, err = strconv.ParseFloat(valPart, 64)
	if err != nil {
		return 0, 0, lferrors.NewFormatError(flag, 0, valPart, err)
	}
	if tag < 0 || tag >= model.MaxTags {
		return 0, 0, lferrors.NewFormatError(flag, 0, tagPart, fmt.Errorf("tag out of range [0,%d)", model.MaxTags))
	}
	return tag, val, nil
}

// Override holds the settings found for one tag, either from a KDL block
// or from a run of CLI flags sharing the same tag. Pointer fields are nil
// when that setting was not specified, so applying an Override never
// clobbers a value nobody set.
type Override struct {
	Tag              int
	Start, Remove    *int
	Rho1, Rho2, Rho3 *float64
}

// File is a parsed --hyperconfig document: one Override per tag block.
type File struct {
	Tags []Override
}

// LoadKDLFile parses path as a KDL hyperconfig document of the form:
//
//	tag 3 {
//	    start 10
//	    remove 500
//	    rho1 0.5
//	    rho2 0.0
//	    rho3 0.01
//	}
//
// matching the teacher's kdl.Parse + document.Node walk shape.
func LoadKDLFile(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, lferrors.NewIOError("read", path, err)
	}

	doc, err := kdl.Parse(strings.NewReader(string(content)))
	if err != nil {
		return nil, lferrors.NewFormatError(path, 0, "", err)
	}

	f := &File{}
	for _, n := range doc.Nodes {
		if nodeName(n) != "tag" {
			continue
		}
		tag, ok := firstIntArg(n)
		if !ok {
			return nil, lferrors.NewFormatError(path, 0, "tag", fmt.Errorf("tag block missing its tag-number argument"))
		}
		if tag < 0 || tag >= model.MaxTags {
			return nil, lferrors.NewFormatError(path, 0, "tag", fmt.Errorf("tag %d out of range [0,%d)", tag, model.MaxTags))
		}
		ov := Override{Tag: tag}
		for _, cn := range n.Children {
			switch nodeName(cn) {
			case "start":
				if v, ok := firstIntArg(cn); ok {
					ov.Start = &v
				}
			case "remove":
				if v, ok := firstIntArg(cn); ok {
					ov.Remove = &v
				}
			case "rho1":
				if v, ok := firstFloatArg(cn); ok {
					ov.Rho1 = &v
				}
			case "rho2":
				if v, ok := firstFloatArg(cn); ok {
					ov.Rho2 = &v
				}
			case "rho3":
				if v, ok := firstFloatArg(cn); ok {
					ov.Rho3 = &v
				}
			}
		}
		f.Tags = append(f.Tags, ov)
	}
	return f, nil
}

// ApplyToModel pushes every parsed Start/Remove pair onto mdl via
// Model.SetWindow. Tags with neither field set are left at mdl's
// existing window.
func (f *File) ApplyToModel(mdl *model.Model) {
	for _, ov := range f.Tags {
		if ov.Start == nil && ov.Remove == nil {
			continue
		}
		start, remove := 0, 1<<31-1
		if ov.Start != nil {
			start = *ov.Start
		}
		if ov.Remove != nil {
			remove = *ov.Remove
		}
		mdl.SetWindow(ov.Tag, start, remove)
	}
}

// ApplyToHyperparams pushes every parsed Rho1/2/3 value onto h, prior to
// h.ResolveTagOverrides being called so file-level and CLI-level
// overrides both participate in the tag-0 inheritance fallback.
func (f *File) ApplyToHyperparams(h *rprop.Hyperparams) {
	for _, ov := range f.Tags {
		if ov.Rho1 != nil {
			h.Rho1[ov.Tag] = *ov.Rho1
		}
		if ov.Rho2 != nil {
			h.Rho2[ov.Tag] = *ov.Rho2
		}
		if ov.Rho3 != nil {
			h.Rho3[ov.Tag] = *ov.Rho3
		}
	}
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstFloatArg(n *document.Node) (float64, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
