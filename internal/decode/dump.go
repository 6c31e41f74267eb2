package decode

import (
	"fmt"
	"io"

	"github.com/standardbeagle/logfst/internal/fst"
	"github.com/standardbeagle/logfst/internal/strpool"
)

// edgeVocab assigns compact sequential ids to arc indices, offset by 2 so
// ids 0 and 1 stay reserved for the dumped lattice's virtual start/final
// states (original_source dec_dsmap, backed by voc_str2id). The original
// keys its vocabulary on a formatted "n1-n2" pair but always passes n2=0,
// so this keys directly on the arc index.
type edgeVocab struct {
	ids map[int]int
}

func newEdgeVocab() *edgeVocab {
	return &edgeVocab{ids: map[int]int{}}
}

func (v *edgeVocab) id(edge int) int {
	if id, ok := v.ids[edge]; ok {
		return id
	}
	id := len(v.ids) + 2
	v.ids[edge] = id
	return id
}

// dumpScored writes f as an OpenFST-style tab-separated scored arc list:
// every arc becomes a node of the dumped lattice, connected with a score of
// the (incoming arc, outgoing arc) pair's bigram log-potential plus the
// outgoing arc's own ψ (original_source dec_dumpspc). Requires gradient.Psi/AllocScratch to
// have already run. Terminates with the literal "1\nEOS\n" record
// separator, matching the original exactly.
func dumpScored(f *fst.FST, pool *strpool.Pool, w io.Writer) {
	voc := newEdgeVocab()

	sti := &f.States[0]
	for _, eo := range sti.Out {
		ed := &f.Arcs[eo]
		fmt.Fprintf(w, "0\t%d\t%s\t%s\t%f\n",
			voc.id(eo), pool.Get(ed.ILbl.Raw), pool.Get(ed.OLbl.Raw), ed.Psi)
	}

	for si := range f.States {
		nd := &f.States[si]
		for ni, ei := range nd.In {
			for no, eo := range nd.Out {
				ed := &f.Arcs[eo]
				sc := nd.PairPsi[ni][no] + ed.Psi
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%f\n",
					voc.id(ei), voc.id(eo), pool.Get(ed.ILbl.Raw), pool.Get(ed.OLbl.Raw), sc)
			}
		}
	}

	stf := &f.States[f.Final]
	for _, ei := range stf.In {
		fmt.Fprintf(w, "%d\t1\t<eps>\t0.0\n", voc.id(ei))
	}
	fmt.Fprint(w, "1\nEOS\n")
}
