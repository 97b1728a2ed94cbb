package engine

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// TermKind distinguishes main effects from interactions.
type TermKind string

const (
	MainEffect  TermKind = "main"
	Interaction TermKind = "interaction"
)

// Term is one column of the joint model. For main effects DatasetB and
// GroupB are -1.
type Term struct {
	Name         string   `json:"name"`
	Kind         TermKind `json:"kind"`
	DatasetA     int      `json:"dataset_a"`
	GroupA       int      `json:"group_a"`
	DatasetB     int      `json:"dataset_b"`
	GroupB       int      `json:"group_b"`
	Coefficient  float64  `json:"coefficient"`
	PValue       float64  `json:"p_value"`
	Significance float64  `json:"significance"`
}

// assemble builds the joint design: the compressed groups of every dataset as
// main effects, then for every dataset pair a < b the products of their
// centered compressed groups.
func assemble(compressed []*mat.Dense, centers [][]float64, mainEffects bool) (*mat.Dense, []Term) {
	if len(compressed) == 0 {
		return nil, nil
	}
	n, _ := compressed[0].Dims()

	var terms []Term
	if mainEffects {
		for a, Z := range compressed {
			_, k := Z.Dims()
			for g := 0; g < k; g++ {
				terms = append(terms, Term{Kind: MainEffect, DatasetA: a, GroupA: g, DatasetB: -1, GroupB: -1})
			}
		}
	}
	for a := 0; a < len(compressed); a++ {
		_, ka := compressed[a].Dims()
		for b := a + 1; b < len(compressed); b++ {
			_, kb := compressed[b].Dims()
			for g := 0; g < ka; g++ {
				for h := 0; h < kb; h++ {
					terms = append(terms, Term{Kind: Interaction, DatasetA: a, GroupA: g, DatasetB: b, GroupB: h})
				}
			}
		}
	}
	if len(terms) == 0 {
		return nil, nil
	}

	out := mat.NewDense(n, len(terms), nil)
	for t, term := range terms {
		za := compressed[term.DatasetA]
		for i := 0; i < n; i++ {
			if term.Kind == MainEffect {
				out.Set(i, t, za.At(i, term.GroupA))
				continue
			}
			zb := compressed[term.DatasetB]
			va := za.At(i, term.GroupA) - centers[term.DatasetA][term.GroupA]
			vb := zb.At(i, term.GroupB) - centers[term.DatasetB][term.GroupB]
			out.Set(i, t, va*vb)
		}
	}
	return out, terms
}

func termName(structures []*Structure, t Term) string {
	a := fmt.Sprintf("%s.G%d", structures[t.DatasetA].Dataset, t.GroupA+1)
	if t.Kind == MainEffect {
		return a
	}
	return fmt.Sprintf("%s:%s.G%d", a, structures[t.DatasetB].Dataset, t.GroupB+1)
}
