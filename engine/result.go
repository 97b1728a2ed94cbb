package engine

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/VanDung-dev/Sicomore-Engine/hierarchy"
	"github.com/VanDung-dev/Sicomore-Engine/penalized"
)

// Structure is the compressed group structure selected for one dataset.
type Structure struct {
	Dataset     string                `json:"dataset"`
	Hierarchy   *hierarchy.Dendrogram `json:"hierarchy"`
	Compression Compression           `json:"compression"`
	Variables   []string              `json:"variables,omitempty"`

	// Level is the chosen cut for level selections, 0 otherwise
	Level int `json:"level,omitempty"`

	// Nodes are the dendrogram ids of the kept groups
	Nodes  []int   `json:"nodes"`
	Groups [][]int `json:"groups"`

	// Weights are the rho penalty factors of the kept groups
	Weights []float64 `json:"weights,omitempty"`

	// Search is the level search behind level selections
	Search *LevelResult `json:"search,omitempty"`

	// Loadings are the training pc1 directions of the kept groups, set
	// only for pc1 compression
	Loadings []Loading `json:"loadings,omitempty"`

	Compressed *mat.Dense `json:"-"`
	Centers    []float64  `json:"centers"`
}

// compress applies the structure's compression to new rows.
func (s *Structure) compress(X mat.Matrix) (*mat.Dense, error) {
	if s.Loadings != nil {
		return Project(X, s.Groups, s.Loadings)
	}
	return Compress(X, s.Groups, s.Compression)
}

// Result is a fitted sicomore model.
type Result struct {
	Selection   Selection           `json:"selection"`
	Choice      penalized.Choice    `json:"choice"`
	MainEffects bool                `json:"main_effects"`
	Structures  []*Structure        `json:"structures"`
	Terms       []Term              `json:"terms"`
	Intercept   float64             `json:"intercept"`
	Lambda      float64             `json:"lambda"`
	CV          *penalized.CVResult `json:"cv"`
	N           int                 `json:"n"`

	// SignificanceErr is set when the least squares refit was impossible
	SignificanceErr error `json:"-"`
}

func (r *Result) structure(dataset int) (*Structure, error) {
	if dataset < 0 || dataset >= len(r.Structures) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrDatasetOutOfRange, dataset, len(r.Structures))
	}
	return r.Structures[dataset], nil
}

// GetGrp returns the selected groups of a dataset as variable indices.
func (r *Result) GetGrp(dataset int) ([][]int, error) {
	s, err := r.structure(dataset)
	if err != nil {
		return nil, err
	}
	out := make([][]int, len(s.Groups))
	for g, members := range s.Groups {
		out[g] = append([]int(nil), members...)
	}
	return out, nil
}

// GroupNames returns the selected groups of a dataset as variable names.
func (r *Result) GroupNames(dataset int) ([][]string, error) {
	s, err := r.structure(dataset)
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(s.Groups))
	for g, members := range s.Groups {
		names := make([]string, len(members))
		for k, j := range members {
			names[k] = variableName(s, j)
		}
		out[g] = names
	}
	return out, nil
}

func variableName(s *Structure, j int) string {
	if j < len(s.Variables) {
		return s.Variables[j]
	}
	return fmt.Sprintf("V%d", j+1)
}

// GetSignificance returns every term with its coefficient, p-value and
// significance (1 - p for selected terms, 0 otherwise).
func (r *Result) GetSignificance() []Term {
	return append([]Term(nil), r.Terms...)
}

// Selected returns the terms with a nonzero coefficient.
func (r *Result) Selected() []Term {
	var out []Term
	for _, t := range r.Terms {
		if t.Coefficient != 0 {
			out = append(out, t)
		}
	}
	return out
}

// InteractionMatrix returns the p_a x p_b matrix whose entry (i, j) sums the
// coefficients of the interactions between groups containing variable i of
// dataset a and variable j of dataset b.
func (r *Result) InteractionMatrix(a, b int) (*mat.Dense, error) {
	sa, err := r.structure(a)
	if err != nil {
		return nil, err
	}
	sb, err := r.structure(b)
	if err != nil {
		return nil, err
	}
	if a == b {
		return nil, ErrSameDataset
	}

	pa, pb := sa.Hierarchy.Leaves, sb.Hierarchy.Leaves
	out := mat.NewDense(pa, pb, nil)
	for _, t := range r.Terms {
		if t.Kind != Interaction || t.Coefficient == 0 {
			continue
		}
		var ga, gb []int
		switch {
		case t.DatasetA == a && t.DatasetB == b:
			ga, gb = sa.Groups[t.GroupA], sb.Groups[t.GroupB]
		case t.DatasetA == b && t.DatasetB == a:
			ga, gb = sa.Groups[t.GroupB], sb.Groups[t.GroupA]
		default:
			continue
		}
		for _, i := range ga {
			for _, j := range gb {
				out.Set(i, j, out.At(i, j)+t.Coefficient)
			}
		}
	}
	return out, nil
}

// Predict returns fitted responses for new predictor matrices, one per
// dataset, with the same columns as the training data.
func (r *Result) Predict(datasets []mat.Matrix) ([]float64, error) {
	if len(datasets) != len(r.Structures) {
		return nil, fmt.Errorf("%w: got %d matrices for %d datasets", ErrPredictorMismatch, len(datasets), len(r.Structures))
	}
	n := -1
	compressed := make([]*mat.Dense, len(datasets))
	centers := make([][]float64, len(datasets))
	for i, X := range datasets {
		s := r.Structures[i]
		rows, cols := X.Dims()
		if cols != s.Hierarchy.Leaves {
			return nil, fmt.Errorf("%w: dataset %d has %d columns, expected %d", ErrPredictorMismatch, i, cols, s.Hierarchy.Leaves)
		}
		if n >= 0 && rows != n {
			return nil, fmt.Errorf("%w: row counts differ", ErrPredictorMismatch)
		}
		n = rows
		Z, err := s.compress(X)
		if err != nil {
			return nil, err
		}
		compressed[i] = Z
		centers[i] = s.Centers
	}

	Z, _ := assemble(compressed, centers, r.MainEffects)
	out := make([]float64, n)
	for i := range out {
		v := r.Intercept
		for t, term := range r.Terms {
			if term.Coefficient != 0 {
				v += term.Coefficient * Z.At(i, t)
			}
		}
		out[i] = v
	}
	return out, nil
}
