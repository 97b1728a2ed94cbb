package engine

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/VanDung-dev/Sicomore-Engine/hierarchy"
	"github.com/VanDung-dev/Sicomore-Engine/penalized"
)

// candidateNodes returns the clusters present at any candidate level.
func candidateNodes(d *hierarchy.Dendrogram, maxLevels int) ([]hierarchy.Node, error) {
	return d.Nodes(d.CandidateLevels(maxLevels))
}

// RhoWeights returns the penalty factor of each cluster: the mean height gap
// divided by the cluster's own gap, so clusters that persist over a long
// range of heights are penalized less.
func RhoWeights(nodes []hierarchy.Node) []float64 {
	gaps := make([]float64, len(nodes))
	for i, node := range nodes {
		gaps[i] = node.Gap
	}
	w := make([]float64, len(nodes))
	mean := floats.Sum(gaps) / float64(len(gaps))
	if mean <= 0 {
		for i := range w {
			w[i] = 1
		}
		return w
	}
	floor := 1e-3 * mean
	for i, g := range gaps {
		if g < floor {
			g = floor
		}
		w[i] = mean / g
	}
	return w
}

// selectRho fits one weighted lasso on the compressed candidate clusters.
func (e *Engine) selectRho(ctx context.Context, X mat.Matrix, y []float64, d *hierarchy.Dendrogram, compression Compression, cfg Config) (*Structure, error) {
	nodes, err := candidateNodes(d, cfg.MaxLevels)
	if err != nil {
		return nil, err
	}
	groups := nodeMembers(nodes)
	Z, err := Compress(X, groups, compression)
	if err != nil {
		return nil, err
	}

	weights := RhoWeights(nodes)
	lasso := penalized.NewLasso()
	lasso.PenaltyFactors = weights
	cv, err := penalized.CrossValidate(ctx, lasso, Z, y, cfg.CV)
	if err != nil {
		return nil, fmt.Errorf("%w: rho-sicomore: %v", ErrFitFailed, err)
	}
	e.observe(len(d.CandidateLevels(cfg.MaxLevels)))

	coef, _ := cv.Coefficients(cfg.Choice)
	var keep []int
	for k, b := range coef {
		if b != 0 {
			keep = append(keep, k)
		}
	}
	return multiLevelStructure(X, d, nodes, keep, weights, compression)
}

// selectMLGL fits a group lasso on the original variables duplicated once per
// candidate cluster.
func (e *Engine) selectMLGL(ctx context.Context, X mat.Matrix, y []float64, d *hierarchy.Dendrogram, compression Compression, cfg Config) (*Structure, error) {
	nodes, err := candidateNodes(d, cfg.MaxLevels)
	if err != nil {
		return nil, err
	}
	n, _ := X.Dims()

	width := 0
	for _, node := range nodes {
		width += len(node.Members)
	}
	expanded := mat.NewDense(n, width, nil)
	groups := make([][]int, len(nodes))
	col := 0
	for g, node := range nodes {
		for _, j := range node.Members {
			expanded.SetCol(col, mat.Col(nil, j, X))
			groups[g] = append(groups[g], col)
			col++
		}
	}

	gl := penalized.NewGroupLasso(groups)
	cv, err := penalized.CrossValidate(ctx, gl, expanded, y, cfg.CV)
	if err != nil {
		return nil, fmt.Errorf("%w: mlgl: %v", ErrFitFailed, err)
	}
	e.observe(len(d.CandidateLevels(cfg.MaxLevels)))

	coef, _ := cv.Coefficients(cfg.Choice)
	var keep []int
	for g, cols := range groups {
		for _, c := range cols {
			if coef[c] != 0 {
				keep = append(keep, g)
				break
			}
		}
	}
	return multiLevelStructure(X, d, nodes, keep, nil, compression)
}

// multiLevelStructure keeps the given candidate clusters, falling back to the
// root cluster when none is selected.
func multiLevelStructure(X mat.Matrix, d *hierarchy.Dendrogram, nodes []hierarchy.Node, keep []int, weights []float64, compression Compression) (*Structure, error) {
	if len(keep) == 0 {
		for k, node := range nodes {
			if node.ID == d.Root() {
				keep = []int{k}
				break
			}
		}
	}

	s := &Structure{}
	if len(keep) == 0 {
		root, err := d.Members(d.Root())
		if err != nil {
			return nil, err
		}
		s.Nodes = []int{d.Root()}
		s.Groups = [][]int{root}
	}
	for _, k := range keep {
		s.Nodes = append(s.Nodes, nodes[k].ID)
		s.Groups = append(s.Groups, nodes[k].Members)
		if weights != nil {
			s.Weights = append(s.Weights, weights[k])
		}
	}

	Z, err := Compress(X, s.Groups, compression)
	if err != nil {
		return nil, err
	}
	s.Compressed = Z
	return s, nil
}

func nodeMembers(nodes []hierarchy.Node) [][]int {
	out := make([][]int, len(nodes))
	for i, node := range nodes {
		out[i] = node.Members
	}
	return out
}
