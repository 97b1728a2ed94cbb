package engine

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Compression reduces a group of variables to one representative column.
type Compression string

const (
	// CompressMean takes the row mean of the group (default)
	CompressMean Compression = "mean"
	// CompressMedian takes the row median of the group
	CompressMedian Compression = "median"
	// CompressPC1 takes the first principal component score of the group
	CompressPC1 Compression = "pc1"
)

// ParseCompression converts a string into a Compression.
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case CompressMean, CompressMedian, CompressPC1:
		return Compression(s), nil
	case "":
		return CompressMean, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCompression, s)
	}
}

// Compress returns the n x len(groups) matrix of compressed groups.
func Compress(X mat.Matrix, groups [][]int, c Compression) (*mat.Dense, error) {
	if c == "" {
		c = CompressMean
	}
	if _, err := ParseCompression(string(c)); err != nil {
		return nil, err
	}
	n, p := X.Dims()
	out := mat.NewDense(n, len(groups), nil)
	for g, members := range groups {
		if len(members) == 0 {
			return nil, fmt.Errorf("%w: group %d is empty", ErrInvalidInput, g)
		}
		for _, j := range members {
			if j < 0 || j >= p {
				return nil, fmt.Errorf("%w: variable %d out of range", ErrInvalidInput, j)
			}
		}
		out.SetCol(g, compressGroup(X, members, c))
	}
	return out, nil
}

func compressGroup(X mat.Matrix, members []int, c Compression) []float64 {
	n, _ := X.Dims()
	if len(members) == 1 {
		return mat.Col(nil, members[0], X)
	}

	switch c {
	case CompressMedian:
		out := make([]float64, n)
		row := make([]float64, len(members))
		for i := 0; i < n; i++ {
			for k, j := range members {
				row[k] = X.At(i, j)
			}
			sort.Float64s(row)
			mid := len(row) / 2
			if len(row)%2 == 1 {
				out[i] = row[mid]
			} else {
				out[i] = (row[mid-1] + row[mid]) / 2
			}
		}
		return out
	case CompressPC1:
		return firstComponent(X, members)
	default:
		return rowMeans(X, members)
	}
}

func rowMeans(X mat.Matrix, members []int) []float64 {
	n, _ := X.Dims()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var s float64
		for _, j := range members {
			s += X.At(i, j)
		}
		out[i] = s / float64(len(members))
	}
	return out
}

// Loading projects rows of a group onto a first principal direction learned
// on training data: score = sum_k (x_k - Means[k]) * Weights[k].
type Loading struct {
	Means   []float64 `json:"means"`
	Weights []float64 `json:"weights"`
}

// Loadings learns the pc1 loading of every group of X.
func Loadings(X mat.Matrix, groups [][]int) []Loading {
	out := make([]Loading, len(groups))
	for g, members := range groups {
		out[g] = firstLoading(X, members)
	}
	return out
}

// Project compresses rows of X with loadings learned by Loadings, so each
// row's score does not depend on the other rows.
func Project(X mat.Matrix, groups [][]int, loadings []Loading) (*mat.Dense, error) {
	if len(loadings) != len(groups) {
		return nil, fmt.Errorf("%w: %d loadings for %d groups", ErrInvalidInput, len(loadings), len(groups))
	}
	n, p := X.Dims()
	out := mat.NewDense(n, len(groups), nil)
	for g, members := range groups {
		l := loadings[g]
		if len(l.Means) != len(members) || len(l.Weights) != len(members) {
			return nil, fmt.Errorf("%w: loading %d does not match its group", ErrInvalidInput, g)
		}
		for _, j := range members {
			if j < 0 || j >= p {
				return nil, fmt.Errorf("%w: variable %d out of range", ErrInvalidInput, j)
			}
		}
		for i := 0; i < n; i++ {
			var v float64
			for k, j := range members {
				v += (X.At(i, j) - l.Means[k]) * l.Weights[k]
			}
			out.Set(i, g, v)
		}
	}
	return out, nil
}

// firstLoading returns the first principal direction of the centered group,
// signed so that scores correlate positively with the row mean. Single
// variables and failed decompositions fall back to the row mean.
func firstLoading(X mat.Matrix, members []int) Loading {
	n, _ := X.Dims()
	m := len(members)
	l := Loading{Means: make([]float64, m), Weights: make([]float64, m)}
	if m == 1 {
		l.Weights[0] = 1
		return l
	}

	sub := mat.NewDense(n, m, nil)
	for k, j := range members {
		col := mat.Col(nil, j, X)
		l.Means[k] = stat.Mean(col, nil)
		floats.AddConst(-l.Means[k], col)
		sub.SetCol(k, col)
	}

	var svd mat.SVD
	if ok := svd.Factorize(sub, mat.SVDThin); !ok {
		for k := range l.Weights {
			l.Means[k] = 0
			l.Weights[k] = 1 / float64(m)
		}
		return l
	}
	var v mat.Dense
	svd.VTo(&v)
	mat.Col(l.Weights, 0, &v)

	scores := make([]float64, n)
	mat.NewVecDense(n, scores).MulVec(sub, mat.NewVecDense(m, l.Weights))
	if stat.Correlation(scores, rowMeans(X, members), nil) < 0 {
		floats.Scale(-1, l.Weights)
	}
	return l
}

// firstComponent returns the scores of the group on its first principal
// direction.
func firstComponent(X mat.Matrix, members []int) []float64 {
	l := firstLoading(X, members)
	n, _ := X.Dims()
	scores := make([]float64, n)
	for i := range scores {
		for k, j := range members {
			scores[i] += (X.At(i, j) - l.Means[k]) * l.Weights[k]
		}
	}
	return scores
}
