package hierarchy

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Common errors for hierarchy construction
var (
	ErrEmptyMatrix        = errors.New("predictor matrix is empty")
	ErrTooFewObservations = errors.New("at least two observations are required")
	ErrNonFinite          = errors.New("predictor matrix contains non-finite values")
	ErrLevelOutOfRange    = errors.New("level out of range")
	ErrInvalidMerges      = errors.New("invalid merge list")
	ErrUnknownDistance    = errors.New("unknown distance")
	ErrUnknownLinkage     = errors.New("unknown linkage")
	ErrNodeOutOfRange     = errors.New("node out of range")
	ErrLabelCountMismatch = errors.New("label count does not match number of variables")
)

// Distance selects how dissimilarity between two variables is measured.
type Distance string

const (
	// Euclidean is the euclidean distance between (optionally standardized) columns.
	Euclidean Distance = "euclidean"
	// Correlation is 1 - |r| where r is the Pearson correlation of two columns.
	Correlation Distance = "correlation"
)

// ParseDistance converts a string into a Distance.
func ParseDistance(s string) (Distance, error) {
	switch Distance(s) {
	case Euclidean, Correlation:
		return Distance(s), nil
	case "":
		return Euclidean, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDistance, s)
	}
}

// columns copies the columns of X, checking that every value is finite.
func columns(X mat.Matrix) ([][]float64, error) {
	if X == nil {
		return nil, ErrEmptyMatrix
	}
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return nil, ErrEmptyMatrix
	}
	cols := make([][]float64, p)
	for j := 0; j < p; j++ {
		c := mat.Col(nil, j, X)
		for _, v := range c {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: column %d", ErrNonFinite, j)
			}
		}
		cols[j] = c
	}
	return cols, nil
}

// standardize centers each column and scales it to unit population variance.
// Constant columns are only centered.
func standardize(cols [][]float64) {
	for _, c := range cols {
		mean, sd := stat.PopMeanStdDev(c, nil)
		floats.AddConst(-mean, c)
		if sd > 0 {
			floats.Scale(1/sd, c)
		}
	}
}

// distanceMatrix computes the full p x p dissimilarity matrix between columns.
func distanceMatrix(cols [][]float64, dist Distance) ([][]float64, error) {
	p := len(cols)
	d := make([][]float64, p)
	for i := range d {
		d[i] = make([]float64, p)
	}

	var sds []float64
	if dist == Correlation {
		sds = make([]float64, p)
		for j, c := range cols {
			_, sds[j] = stat.PopMeanStdDev(c, nil)
		}
	}

	for i := 0; i < p; i++ {
		for j := i + 1; j < p; j++ {
			var v float64
			switch dist {
			case Euclidean:
				v = floats.Distance(cols[i], cols[j], 2)
			case Correlation:
				if sds[i] == 0 || sds[j] == 0 {
					v = 1
				} else {
					v = 1 - math.Abs(stat.Correlation(cols[i], cols[j], nil))
					if v < 0 {
						v = 0
					}
				}
			default:
				return nil, fmt.Errorf("%w: %q", ErrUnknownDistance, dist)
			}
			d[i][j] = v
			d[j][i] = v
		}
	}
	return d, nil
}
