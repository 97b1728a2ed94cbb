package penalized

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Common errors for penalized regression
var (
	ErrEmptyDesign        = errors.New("design matrix is empty")
	ErrDimensionMismatch  = errors.New("response length does not match design rows")
	ErrNonFinite          = errors.New("design or response contains non-finite values")
	ErrInvalidFolds       = errors.New("number of folds must be at least 2")
	ErrTooFewObservations = errors.New("fewer observations than folds")
	ErrPenaltyFactors     = errors.New("penalty factor count does not match design columns")
	ErrInvalidGroups      = errors.New("groups must partition the design columns")
	ErrSaturated          = errors.New("no residual degrees of freedom")
	ErrSingular           = errors.New("design matrix is singular")
	ErrUnknownChoice      = errors.New("unknown lambda choice")
)

// design is a column-major standardized copy of a design matrix.
type design struct {
	n, p   int
	cols   [][]float64
	means  []float64
	scales []float64
	y      []float64
	yMean  float64
}

// newDesign centers y, centers the columns of X and scales them to unit
// population variance. Zero-variance columns keep scale 0 and stay at zero.
func newDesign(X mat.Matrix, y []float64) (*design, error) {
	if X == nil {
		return nil, ErrEmptyDesign
	}
	n, p := X.Dims()
	if n == 0 {
		return nil, ErrEmptyDesign
	}
	if len(y) != n {
		return nil, fmt.Errorf("%w: %d rows, %d responses", ErrDimensionMismatch, n, len(y))
	}

	d := &design{
		n:      n,
		p:      p,
		cols:   make([][]float64, p),
		means:  make([]float64, p),
		scales: make([]float64, p),
		y:      make([]float64, n),
	}

	copy(d.y, y)
	if !allFinite(d.y) {
		return nil, fmt.Errorf("%w: response", ErrNonFinite)
	}
	d.yMean = stat.Mean(d.y, nil)
	floats.AddConst(-d.yMean, d.y)

	for j := 0; j < p; j++ {
		c := mat.Col(nil, j, X)
		if !allFinite(c) {
			return nil, fmt.Errorf("%w: column %d", ErrNonFinite, j)
		}
		mean, sd := stat.PopMeanStdDev(c, nil)
		floats.AddConst(-mean, c)
		if sd > 1e-12*math.Max(1, math.Abs(mean)) {
			floats.Scale(1/sd, c)
		} else {
			sd = 0
			for i := range c {
				c[i] = 0
			}
		}
		d.cols[j] = c
		d.means[j] = mean
		d.scales[j] = sd
	}
	return d, nil
}

// unscale converts standardized coefficients to the original scale and
// returns them with the intercept.
func (d *design) unscale(beta []float64) ([]float64, float64) {
	out := make([]float64, d.p)
	intercept := d.yMean
	for j, b := range beta {
		if b == 0 || d.scales[j] == 0 {
			continue
		}
		out[j] = b / d.scales[j]
		intercept -= out[j] * d.means[j]
	}
	return out, intercept
}

func allFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// rows returns the sub-matrix of X made of the given rows.
func rows(X mat.Matrix, idx []int) *mat.Dense {
	_, p := X.Dims()
	out := mat.NewDense(len(idx), p, nil)
	for r, i := range idx {
		for j := 0; j < p; j++ {
			out.Set(r, j, X.At(i, j))
		}
	}
	return out
}

func pick(y []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for r, i := range idx {
		out[r] = y[i]
	}
	return out
}
