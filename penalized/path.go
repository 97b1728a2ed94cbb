package penalized

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Default path settings
const (
	DefaultNLambda = 100
	DefaultTol     = 1e-7
	DefaultMaxIter = 100000
)

// PathFitter fits a regularization path for a decreasing lambda sequence.
type PathFitter interface {
	// LambdaMax returns the smallest lambda at which every penalized
	// coefficient is zero.
	LambdaMax(X mat.Matrix, y []float64) (float64, error)

	// FitPath fits the model at every lambda, using warm starts.
	FitPath(ctx context.Context, X mat.Matrix, y []float64, lambdas []float64) (*Path, error)
}

// Path is a fitted regularization path. Coefficients are on the scale of
// the original design columns.
type Path struct {
	Lambdas      []float64   `json:"lambdas"`
	Intercepts   []float64   `json:"intercepts"`
	Coefficients [][]float64 `json:"coefficients"`
	Iterations   []int       `json:"iterations"`
}

// Len returns the number of lambdas in the path.
func (p *Path) Len() int {
	return len(p.Lambdas)
}

// DF returns the number of nonzero coefficients at path index i.
func (p *Path) DF(i int) int {
	df := 0
	for _, b := range p.Coefficients[i] {
		if b != 0 {
			df++
		}
	}
	return df
}

// Predict returns fitted values for X at path index i.
func (p *Path) Predict(X mat.Matrix, i int) []float64 {
	n, cols := X.Dims()
	out := make([]float64, n)
	beta := p.Coefficients[i]
	row := make([]float64, cols)
	for r := 0; r < n; r++ {
		mat.Row(row, r, X)
		out[r] = p.Intercepts[i] + floats.Dot(row, beta)
	}
	return out
}

// LambdaSequence returns nlambda values spaced evenly on a log scale from
// lambdaMax down to ratio*lambdaMax. A ratio <= 0 selects 1e-4 when n > p and
// 1e-2 otherwise.
func LambdaSequence(lambdaMax float64, n, p, nlambda int, ratio float64) []float64 {
	if nlambda <= 0 {
		nlambda = DefaultNLambda
	}
	if ratio <= 0 {
		ratio = 1e-2
		if n > p {
			ratio = 1e-4
		}
	}
	if lambdaMax <= 0 || math.IsNaN(lambdaMax) || math.IsInf(lambdaMax, 0) {
		return []float64{0}
	}
	if nlambda == 1 {
		return []float64{lambdaMax}
	}

	out := make([]float64, nlambda)
	floats.LogSpan(out, lambdaMax*ratio, lambdaMax)
	// LogSpan is increasing
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	out[0] = lambdaMax
	return out
}

// Choice selects a lambda from a cross-validation curve.
type Choice string

const (
	// LambdaMin picks the lambda with the smallest cross-validated error.
	LambdaMin Choice = "lambda.min"
	// LambdaOneSE picks the largest lambda within one standard error of the minimum.
	LambdaOneSE Choice = "lambda.1se"
)

// ParseChoice converts a string into a Choice.
func ParseChoice(s string) (Choice, error) {
	switch Choice(s) {
	case LambdaMin, LambdaOneSE:
		return Choice(s), nil
	case "":
		return LambdaMin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChoice, s)
	}
}
