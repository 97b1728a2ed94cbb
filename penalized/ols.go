package penalized

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// maxCondition bounds the condition number of Z'Z accepted by OLS.
const maxCondition = 1e12

// OLSFit is an ordinary least squares fit with an intercept.
type OLSFit struct {
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
	StdErrors    []float64 `json:"std_errors"`
	TStats       []float64 `json:"t_stats"`
	PValues      []float64 `json:"p_values"`
	RSS          float64   `json:"rss"`
	DF           int       `json:"df"`
}

// Significance returns 1 - p for every coefficient.
func (f *OLSFit) Significance() []float64 {
	out := make([]float64, len(f.PValues))
	for i, p := range f.PValues {
		out[i] = 1 - p
	}
	return out
}

// OLS regresses y on the columns of Z plus an intercept and reports
// two-sided t-test p-values for the slopes.
func OLS(Z mat.Matrix, y []float64) (*OLSFit, error) {
	if Z == nil {
		return nil, ErrEmptyDesign
	}
	n, q := Z.Dims()
	if n == 0 {
		return nil, ErrEmptyDesign
	}
	if len(y) != n {
		return nil, fmt.Errorf("%w: %d rows, %d responses", ErrDimensionMismatch, n, len(y))
	}
	if !allFinite(y) {
		return nil, fmt.Errorf("%w: response", ErrNonFinite)
	}
	df := n - q - 1
	if df <= 0 {
		return nil, fmt.Errorf("%w: %d observations, %d parameters", ErrSaturated, n, q+1)
	}

	A := mat.NewDense(n, q+1, nil)
	for i := 0; i < n; i++ {
		A.Set(i, 0, 1)
		for j := 0; j < q; j++ {
			v := Z.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: column %d", ErrNonFinite, j)
			}
			A.Set(i, j+1, v)
		}
	}

	var gram mat.SymDense
	gram.SymOuterK(1, A.T())

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return nil, ErrSingular
	}
	if c := chol.Cond(); math.IsInf(c, 0) || c > maxCondition {
		return nil, fmt.Errorf("%w: condition number %.3g", ErrSingular, c)
	}

	var aty mat.VecDense
	aty.MulVec(A.T(), mat.NewVecDense(n, append([]float64(nil), y...)))

	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &aty); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	var fitted mat.VecDense
	fitted.MulVec(A, &beta)
	var rss float64
	for i := 0; i < n; i++ {
		r := y[i] - fitted.AtVec(i)
		rss += r * r
	}
	sigma2 := rss / float64(df)

	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	fit := &OLSFit{
		Intercept:    beta.AtVec(0),
		Coefficients: make([]float64, q),
		StdErrors:    make([]float64, q),
		TStats:       make([]float64, q),
		PValues:      make([]float64, q),
		RSS:          rss,
		DF:           df,
	}
	for j := 0; j < q; j++ {
		b := beta.AtVec(j + 1)
		se := math.Sqrt(sigma2 * inv.At(j+1, j+1))
		fit.Coefficients[j] = b
		fit.StdErrors[j] = se

		switch {
		case se > 0:
			t := b / se
			fit.TStats[j] = t
			fit.PValues[j] = math.Min(1, 2*tdist.Survival(math.Abs(t)))
		case b != 0:
			// exact fit
			fit.TStats[j] = math.Inf(1)
			fit.PValues[j] = 0
		default:
			fit.PValues[j] = 1
		}
	}
	return fit, nil
}
