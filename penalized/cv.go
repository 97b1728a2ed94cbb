package penalized

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// CVConfig holds configuration for K-fold cross-validation.
type CVConfig struct {
	// Folds is the number of folds K
	Folds int `yaml:"folds" json:"folds"`

	// Seed drives the fold assignment
	Seed int64 `yaml:"seed" json:"seed"`

	// NLambda is the length of the generated lambda sequence
	NLambda int `yaml:"nlambda" json:"nlambda"`

	// LambdaRatio is lambda_min / lambda_max; 0 picks it from the design shape
	LambdaRatio float64 `yaml:"lambda_ratio" json:"lambda_ratio"`

	// Lambdas overrides the generated sequence when set
	Lambdas []float64 `yaml:"-" json:"lambdas,omitempty"`

	// FoldIDs overrides the seeded fold assignment when set
	FoldIDs []int `yaml:"-" json:"fold_ids,omitempty"`

	// Parallelism bounds concurrent fold fits; 0 means one goroutine per fold
	Parallelism int `yaml:"parallelism" json:"parallelism"`
}

// DefaultCVConfig returns a CVConfig with 10 folds and 100 lambdas.
func DefaultCVConfig() CVConfig {
	return CVConfig{
		Folds:   10,
		Seed:    1,
		NLambda: DefaultNLambda,
	}
}

// CVResult is a cross-validated regularization path.
type CVResult struct {
	Lambdas  []float64 `json:"lambdas"`
	CVM      []float64 `json:"cvm"`
	CVSD     []float64 `json:"cvsd"`
	NonZero  []int     `json:"nonzero"`
	Folds    []int     `json:"folds"`
	IndexMin int       `json:"index_min"`
	Index1SE int       `json:"index_1se"`

	// Path is the fit on the full data
	Path *Path `json:"path"`
}

// Index returns the path index chosen by c.
func (r *CVResult) Index(c Choice) int {
	if c == LambdaOneSE {
		return r.Index1SE
	}
	return r.IndexMin
}

// Lambda returns the lambda chosen by c.
func (r *CVResult) Lambda(c Choice) float64 {
	return r.Lambdas[r.Index(c)]
}

// Error returns the cross-validated error at the lambda chosen by c.
func (r *CVResult) Error(c Choice) float64 {
	return r.CVM[r.Index(c)]
}

// Coefficients returns the full-data coefficients and intercept at the
// lambda chosen by c.
func (r *CVResult) Coefficients(c Choice) ([]float64, float64) {
	i := r.Index(c)
	return r.Path.Coefficients[i], r.Path.Intercepts[i]
}

// FoldAssignment assigns n observations to k folds of near-equal size from a
// seeded permutation.
func FoldAssignment(n, k int, seed int64) []int {
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(n)
	folds := make([]int, n)
	for i, idx := range perm {
		folds[idx] = i % k
	}
	return folds
}

// CrossValidate fits fitter along a lambda path and estimates the
// out-of-fold mean squared error at every lambda.
func CrossValidate(ctx context.Context, fitter PathFitter, X mat.Matrix, y []float64, cfg CVConfig) (*CVResult, error) {
	if X == nil {
		return nil, ErrEmptyDesign
	}
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return nil, ErrEmptyDesign
	}
	if len(y) != n {
		return nil, fmt.Errorf("%w: %d rows, %d responses", ErrDimensionMismatch, n, len(y))
	}

	folds := cfg.FoldIDs
	k := cfg.Folds
	if folds != nil {
		if len(folds) != n {
			return nil, fmt.Errorf("%w: %d fold ids for %d rows", ErrInvalidFolds, len(folds), n)
		}
		k = 0
		for _, f := range folds {
			if f < 0 {
				return nil, fmt.Errorf("%w: negative fold id", ErrInvalidFolds)
			}
			if f+1 > k {
				k = f + 1
			}
		}
	}
	if k == 0 {
		k = DefaultCVConfig().Folds
	}
	if k < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFolds, k)
	}
	if n < k {
		return nil, fmt.Errorf("%w: %d observations, %d folds", ErrTooFewObservations, n, k)
	}
	if folds == nil {
		folds = FoldAssignment(n, k, cfg.Seed)
	}

	lambdas := cfg.Lambdas
	if lambdas == nil {
		lmax, err := fitter.LambdaMax(X, y)
		if err != nil {
			return nil, fmt.Errorf("failed to compute lambda max: %w", err)
		}
		lambdas = LambdaSequence(lmax, n, p, cfg.NLambda, cfg.LambdaRatio)
	}

	full, err := fitter.FitPath(ctx, X, y, lambdas)
	if err != nil {
		return nil, fmt.Errorf("failed to fit full path: %w", err)
	}

	// mse[f][l] is the test error of fold f at lambda l
	mse := make([][]float64, k)
	sizes := make([]int, k)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Parallelism > 0 {
		g.SetLimit(cfg.Parallelism)
	}
	for f := 0; f < k; f++ {
		f := f
		var train, test []int
		for i, id := range folds {
			if id == f {
				test = append(test, i)
			} else {
				train = append(train, i)
			}
		}
		sizes[f] = len(test)
		if len(test) == 0 {
			continue
		}

		g.Go(func() error {
			Xtest := rows(X, test)
			ytest := pick(y, test)
			path, err := fitter.FitPath(gctx, rows(X, train), pick(y, train), lambdas)
			if err != nil {
				return fmt.Errorf("fold %d: %w", f, err)
			}
			errs := make([]float64, len(lambdas))
			for l := range lambdas {
				pred := path.Predict(Xtest, l)
				var ss float64
				for i, v := range pred {
					r := ytest[i] - v
					ss += r * r
				}
				errs[l] = ss / float64(len(test))
			}
			mse[f] = errs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &CVResult{
		Lambdas: append([]float64(nil), lambdas...),
		CVM:     make([]float64, len(lambdas)),
		CVSD:    make([]float64, len(lambdas)),
		NonZero: make([]int, len(lambdas)),
		Folds:   folds,
		Path:    full,
	}
	used := 0
	for f := 0; f < k; f++ {
		if sizes[f] > 0 {
			used++
		}
	}
	for l := range lambdas {
		var sum float64
		for f := 0; f < k; f++ {
			if sizes[f] > 0 {
				sum += float64(sizes[f]) * mse[f][l]
			}
		}
		mean := sum / float64(n)

		var dev float64
		for f := 0; f < k; f++ {
			if sizes[f] > 0 {
				r := mse[f][l] - mean
				dev += float64(sizes[f]) * r * r
			}
		}
		sd := 0.0
		if used > 1 {
			sd = math.Sqrt(dev / float64(n) / float64(used-1))
		}

		res.CVM[l] = mean
		res.CVSD[l] = sd
		res.NonZero[l] = full.DF(l)
	}

	res.IndexMin = 0
	for l, v := range res.CVM {
		if v < res.CVM[res.IndexMin] {
			res.IndexMin = l
		}
	}
	threshold := res.CVM[res.IndexMin] + res.CVSD[res.IndexMin]
	res.Index1SE = res.IndexMin
	for l := 0; l <= res.IndexMin; l++ {
		if res.CVM[l] <= threshold {
			res.Index1SE = l
			break
		}
	}
	return res, nil
}
