package penalized

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// GroupLasso minimizes
//
//	1/(2n) ||y - b0 - X b||^2 + lambda * sum_g w_g ||b_g||_2
//
// on standardized columns with accelerated proximal gradient steps.
type GroupLasso struct {
	// Groups partitions the design columns
	Groups [][]int

	// Weights are the per-group penalty weights; nil means sqrt(|g|)
	Weights []float64

	// Tol bounds the relative coefficient change between iterations
	Tol float64

	// MaxIter bounds the number of proximal steps per lambda
	MaxIter int
}

// NewGroupLasso returns a GroupLasso over groups with default weights.
func NewGroupLasso(groups [][]int) *GroupLasso {
	return &GroupLasso{Groups: groups, Tol: 1e-6, MaxIter: 5000}
}

func (g *GroupLasso) validate(p int) ([]float64, error) {
	if len(g.Groups) == 0 {
		return nil, fmt.Errorf("%w: no groups", ErrInvalidGroups)
	}
	seen := make([]bool, p)
	count := 0
	for gi, members := range g.Groups {
		if len(members) == 0 {
			return nil, fmt.Errorf("%w: group %d is empty", ErrInvalidGroups, gi)
		}
		for _, j := range members {
			if j < 0 || j >= p {
				return nil, fmt.Errorf("%w: column %d out of range", ErrInvalidGroups, j)
			}
			if seen[j] {
				return nil, fmt.Errorf("%w: column %d in two groups", ErrInvalidGroups, j)
			}
			seen[j] = true
			count++
		}
	}
	if count != p {
		return nil, fmt.Errorf("%w: %d of %d columns grouped", ErrInvalidGroups, count, p)
	}

	if g.Weights == nil {
		w := make([]float64, len(g.Groups))
		for gi, members := range g.Groups {
			w[gi] = math.Sqrt(float64(len(members)))
		}
		return w, nil
	}
	if len(g.Weights) != len(g.Groups) {
		return nil, fmt.Errorf("%w: %d weights for %d groups", ErrInvalidGroups, len(g.Weights), len(g.Groups))
	}
	for gi, v := range g.Weights {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: weight %d is %v", ErrInvalidGroups, gi, v)
		}
	}
	return g.Weights, nil
}

// LambdaMax implements PathFitter.
func (g *GroupLasso) LambdaMax(X mat.Matrix, y []float64) (float64, error) {
	d, err := newDesign(X, y)
	if err != nil {
		return 0, err
	}
	w, err := g.validate(d.p)
	if err != nil {
		return 0, err
	}
	return g.lambdaMax(d, w), nil
}

func (g *GroupLasso) lambdaMax(d *design, w []float64) float64 {
	var max float64
	for gi, members := range g.Groups {
		if w[gi] <= 0 {
			continue
		}
		var norm float64
		for _, j := range members {
			v := floats.Dot(d.cols[j], d.y)
			norm += v * v
		}
		if v := math.Sqrt(norm) / (float64(d.n) * w[gi]); v > max {
			max = v
		}
	}
	return max
}

// FitPath implements PathFitter.
func (g *GroupLasso) FitPath(ctx context.Context, X mat.Matrix, y []float64, lambdas []float64) (*Path, error) {
	d, err := newDesign(X, y)
	if err != nil {
		return nil, err
	}
	w, err := g.validate(d.p)
	if err != nil {
		return nil, err
	}

	tol := g.Tol
	if tol <= 0 {
		tol = 1e-6
	}
	maxIter := g.MaxIter
	if maxIter <= 0 {
		maxIter = 5000
	}

	n := float64(d.n)
	lipschitz := powerIteration(d) / n
	if lipschitz <= 0 {
		lipschitz = 1
	}
	step := 1 / lipschitz

	path := &Path{
		Lambdas:      append([]float64(nil), lambdas...),
		Intercepts:   make([]float64, len(lambdas)),
		Coefficients: make([][]float64, len(lambdas)),
		Iterations:   make([]int, len(lambdas)),
	}

	beta := make([]float64, d.p)
	prev := make([]float64, d.p)
	z := make([]float64, d.p)
	grad := make([]float64, d.p)
	resid := make([]float64, d.n)

	for l, lambda := range lambdas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		copy(z, beta)
		copy(prev, beta)
		t := 1.0
		iter := 0
		for iter < maxIter {
			iter++

			// gradient of the loss at z: -X'(y - Xz)/n
			copy(resid, d.y)
			for j, c := range d.cols {
				if z[j] != 0 {
					floats.AddScaled(resid, -z[j], c)
				}
			}
			for j, c := range d.cols {
				grad[j] = -floats.Dot(c, resid) / n
			}

			for gi, members := range g.Groups {
				var norm float64
				for _, j := range members {
					v := z[j] - step*grad[j]
					beta[j] = v
					norm += v * v
				}
				norm = math.Sqrt(norm)
				shrink := 0.0
				if norm > 0 {
					shrink = math.Max(0, 1-step*lambda*w[gi]/norm)
				}
				for _, j := range members {
					beta[j] *= shrink
				}
			}

			tNext := (1 + math.Sqrt(1+4*t*t)) / 2
			momentum := (t - 1) / tNext
			var change, size float64
			for j := range beta {
				diff := beta[j] - prev[j]
				z[j] = beta[j] + momentum*diff
				change += diff * diff
				size += beta[j] * beta[j]
			}
			copy(prev, beta)
			t = tNext

			if math.Sqrt(change) <= tol*math.Max(1, math.Sqrt(size)) {
				break
			}
		}

		coef, intercept := d.unscale(beta)
		path.Coefficients[l] = coef
		path.Intercepts[l] = intercept
		path.Iterations[l] = iter
	}
	return path, nil
}

// powerIteration estimates the largest eigenvalue of X'X for the
// standardized design.
func powerIteration(d *design) float64 {
	if d.p == 0 {
		return 0
	}
	v := make([]float64, d.p)
	for j := range v {
		v[j] = 1 / math.Sqrt(float64(d.p))
	}
	xv := make([]float64, d.n)
	next := make([]float64, d.p)

	var eig float64
	for iter := 0; iter < 200; iter++ {
		for i := range xv {
			xv[i] = 0
		}
		for j, c := range d.cols {
			floats.AddScaled(xv, v[j], c)
		}
		for j, c := range d.cols {
			next[j] = floats.Dot(c, xv)
		}
		norm := floats.Norm(next, 2)
		if norm == 0 {
			return 0
		}
		floats.Scale(1/norm, next)
		converged := math.Abs(norm-eig) <= 1e-10*norm
		eig = norm
		copy(v, next)
		if converged {
			break
		}
	}
	// guard against underestimating the step bound
	return eig * 1.01
}
