package engine

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/VanDung-dev/Sicomore-Engine/hierarchy"
	"github.com/VanDung-dev/Sicomore-Engine/penalized"
)

// LevelConfig holds configuration for a hierarchical level search.
type LevelConfig struct {
	// Compression applied to every group
	Compression Compression `yaml:"compression" json:"compression"`

	// Choice picks lambda from each level's CV curve
	Choice penalized.Choice `yaml:"choice" json:"choice"`

	// CV configures the cross-validation shared by all levels
	CV penalized.CVConfig `yaml:"cv" json:"cv"`

	// MaxLevels bounds the number of candidate levels; 0 evaluates every level
	MaxLevels int `yaml:"max_levels" json:"max_levels"`
}

// DefaultLevelConfig returns a LevelConfig with mean compression, lambda.min
// and 10-fold cross-validation over at most 50 levels.
func DefaultLevelConfig() LevelConfig {
	return LevelConfig{
		Compression: CompressMean,
		Choice:      penalized.LambdaMin,
		CV:          penalized.DefaultCVConfig(),
		MaxLevels:   50,
	}
}

// LevelCurve is the cross-validation curve of one level.
type LevelCurve struct {
	Level   int       `json:"level"`
	Lambdas []float64 `json:"lambdas"`
	CVM     []float64 `json:"cvm"`
	CVSD    []float64 `json:"cvsd"`
	Lambda  float64   `json:"lambda"`
	Error   float64   `json:"error"`
}

// LevelResult is the outcome of a level search.
type LevelResult struct {
	Levels       []int        `json:"levels"`
	CVError      []float64    `json:"cv_error"`
	Curves       []LevelCurve `json:"curves"`
	Level        int          `json:"level"`
	Groups       [][]int      `json:"groups"`
	Coefficients []float64    `json:"coefficients"`
	Intercept    float64      `json:"intercept"`
	Lambda       float64      `json:"lambda"`
	Selected     []int        `json:"selected"`

	// Compressed holds the compressed groups at the best level
	Compressed *mat.Dense `json:"-"`
}

type levelFit struct {
	groups     [][]int
	compressed *mat.Dense
	cv         *penalized.CVResult
}

// GetHierLevel searches the levels of d for the cut whose compressed groups
// best predict y under a cross-validated lasso. Ties go to the coarser level.
func (e *Engine) GetHierLevel(ctx context.Context, X mat.Matrix, y []float64, d *hierarchy.Dendrogram, cfg LevelConfig) (*LevelResult, error) {
	if X == nil || d == nil {
		return nil, fmt.Errorf("%w: missing predictors or hierarchy", ErrInvalidInput)
	}
	n, p := X.Dims()
	if d.Leaves != p {
		return nil, fmt.Errorf("%w: hierarchy has %d leaves, matrix has %d columns", ErrInvalidInput, d.Leaves, p)
	}
	if len(y) != n {
		return nil, fmt.Errorf("%w: %d rows, %d responses", ErrInvalidInput, n, len(y))
	}
	if cfg.Choice == "" {
		cfg.Choice = penalized.LambdaMin
	}
	if cfg.CV.Folds == 0 && cfg.CV.FoldIDs == nil {
		cfg.CV.Folds = penalized.DefaultCVConfig().Folds
	}

	cv := cfg.CV
	if cv.FoldIDs == nil {
		if cv.Folds < 2 || n < cv.Folds {
			return nil, fmt.Errorf("%w: %d observations, %d folds", ErrInvalidInput, n, cv.Folds)
		}
		cv.FoldIDs = penalized.FoldAssignment(n, cv.Folds, cv.Seed)
	}

	levels := d.CandidateLevels(cfg.MaxLevels)
	tasks := make([]*Task, len(levels))
	for i, k := range levels {
		k := k
		tasks[i] = NewTask(fmt.Sprintf("level-%d", k), func(ctx context.Context) (interface{}, error) {
			groups, err := d.Groups(k)
			if err != nil {
				return nil, err
			}
			Z, err := Compress(X, groups, cfg.Compression)
			if err != nil {
				return nil, err
			}
			res, err := penalized.CrossValidate(ctx, penalized.NewLasso(), Z, y, cv)
			if err != nil {
				return nil, fmt.Errorf("level %d: %w", k, err)
			}
			return &levelFit{groups: groups, compressed: Z, cv: res}, nil
		})
	}

	results, err := e.pool.RunBatch(ctx, tasks)
	if err != nil {
		return nil, err
	}

	out := &LevelResult{
		Levels:  levels,
		CVError: make([]float64, len(levels)),
		Curves:  make([]LevelCurve, len(levels)),
	}
	best := -1
	fits := make([]*levelFit, len(levels))
	for i, r := range results {
		if r.Error != nil {
			return nil, r.Error
		}
		fit := r.Data.(*levelFit)
		fits[i] = fit
		errAt := fit.cv.Error(cfg.Choice)
		out.CVError[i] = errAt
		out.Curves[i] = LevelCurve{
			Level:   levels[i],
			Lambdas: fit.cv.Lambdas,
			CVM:     fit.cv.CVM,
			CVSD:    fit.cv.CVSD,
			Lambda:  fit.cv.Lambda(cfg.Choice),
			Error:   errAt,
		}
		if math.IsNaN(errAt) {
			continue
		}
		if best < 0 || errAt < out.CVError[best] {
			best = i
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("%w: no level produced a finite cross-validation error", ErrFitFailed)
	}

	fit := fits[best]
	coef, intercept := fit.cv.Coefficients(cfg.Choice)
	out.Level = levels[best]
	out.Groups = fit.groups
	out.Coefficients = coef
	out.Intercept = intercept
	out.Lambda = fit.cv.Lambda(cfg.Choice)
	out.Compressed = fit.compressed
	for g, b := range coef {
		if b != 0 {
			out.Selected = append(out.Selected, g)
		}
	}

	e.logger.Debug("Level search finished",
		zap.Int("variables", p),
		zap.Int("levels", len(levels)),
		zap.Int("level", out.Level),
		zap.Int("selected", len(out.Selected)),
		zap.Float64("cv_error", out.CVError[best]),
	)
	e.observe(len(levels))
	return out, nil
}

// GetHierLevel runs a level search on a temporary engine.
func GetHierLevel(ctx context.Context, X mat.Matrix, y []float64, d *hierarchy.Dendrogram, cfg LevelConfig) (*LevelResult, error) {
	e := New(0, nil)
	defer e.Close()
	return e.GetHierLevel(ctx, X, y, d, cfg)
}
