package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/VanDung-dev/Sicomore-Engine/hierarchy"
	"github.com/VanDung-dev/Sicomore-Engine/penalized"
)

// Selection is the procedure used to choose each dataset's groups.
type Selection string

const (
	// SelectSicomore keeps the nonzero groups of the best level
	SelectSicomore Selection = "sicomore"
	// SelectRhoSicomore runs one lasso over all candidate clusters, penalizing
	// short-lived clusters more
	SelectRhoSicomore Selection = "rho-sicomore"
	// SelectMLGL runs a multi-layer group lasso over all candidate clusters
	SelectMLGL Selection = "mlgl"
	// SelectHCAR keeps every group of the best level
	SelectHCAR Selection = "hcar"
)

// ParseSelection converts a string into a Selection.
func ParseSelection(s string) (Selection, error) {
	switch Selection(s) {
	case SelectSicomore, SelectRhoSicomore, SelectMLGL, SelectHCAR:
		return Selection(s), nil
	case "":
		return SelectSicomore, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSelection, s)
	}
}

// Dataset is one predictor matrix with its optional hierarchy.
type Dataset struct {
	Name string
	X    mat.Matrix

	// Hierarchy is built from X when nil
	Hierarchy *hierarchy.Dendrogram

	// Compression overrides Config.Compression when set
	Compression Compression

	VariableNames []string
}

// Config holds configuration for a sicomore fit.
type Config struct {
	Selection   Selection          `yaml:"selection" json:"selection"`
	Choice      penalized.Choice   `yaml:"choice" json:"choice"`
	Compression Compression        `yaml:"compression" json:"compression"`
	Hierarchy   hierarchy.Config   `yaml:"hierarchy" json:"hierarchy"`
	CV          penalized.CVConfig `yaml:"cv" json:"cv"`

	// MaxLevels bounds the candidate levels of each hierarchy
	MaxLevels int `yaml:"max_levels" json:"max_levels"`

	// MainEffects adds the compressed groups themselves to the joint model;
	// when false only interactions are fitted
	MainEffects bool `yaml:"main_effects" json:"main_effects"`
}

// DefaultConfig returns the default sicomore configuration.
func DefaultConfig() Config {
	return Config{
		Selection:   SelectSicomore,
		Choice:      penalized.LambdaMin,
		Compression: CompressMean,
		Hierarchy:   hierarchy.DefaultConfig(),
		CV:          penalized.DefaultCVConfig(),
		MaxLevels:   50,
		MainEffects: true,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Selection == "" {
		c.Selection = def.Selection
	}
	if c.Choice == "" {
		c.Choice = def.Choice
	}
	if c.Compression == "" {
		c.Compression = def.Compression
	}
	if c.Hierarchy.Distance == "" {
		c.Hierarchy.Distance = def.Hierarchy.Distance
	}
	if c.Hierarchy.Linkage == "" {
		c.Hierarchy.Linkage = def.Hierarchy.Linkage
	}
	if c.CV.Folds == 0 && c.CV.FoldIDs == nil {
		c.CV.Folds = def.CV.Folds
	}
	return c
}

func (c Config) levelConfig(compression Compression) LevelConfig {
	return LevelConfig{
		Compression: compression,
		Choice:      c.Choice,
		CV:          c.CV,
		MaxLevels:   c.MaxLevels,
	}
}

// Sicomore fits main and interaction effects of compressed variable groups
// from one or more datasets to y.
func (e *Engine) Sicomore(ctx context.Context, y []float64, datasets []Dataset, cfg Config) (*Result, error) {
	start := time.Now()
	cfg = cfg.withDefaults()

	if err := e.validator.Validate(&Input{Y: y, Datasets: datasets, Config: cfg}); err != nil {
		return nil, err
	}
	if cfg.CV.FoldIDs == nil {
		cfg.CV.FoldIDs = penalized.FoldAssignment(len(y), cfg.CV.Folds, cfg.CV.Seed)
	}

	dendrograms, err := e.buildHierarchies(ctx, datasets, cfg.Hierarchy)
	if err != nil {
		return nil, err
	}

	structures := make([]*Structure, len(datasets))
	for i, ds := range datasets {
		s, err := e.selectStructure(ctx, ds, dendrograms[i], y, cfg)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", datasetName(ds, i), err)
		}
		s.Dataset = datasetName(ds, i)
		structures[i] = s
		e.logger.Debug("Dataset structure selected",
			zap.String("dataset", s.Dataset),
			zap.String("selection", string(cfg.Selection)),
			zap.Int("groups", len(s.Groups)),
		)
	}

	compressed := make([]*mat.Dense, len(structures))
	centers := make([][]float64, len(structures))
	for i, s := range structures {
		compressed[i] = s.Compressed
		centers[i] = s.Centers
	}
	Z, terms := assemble(compressed, centers, cfg.MainEffects)
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: joint model has no terms", ErrInvalidInput)
	}
	for t := range terms {
		terms[t].Name = termName(structures, terms[t])
	}

	cv, err := penalized.CrossValidate(ctx, penalized.NewLasso(), Z, y, cfg.CV)
	if err != nil {
		return nil, fmt.Errorf("%w: joint model: %v", ErrFitFailed, err)
	}
	coef, intercept := cv.Coefficients(cfg.Choice)

	result := &Result{
		Selection:   cfg.Selection,
		Choice:      cfg.Choice,
		MainEffects: cfg.MainEffects,
		Structures:  structures,
		Terms:       terms,
		Intercept:   intercept,
		Lambda:      cv.Lambda(cfg.Choice),
		CV:          cv,
		N:           len(y),
	}
	for t := range result.Terms {
		result.Terms[t].Coefficient = coef[t]
	}
	result.SignificanceErr = significance(Z, y, result.Terms)

	e.logger.Info("Sicomore fit complete",
		zap.String("selection", string(cfg.Selection)),
		zap.Int("datasets", len(datasets)),
		zap.Int("observations", len(y)),
		zap.Int("terms", len(terms)),
		zap.Int("selected", len(result.Selected())),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// Sicomore runs a fit on a temporary engine.
func Sicomore(ctx context.Context, y []float64, datasets []Dataset, cfg Config) (*Result, error) {
	e := New(0, nil)
	defer e.Close()
	return e.Sicomore(ctx, y, datasets, cfg)
}

// buildHierarchies clusters the datasets that carry no hierarchy.
func (e *Engine) buildHierarchies(ctx context.Context, datasets []Dataset, cfg hierarchy.Config) ([]*hierarchy.Dendrogram, error) {
	out := make([]*hierarchy.Dendrogram, len(datasets))
	var tasks []*Task
	var owners []int
	for i, ds := range datasets {
		if ds.Hierarchy != nil {
			out[i] = ds.Hierarchy
			continue
		}
		ds := ds
		tasks = append(tasks, NewTask("hierarchy-"+datasetName(ds, i), func(ctx context.Context) (interface{}, error) {
			d, err := hierarchy.Build(ds.X, cfg)
			if err != nil {
				return nil, err
			}
			if ds.VariableNames != nil {
				if err := d.SetLabels(ds.VariableNames); err != nil {
					return nil, err
				}
			}
			return d, nil
		}))
		owners = append(owners, i)
	}
	if len(tasks) == 0 {
		return out, nil
	}

	results, err := e.pool.RunBatch(ctx, tasks)
	if err != nil {
		return nil, err
	}
	for k, r := range results {
		i := owners[k]
		if r.Error != nil {
			return nil, fmt.Errorf("dataset %q: failed to build hierarchy: %w", datasetName(datasets[i], i), r.Error)
		}
		out[i] = r.Data.(*hierarchy.Dendrogram)
	}
	return out, nil
}

func (e *Engine) selectStructure(ctx context.Context, ds Dataset, d *hierarchy.Dendrogram, y []float64, cfg Config) (*Structure, error) {
	compression := ds.Compression
	if compression == "" {
		compression = cfg.Compression
	}

	var (
		s   *Structure
		err error
	)
	switch cfg.Selection {
	case SelectRhoSicomore:
		s, err = e.selectRho(ctx, ds.X, y, d, compression, cfg)
	case SelectMLGL:
		s, err = e.selectMLGL(ctx, ds.X, y, d, compression, cfg)
	default:
		s, err = e.selectLevel(ctx, ds.X, y, d, compression, cfg)
	}
	if err != nil {
		return nil, err
	}

	s.Hierarchy = d
	s.Compression = compression
	s.Variables = ds.VariableNames
	if s.Variables == nil && d.Labels != nil {
		s.Variables = d.Labels
	}
	if compression == CompressPC1 {
		s.Loadings = Loadings(ds.X, s.Groups)
	}
	s.Centers = columnMeans(s.Compressed)
	return s, nil
}

// selectLevel implements the hcar and sicomore selections.
func (e *Engine) selectLevel(ctx context.Context, X mat.Matrix, y []float64, d *hierarchy.Dendrogram, compression Compression, cfg Config) (*Structure, error) {
	search, err := e.GetHierLevel(ctx, X, y, d, cfg.levelConfig(compression))
	if err != nil {
		return nil, err
	}

	keep := make([]int, 0, len(search.Groups))
	if cfg.Selection == SelectSicomore && len(search.Selected) > 0 {
		keep = append(keep, search.Selected...)
	} else {
		for g := range search.Groups {
			keep = append(keep, g)
		}
	}

	ids, err := nodeIDs(d, search.Level)
	if err != nil {
		return nil, err
	}

	s := &Structure{
		Level:  search.Level,
		Search: search,
	}
	cols := make([]int, len(keep))
	for k, g := range keep {
		s.Groups = append(s.Groups, search.Groups[g])
		s.Nodes = append(s.Nodes, ids[g])
		cols[k] = g
	}
	s.Compressed = selectColumns(search.Compressed, cols)
	return s, nil
}

// nodeIDs maps the groups of Groups(k) to dendrogram node ids.
func nodeIDs(d *hierarchy.Dendrogram, k int) ([]int, error) {
	nodes, err := d.Nodes([]int{k})
	if err != nil {
		return nil, err
	}
	labels, err := d.Cut(k)
	if err != nil {
		return nil, err
	}
	ids := make([]int, k)
	for _, node := range nodes {
		ids[labels[node.Members[0]]] = node.ID
	}
	return ids, nil
}

func selectColumns(m *mat.Dense, cols []int) *mat.Dense {
	n, _ := m.Dims()
	out := mat.NewDense(n, len(cols), nil)
	for k, j := range cols {
		out.SetCol(k, mat.Col(nil, j, m))
	}
	return out
}

func columnMeans(m *mat.Dense) []float64 {
	n, p := m.Dims()
	out := make([]float64, p)
	for j := 0; j < p; j++ {
		var s float64
		for i := 0; i < n; i++ {
			s += m.At(i, j)
		}
		out[j] = s / float64(n)
	}
	return out
}

// significance refits the selected terms by least squares and stores
// 1 - p for each of them. Unselected terms get significance 0.
func significance(Z *mat.Dense, y []float64, terms []Term) error {
	var support []int
	for t := range terms {
		terms[t].PValue = 1
		terms[t].Significance = 0
		if terms[t].Coefficient != 0 {
			support = append(support, t)
		}
	}
	if len(support) == 0 {
		return nil
	}

	fit, err := penalized.OLS(selectColumns(Z, support), y)
	if err != nil {
		for _, t := range support {
			terms[t].PValue = math.NaN()
			terms[t].Significance = math.NaN()
		}
		return fmt.Errorf("significance refit failed: %w", err)
	}
	for k, t := range support {
		terms[t].PValue = fit.PValues[k]
		terms[t].Significance = 1 - fit.PValues[k]
	}
	return nil
}

func datasetName(ds Dataset, i int) string {
	if ds.Name != "" {
		return ds.Name
	}
	return fmt.Sprintf("X%d", i+1)
}
