package engine

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/VanDung-dev/Sicomore-Engine/hierarchy"
	"github.com/VanDung-dev/Sicomore-Engine/penalized"
	"github.com/VanDung-dev/Sicomore-Engine/testutil"
)

// twoOmics simulates two datasets where y depends on block 1 of the first,
// block 0 of the second and on their interaction.
type twoOmics struct {
	X1, X2 *mat.Dense
	y      []float64
}

func simulate(seed int64, n int) twoOmics {
	rng := rand.New(rand.NewSource(seed))
	X1, l1 := testutil.Blocks(rng, n, []int{4, 4, 4}, 0.2)
	X2, l2 := testutil.Blocks(rng, n, []int{3, 3}, 0.2)

	a := testutil.Centered(l1[1])
	b := testutil.Centered(l2[0])
	noise := testutil.Noise(rng, n, 0.5)
	y := make([]float64, n)
	for i := range y {
		y[i] = 1 + 2*l1[1][i] + 1.5*l2[0][i] + 1.5*a[i]*b[i] + noise[i]
	}
	return twoOmics{X1: X1, X2: X2, y: y}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.CV.Folds = 5
	cfg.CV.NLambda = 30
	return cfg
}

func newTestEngine(t *testing.T) *Engine {
	e := New(4, zap.NewNop())
	t.Cleanup(e.Close)
	return e
}

func TestCompress(t *testing.T) {
	X := mat.NewDense(3, 3, []float64{
		1, 2, 9,
		2, 4, 0,
		3, 6, 3,
	})

	Z, err := Compress(X, [][]int{{0, 1, 2}, {1}}, CompressMean)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 2, 4}, mat.Col(nil, 0, Z))
	assert.Equal(t, []float64{2, 4, 6}, mat.Col(nil, 1, Z))

	Z, err = Compress(X, [][]int{{0, 1, 2}, {0, 1}}, CompressMedian)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, 3}, mat.Col(nil, 0, Z))
	assert.Equal(t, []float64{1.5, 3, 4.5}, mat.Col(nil, 1, Z))

	_, err = Compress(X, [][]int{{5}}, CompressMean)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Compress(X, [][]int{{0}}, "max")
	assert.ErrorIs(t, err, ErrUnknownCompression)
}

func TestCompressPC1FollowsRowMean(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	X, latent := testutil.Blocks(rng, 50, []int{5}, 0.3)

	Z, err := Compress(X, [][]int{{0, 1, 2, 3, 4}}, CompressPC1)
	require.NoError(t, err)
	score := mat.Col(nil, 0, Z)

	assert.Greater(t, stat.Correlation(score, latent[0], nil), 0.95)
	assert.InDelta(t, 0, stat.Mean(score, nil), 1e-9)
}

func TestProjectMatchesTrainingCompression(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	X, _ := testutil.Blocks(rng, 40, []int{4, 3, 1}, 0.3)
	groups := [][]int{{0, 1, 2, 3}, {4, 5, 6}, {7}}

	Z, err := Compress(X, groups, CompressPC1)
	require.NoError(t, err)
	loadings := Loadings(X, groups)
	P, err := Project(X, groups, loadings)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(Z, P, 1e-9))

	// a single row projects to the same score as inside the batch
	one, err := Project(X.Slice(3, 4, 0, 8), groups, loadings)
	require.NoError(t, err)
	assert.InDeltaSlice(t, mat.Row(nil, 3, Z), mat.Row(nil, 0, one), 1e-9)

	_, err = Project(X, groups, loadings[:2])
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestParseOptions(t *testing.T) {
	s, err := ParseSelection("")
	require.NoError(t, err)
	assert.Equal(t, SelectSicomore, s)

	s, err = ParseSelection("rho-sicomore")
	require.NoError(t, err)
	assert.Equal(t, SelectRhoSicomore, s)

	_, err = ParseSelection("stepwise")
	assert.ErrorIs(t, err, ErrUnknownSelection)

	c, err := ParseCompression("pc1")
	require.NoError(t, err)
	assert.Equal(t, CompressPC1, c)
}

func TestRhoWeights(t *testing.T) {
	nodes := []hierarchy.Node{{Gap: 1}, {Gap: 2}, {Gap: 3}}
	w := RhoWeights(nodes)
	assert.InDeltaSlice(t, []float64{2, 1, 2.0 / 3.0}, w, 1e-12)

	// a zero gap is floored rather than producing an infinite weight
	w = RhoWeights([]hierarchy.Node{{Gap: 0}, {Gap: 2}})
	assert.False(t, math.IsInf(w[0], 0))
	assert.Greater(t, w[0], w[1])

	assert.Equal(t, []float64{1, 1}, RhoWeights([]hierarchy.Node{{}, {}}))
}

func TestGetHierLevel(t *testing.T) {
	sim := simulate(1, 150)
	d, err := hierarchy.Build(sim.X1, hierarchy.DefaultConfig())
	require.NoError(t, err)

	cfg := DefaultLevelConfig()
	cfg.CV.Folds = 5
	cfg.CV.NLambda = 30
	cfg.Choice = penalized.LambdaOneSE

	res, err := newTestEngine(t).GetHierLevel(context.Background(), sim.X1, sim.y, d, cfg)
	require.NoError(t, err)

	assert.Equal(t, d.CandidateLevels(cfg.MaxLevels), res.Levels)
	assert.Len(t, res.CVError, len(res.Levels))
	assert.Len(t, res.Curves, len(res.Levels))
	assert.GreaterOrEqual(t, res.Level, 3)
	assert.Less(t, res.CVError[res.Level-1], res.CVError[0])
	assert.Len(t, res.Groups, res.Level)
	assert.Len(t, res.Coefficients, res.Level)

	// only groups inside block 1 carry the main effect, with a positive sign
	require.NotEmpty(t, res.Selected)
	var effect float64
	for _, g := range res.Selected {
		members := res.Groups[g]
		assert.GreaterOrEqual(t, members[0], 4, "selected group %v outside block 1", members)
		assert.Less(t, members[len(members)-1], 8, "selected group %v outside block 1", members)
		effect += res.Coefficients[g]
	}
	// lambda.1se shrinks the true effect of 2 towards zero
	assert.Greater(t, effect, 0.5)
	assert.Less(t, effect, 2.5)
}

func TestGetHierLevelRejectsMismatch(t *testing.T) {
	sim := simulate(2, 40)
	d, err := hierarchy.Build(sim.X2, hierarchy.DefaultConfig())
	require.NoError(t, err)

	_, err = GetHierLevel(context.Background(), sim.X1, sim.y, d, DefaultLevelConfig())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSicomoreFindsInteraction(t *testing.T) {
	sim := simulate(3, 200)
	e := newTestEngine(t)

	res, err := e.Sicomore(context.Background(), sim.y, []Dataset{
		{Name: "genes", X: sim.X1},
		{Name: "taxa", X: sim.X2},
	}, fastConfig())
	require.NoError(t, err)
	require.NoError(t, res.SignificanceErr)

	assert.Equal(t, SelectSicomore, res.Selection)
	assert.NotEmpty(t, res.Selected())

	M, err := res.InteractionMatrix(0, 1)
	require.NoError(t, err)
	rows, cols := M.Dims()
	assert.Equal(t, 12, rows)
	assert.Equal(t, 6, cols)

	// the strongest interaction pairs block 1 of genes with block 0 of taxa
	bi, bj, best := 0, 0, 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := math.Abs(M.At(i, j)); v > best {
				bi, bj, best = i, j, v
			}
		}
	}
	assert.True(t, bi >= 4 && bi < 8, "row %d", bi)
	assert.True(t, bj < 3, "column %d", bj)

	var strongest float64
	for _, term := range res.GetSignificance() {
		if term.Kind == Interaction && term.Significance > strongest {
			strongest = term.Significance
		}
		if term.Coefficient == 0 {
			assert.Equal(t, 0.0, term.Significance)
		}
	}
	assert.Greater(t, strongest, 0.99)

	T, err := res.InteractionMatrix(1, 0)
	require.NoError(t, err)
	assert.Equal(t, M.At(bi, bj), T.At(bj, bi))
}

func TestSicomoreSelections(t *testing.T) {
	sim := simulate(4, 120)
	e := newTestEngine(t)

	for _, sel := range []Selection{SelectSicomore, SelectHCAR, SelectRhoSicomore, SelectMLGL} {
		t.Run(string(sel), func(t *testing.T) {
			cfg := fastConfig()
			cfg.Selection = sel
			res, err := e.Sicomore(context.Background(), sim.y, []Dataset{
				{Name: "genes", X: sim.X1},
				{Name: "taxa", X: sim.X2},
			}, cfg)
			require.NoError(t, err)

			for ds := 0; ds < 2; ds++ {
				groups, err := res.GetGrp(ds)
				require.NoError(t, err)
				require.NotEmpty(t, groups)
				for _, g := range groups {
					assert.NotEmpty(t, g)
				}
			}

			pred, err := res.Predict([]mat.Matrix{sim.X1, sim.X2})
			require.NoError(t, err)
			assert.Greater(t, stat.Correlation(pred, sim.y, nil), 0.8)
		})
	}
}

func TestPredictPC1IsRowIndependent(t *testing.T) {
	sim := simulate(6, 100)
	cfg := fastConfig()
	cfg.Compression = CompressPC1

	res, err := newTestEngine(t).Sicomore(context.Background(), sim.y, []Dataset{
		{Name: "genes", X: sim.X1},
		{Name: "taxa", X: sim.X2},
	}, cfg)
	require.NoError(t, err)
	for _, s := range res.Structures {
		assert.Len(t, s.Loadings, len(s.Groups))
	}

	batch, err := res.Predict([]mat.Matrix{sim.X1, sim.X2})
	require.NoError(t, err)

	_, p1 := sim.X1.Dims()
	_, p2 := sim.X2.Dims()
	for i := 0; i < 5; i++ {
		single, err := res.Predict([]mat.Matrix{
			sim.X1.Slice(i, i+1, 0, p1),
			sim.X2.Slice(i, i+1, 0, p2),
		})
		require.NoError(t, err)
		assert.InDelta(t, batch[i], single[0], 1e-9, "row %d", i)
	}
}

func TestSignificanceRefitFailure(t *testing.T) {
	terms := func(k int) []Term {
		out := make([]Term, k)
		for i := range out {
			out[i] = Term{Kind: MainEffect, GroupA: i, DatasetB: -1, GroupB: -1, Coefficient: 1}
		}
		return out
	}

	// three observations cannot support an intercept and three slopes
	Z := mat.NewDense(3, 3, []float64{
		1, 0, 2,
		0, 1, 5,
		3, 1, 1,
	})
	saturated := terms(3)
	err := significance(Z, []float64{1, 2, 3}, saturated)
	require.ErrorIs(t, err, penalized.ErrSaturated)
	for _, term := range saturated {
		assert.True(t, math.IsNaN(term.PValue))
		assert.True(t, math.IsNaN(term.Significance))
	}

	// duplicated columns leave the refit singular
	rng := rand.New(rand.NewSource(9))
	dup := mat.NewDense(20, 2, nil)
	y := make([]float64, 20)
	for i := 0; i < 20; i++ {
		v := rng.NormFloat64()
		dup.Set(i, 0, v)
		dup.Set(i, 1, v)
		y[i] = v + 0.1*rng.NormFloat64()
	}
	singular := terms(2)
	err = significance(dup, y, singular)
	require.ErrorIs(t, err, penalized.ErrSingular)
	assert.True(t, math.IsNaN(singular[0].Significance))

	// unselected terms keep significance 0
	mixed := terms(2)
	mixed[1].Coefficient = 0
	require.NoError(t, significance(dup, y, mixed))
	assert.Equal(t, 0.0, mixed[1].Significance)
	assert.Equal(t, 1.0, mixed[1].PValue)
	assert.Greater(t, mixed[0].Significance, 0.99)
}

func TestHCARKeepsWholeLevel(t *testing.T) {
	sim := simulate(5, 100)
	cfg := fastConfig()
	cfg.Selection = SelectHCAR

	res, err := newTestEngine(t).Sicomore(context.Background(), sim.y, []Dataset{{X: sim.X1}}, cfg)
	require.NoError(t, err)

	s := res.Structures[0]
	assert.Equal(t, "X1", s.Dataset)
	assert.Len(t, s.Groups, s.Level)

	seen := make(map[int]bool)
	for _, g := range s.Groups {
		for _, j := range g {
			assert.False(t, seen[j])
			seen[j] = true
		}
	}
	assert.Len(t, seen, 12)

	for _, term := range res.Terms {
		assert.Equal(t, MainEffect, term.Kind)
	}
}

func TestSicomoreUsesProvidedHierarchy(t *testing.T) {
	sim := simulate(6, 80)
	d, err := hierarchy.Build(sim.X2, hierarchy.Config{Distance: hierarchy.Correlation, Linkage: hierarchy.Average})
	require.NoError(t, err)

	names := []string{"a", "b", "c", "d", "e", "f"}
	res, err := Sicomore(context.Background(), sim.y, []Dataset{
		{X: sim.X1},
		{X: sim.X2, Hierarchy: d, VariableNames: names},
	}, fastConfig())
	require.NoError(t, err)

	assert.Same(t, d, res.Structures[1].Hierarchy)
	groups, err := res.GroupNames(1)
	require.NoError(t, err)
	for _, g := range groups {
		for _, name := range g {
			assert.Contains(t, names, name)
		}
	}
}

func TestInteractionOnlyModel(t *testing.T) {
	sim := simulate(7, 100)
	cfg := fastConfig()
	cfg.MainEffects = false

	res, err := newTestEngine(t).Sicomore(context.Background(), sim.y, []Dataset{
		{X: sim.X1}, {X: sim.X2},
	}, cfg)
	require.NoError(t, err)
	for _, term := range res.Terms {
		assert.Equal(t, Interaction, term.Kind)
		assert.Equal(t, 0, term.DatasetA)
		assert.Equal(t, 1, term.DatasetB)
	}
}

func TestResultAccessorErrors(t *testing.T) {
	sim := simulate(8, 60)
	res, err := newTestEngine(t).Sicomore(context.Background(), sim.y, []Dataset{
		{X: sim.X1}, {X: sim.X2},
	}, fastConfig())
	require.NoError(t, err)

	_, err = res.GetGrp(2)
	assert.ErrorIs(t, err, ErrDatasetOutOfRange)

	_, err = res.InteractionMatrix(0, 0)
	assert.ErrorIs(t, err, ErrSameDataset)

	_, err = res.Predict([]mat.Matrix{sim.X1})
	assert.ErrorIs(t, err, ErrPredictorMismatch)

	_, err = res.Predict([]mat.Matrix{sim.X2, sim.X1})
	assert.ErrorIs(t, err, ErrPredictorMismatch)
}

func TestValidationJoinsErrors(t *testing.T) {
	e := newTestEngine(t)
	y := []float64{1, 1, 1, 1}
	X := mat.NewDense(3, 2, nil)

	_, err := e.Sicomore(context.Background(), y, []Dataset{{X: X}}, fastConfig())
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "response is constant")
	assert.Contains(t, err.Error(), "3 rows")

	_, err = e.Sicomore(context.Background(), []float64{1, 2}, nil, fastConfig())
	assert.ErrorIs(t, err, ErrInvalidInput)

	cfg := fastConfig()
	cfg.MainEffects = false
	sim := simulate(9, 30)
	_, err = e.Sicomore(context.Background(), sim.y, []Dataset{{X: sim.X1}}, cfg)
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "interaction-only")

	cfg = fastConfig()
	cfg.Selection = "stepwise"
	_, err = e.Sicomore(context.Background(), sim.y, []Dataset{{X: sim.X1}}, cfg)
	assert.ErrorIs(t, err, ErrUnknownSelection)
}

func TestValidatorCustomRule(t *testing.T) {
	e := newTestEngine(t)
	e.Validator().AddRule(func(in *Input) error {
		if len(in.Y) < 50 {
			return assert.AnError
		}
		return nil
	})

	sim := simulate(10, 40)
	_, err := e.Sicomore(context.Background(), sim.y, []Dataset{{X: sim.X1}}, fastConfig())
	assert.ErrorIs(t, err, assert.AnError)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

type countingObserver struct{ levels int }

func (c *countingObserver) ObserveLevels(n int) { c.levels += n }

func TestObserverCountsLevels(t *testing.T) {
	sim := simulate(11, 60)
	e := newTestEngine(t)
	obs := &countingObserver{}
	e.SetObserver(obs)

	_, err := e.Sicomore(context.Background(), sim.y, []Dataset{{X: sim.X1}, {X: sim.X2}}, fastConfig())
	require.NoError(t, err)
	assert.Equal(t, 12+6, obs.levels)
	assert.Positive(t, e.Stats().Completed)
}
