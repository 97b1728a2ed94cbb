package main

import (
	"bytes"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/Sicomore-Engine/data"
	"github.com/VanDung-dev/Sicomore-Engine/engine"
	"github.com/VanDung-dev/Sicomore-Engine/testutil"
)

// writeRequest stores a two-dataset request with y = 1 + 2a + 1.5b + 1.5ab
// + noise, where a and b are blocks of the first and second dataset.
func writeRequest(t *testing.T, path string, seed int64, n int) {
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

	cfg := engine.DefaultConfig()
	cfg.CV.Folds = 5
	cfg.CV.NLambda = 30

	codec := data.NewCodec()
	record, err := data.EncodeFitRequest(codec.Allocator(), &data.FitRequest{
		Y: y,
		Datasets: []engine.Dataset{
			{Name: "X1", X: X1},
			{Name: "X2", X: X2},
		},
		Config: cfg,
	})
	require.NoError(t, err)
	defer record.Release()
	require.NoError(t, codec.WriteIPCFile(path, []arrow.Record{record}))
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestVersion(t *testing.T) {
	assert.Contains(t, execute(t, "version"), Name)
}

func TestFitFile(t *testing.T) {
	t.Setenv("SICOMORE_LOG_LEVEL", "error")

	dir := t.TempDir()
	request := filepath.Join(dir, "request.arrow")
	result := filepath.Join(dir, "result.arrow")

	writeRequest(t, request, 3, 80)

	out := execute(t, "fit", request, "-o", result, "--matrix", "0,1")
	assert.Contains(t, out, "X1:")
	assert.Contains(t, out, "TERM")
	assert.Contains(t, out, "interactions X1 x X2")

	codec := data.NewCodec()
	records, err := codec.ReadIPCFile(result)
	require.NoError(t, err)
	defer records[0].Release()

	table, err := data.DecodeResult(records[0])
	require.NoError(t, err)
	assert.Equal(t, 80, table.N)
	assert.NotEmpty(t, table.Rows)
}

func TestFitRejectsBadMatrix(t *testing.T) {
	assert.Error(t, printMatrix(&bytes.Buffer{}, nil, "1"))
	assert.Error(t, printMatrix(&bytes.Buffer{}, nil, "a,b"))
}
