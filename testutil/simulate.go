// Package testutil provides simulated datasets shared by package tests.
package testutil

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Blocks returns an n x sum(sizes) matrix whose columns are organised in
// contiguous blocks. Every column of block b equals latent[b] plus gaussian
// noise with standard deviation noise, so columns are strongly correlated
// within a block and independent across blocks.
func Blocks(rng *rand.Rand, n int, sizes []int, noise float64) (*mat.Dense, [][]float64) {
	p := 0
	for _, s := range sizes {
		p += s
	}

	X := mat.NewDense(n, p, nil)
	latent := make([][]float64, len(sizes))
	col := 0
	for b, s := range sizes {
		latent[b] = make([]float64, n)
		for i := range latent[b] {
			latent[b][i] = rng.NormFloat64()
		}
		for j := 0; j < s; j++ {
			for i := 0; i < n; i++ {
				X.Set(i, col, latent[b][i]+noise*rng.NormFloat64())
			}
			col++
		}
	}
	return X, latent
}

// BlockGroups returns the variable indices of each block produced by Blocks.
func BlockGroups(sizes []int) [][]int {
	groups := make([][]int, len(sizes))
	col := 0
	for b, s := range sizes {
		for j := 0; j < s; j++ {
			groups[b] = append(groups[b], col)
			col++
		}
	}
	return groups
}

// Noise returns n gaussian draws with standard deviation sd.
func Noise(rng *rand.Rand, n int, sd float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = sd * rng.NormFloat64()
	}
	return out
}

// Centered returns a copy of x with its mean removed.
func Centered(x []float64) []float64 {
	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v - mean
	}
	return out
}
