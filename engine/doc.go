// Package engine provides the Sicomore estimation core.
// This package implements:
// - Worker pool with goroutines for parallel level evaluation
// - Group compression (mean, median, first principal component)
// - Hierarchical level search (GetHierLevel)
// - Multi-dataset fits with interaction terms (sicomore, rho-sicomore,
//   mlgl, hcar selections)
// - Result accessors for groups, significance and interaction matrices
package engine
