// Package hierarchy builds variable hierarchies for Sicomore-Engine.
// This package implements:
// - Distance matrices between predictor columns (euclidean, correlation)
// - Agglomerative clustering with the nearest-neighbour chain algorithm
// - Dendrogram cuts, node enumeration and candidate level selection
package hierarchy
