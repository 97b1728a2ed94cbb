// Package penalized provides sparse linear regression for Sicomore-Engine.
// This package implements:
// - Elastic net / lasso by cyclic coordinate descent with penalty factors
// - Group lasso by accelerated proximal gradient (FISTA)
// - Regularization paths, K-fold cross-validation and lambda selection
// - Ordinary least squares refits with t-test p-values
package penalized
