// Package data provides Arrow IPC serialization for fit requests and results.
// This package implements:
// - Matrix to Arrow record conversion
// - Fit request encoding with dataset and option metadata
// - Result schema and record conversion
// - IPC stream and file serialization
package data
