// Package io provides input/output utilities for activation data.
package io

import "context"

// Reader is the interface for reading one class's activation matrix from
// a data source.
type Reader interface {
	// Read returns the complete activation matrix, rows are examples.
	Read() ([][]float64, error)

	// Stream returns a channel of activation rows for incremental loading.
	Stream(ctx context.Context) (<-chan []float64, error)

	// Close releases resources.
	Close() error
}

// Writer is the interface for writing clustering reports.
type Writer interface {
	// Write outputs a single class report.
	Write(report Report) error

	// WriteAll outputs reports for every class.
	WriteAll(reports []Report) error

	// Close releases resources.
	Close() error
}

// Report summarizes the clustering outcome for one class.
type Report struct {
	// Class is the class index in the input ordering.
	Class int `json:"class"`
	// Rows is the number of examples in the class.
	Rows int `json:"rows"`
	// ReducedDims is the dimensionality after reduction.
	ReducedDims int `json:"reduced_dims"`
	// Sizes is the member count per cluster label.
	Sizes []int `json:"sizes"`
	// Assignments is the cluster label per example row.
	Assignments []int `json:"assignments"`
}
