// Package reduce provides dimensionality reduction algorithms for activation data.
package reduce

import (
	"errors"
	"fmt"
)

// Projector is the common interface for dimensionality reduction algorithms.
type Projector interface {
	// Fit learns the projection from training data.
	// data is a 2D slice where each row is a sample and each column is a feature.
	Fit(data [][]float64) error

	// Transform projects samples into the reduced space using the fitted projection.
	Transform(data [][]float64) ([][]float64, error)

	// FitTransform fits the projection on data and returns the projected data.
	FitTransform(data [][]float64) ([][]float64, error)
}

// ValidateMatrix checks that data forms a non-empty rectangular matrix.
func ValidateMatrix(data [][]float64) error {
	if len(data) == 0 {
		return errors.New("empty data")
	}
	width := len(data[0])
	if width == 0 {
		return errors.New("zero-width data")
	}
	for i, row := range data {
		if len(row) != width {
			return fmt.Errorf("ragged data: row %d has %d features, expected %d", i, len(row), width)
		}
	}
	return nil
}
