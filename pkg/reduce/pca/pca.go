// Package pca implements principal component analysis for dimensionality reduction.
package pca

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/gopoisonguard/pkg/reduce"
)

// PCA projects data onto its principal components, ordered by descending
// explained variance. The projection is deterministic for a given input.
type PCA struct {
	// Configuration
	nComponents int

	// Fitted model
	means      []float64
	components *mat.Dense // nFeatures x nComponents
	variances  []float64  // explained variance per component, descending
	fitted     bool
}

// Option configures a PCA projector.
type Option func(*PCA)

// WithComponents sets the number of principal components to keep.
func WithComponents(n int) Option {
	return func(p *PCA) {
		p.nComponents = n
	}
}

// New creates a new PCA projector with the given options.
func New(opts ...Option) *PCA {
	p := &PCA{
		nComponents: 10,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Fit learns the principal components of the data.
func (p *PCA) Fit(data [][]float64) error {
	if p.nComponents < 1 {
		return errors.New("number of components must be positive")
	}
	if err := reduce.ValidateMatrix(data); err != nil {
		return err
	}

	nSamples := len(data)
	nFeatures := len(data[0])
	if p.nComponents > nFeatures {
		return fmt.Errorf("cannot extract %d components from %d features", p.nComponents, nFeatures)
	}
	if p.nComponents > nSamples {
		return fmt.Errorf("cannot extract %d components from %d samples", p.nComponents, nSamples)
	}

	centered, means := centerData(data)

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return errors.New("SVD factorization failed")
	}

	var v mat.Dense
	svd.VTo(&v)
	singular := svd.Values(nil)

	// Columns of V are the right singular vectors, already ordered by
	// descending singular value; keep the leading nComponents as the
	// projection basis.
	components := mat.NewDense(nFeatures, p.nComponents, nil)
	variances := make([]float64, p.nComponents)
	for j := 0; j < p.nComponents; j++ {
		for i := 0; i < nFeatures; i++ {
			components.Set(i, j, v.At(i, j))
		}
		s := singular[j]
		variances[j] = s * s / float64(nSamples-1)
	}

	p.means = means
	p.components = components
	p.variances = variances
	p.fitted = true

	return nil
}

// Transform projects samples onto the fitted principal components.
func (p *PCA) Transform(data [][]float64) ([][]float64, error) {
	if !p.fitted {
		return nil, errors.New("projector not fitted")
	}
	if err := reduce.ValidateMatrix(data); err != nil {
		return nil, err
	}
	if len(data[0]) != len(p.means) {
		return nil, fmt.Errorf("feature count mismatch: got %d, fitted on %d", len(data[0]), len(p.means))
	}

	nSamples := len(data)
	centered := mat.NewDense(nSamples, len(p.means), nil)
	for i, row := range data {
		for j, v := range row {
			centered.Set(i, j, v-p.means[j])
		}
	}

	var projected mat.Dense
	projected.Mul(centered, p.components)

	out := make([][]float64, nSamples)
	for i := range out {
		out[i] = mat.Row(nil, i, &projected)
	}
	return out, nil
}

// FitTransform fits the projection on data and returns the projected data.
func (p *PCA) FitTransform(data [][]float64) ([][]float64, error) {
	if err := p.Fit(data); err != nil {
		return nil, err
	}
	return p.Transform(data)
}

// ExplainedVariance returns the variance captured by each kept component,
// in descending order.
func (p *PCA) ExplainedVariance() []float64 {
	if !p.fitted {
		return nil
	}
	out := make([]float64, len(p.variances))
	copy(out, p.variances)
	return out
}

// centerData subtracts the per-feature mean and returns the centered matrix
// together with the means.
func centerData(data [][]float64) (*mat.Dense, []float64) {
	nSamples := len(data)
	nFeatures := len(data[0])

	centered := mat.NewDense(nSamples, nFeatures, nil)
	for i, row := range data {
		centered.SetRow(i, row)
	}

	means := make([]float64, nFeatures)
	for j := 0; j < nFeatures; j++ {
		col := mat.Col(nil, j, centered)
		means[j] = stat.Mean(col, nil)
	}

	for i := 0; i < nSamples; i++ {
		for j := 0; j < nFeatures; j++ {
			centered.Set(i, j, centered.At(i, j)-means[j])
		}
	}

	return centered, means
}
