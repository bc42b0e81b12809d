// Package ica implements the FastICA algorithm for dimensionality reduction.
//
// FastICA separates a multivariate signal into statistically independent
// components. The optimization is iterative and bounded: if the unmixing
// matrix does not converge within the configured iteration cap, the last
// iterate is used and the condition is surfaced through Converged and the
// configured logger rather than returned as an error.
package ica

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/hed1ad/gopoisonguard/pkg/reduce"
)

// FastICA extracts independent components via the symmetric (parallel)
// FastICA algorithm with a logcosh contrast function.
type FastICA struct {
	// Configuration
	nComponents int
	maxIter     int
	tol         float64
	rng         *rand.Rand
	logger      *zap.Logger

	// Fitted model
	means      []float64
	unmixing   *mat.Dense // nFeatures x nComponents
	fitted     bool
	converged  bool
	iterations int
}

// Option configures a FastICA projector.
type Option func(*FastICA)

// WithComponents sets the number of independent components to extract.
func WithComponents(n int) Option {
	return func(f *FastICA) {
		f.nComponents = n
	}
}

// WithMaxIterations caps the unmixing optimization loop.
func WithMaxIterations(n int) Option {
	return func(f *FastICA) {
		f.maxIter = n
	}
}

// WithTolerance sets the convergence tolerance on the unmixing matrix.
func WithTolerance(tol float64) Option {
	return func(f *FastICA) {
		f.tol = tol
	}
}

// WithSeed sets the random seed for the initial unmixing matrix.
func WithSeed(seed int64) Option {
	return func(f *FastICA) {
		f.rng = rand.New(rand.NewSource(seed))
	}
}

// WithLogger sets the logger used to surface non-convergence.
func WithLogger(logger *zap.Logger) Option {
	return func(f *FastICA) {
		f.logger = logger
	}
}

// New creates a new FastICA projector with the given options.
func New(opts ...Option) *FastICA {
	f := &FastICA{
		nComponents: 10,
		maxIter:     1000,
		tol:         0.005,
		rng:         rand.New(rand.NewSource(42)),
		logger:      zap.NewNop(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fit learns the unmixing matrix from the data.
func (f *FastICA) Fit(data [][]float64) error {
	if f.nComponents < 1 {
		return errors.New("number of components must be positive")
	}
	if f.maxIter < 1 {
		return errors.New("iteration cap must be positive")
	}
	if err := reduce.ValidateMatrix(data); err != nil {
		return err
	}

	nSamples := len(data)
	nFeatures := len(data[0])
	if f.nComponents > nFeatures {
		return fmt.Errorf("cannot extract %d components from %d features", f.nComponents, nFeatures)
	}
	if f.nComponents > nSamples {
		return fmt.Errorf("cannot extract %d components from %d samples", f.nComponents, nSamples)
	}

	centered := mat.NewDense(nSamples, nFeatures, nil)
	for i, row := range data {
		centered.SetRow(i, row)
	}
	means := make([]float64, nFeatures)
	for j := 0; j < nFeatures; j++ {
		var sum float64
		for i := 0; i < nSamples; i++ {
			sum += centered.At(i, j)
		}
		means[j] = sum / float64(nSamples)
		for i := 0; i < nSamples; i++ {
			centered.Set(i, j, centered.At(i, j)-means[j])
		}
	}

	whitening, err := f.whiten(centered, nSamples, nFeatures)
	if err != nil {
		return err
	}

	// Z has unit-variance decorrelated columns.
	var z mat.Dense
	z.Mul(centered, whitening)

	w, converged, iterations := f.optimize(&z, nSamples)

	// Full projection: center, whiten, then unmix.
	unmixing := mat.NewDense(nFeatures, f.nComponents, nil)
	unmixing.Mul(whitening, w.T())

	f.means = means
	f.unmixing = unmixing
	f.fitted = true
	f.converged = converged
	f.iterations = iterations

	if !converged {
		f.logger.Warn("FastICA did not converge, using last iterate",
			zap.Int("iterations", iterations),
			zap.Float64("tolerance", f.tol))
	}

	return nil
}

// whiten returns the nFeatures x nComponents whitening matrix built from
// the thin SVD of the centered data.
func (f *FastICA) whiten(centered *mat.Dense, nSamples, nFeatures int) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return nil, errors.New("SVD factorization failed during whitening")
	}

	var v mat.Dense
	svd.VTo(&v)
	singular := svd.Values(nil)

	scale := math.Sqrt(float64(nSamples))
	whitening := mat.NewDense(nFeatures, f.nComponents, nil)
	for j := 0; j < f.nComponents; j++ {
		s := singular[j]
		if s < 1e-12 {
			return nil, fmt.Errorf("data rank %d below requested %d components", j, f.nComponents)
		}
		for i := 0; i < nFeatures; i++ {
			whitening.Set(i, j, v.At(i, j)*scale/s)
		}
	}

	return whitening, nil
}

// optimize runs symmetric FastICA on the whitened data z and returns the
// orthogonal unmixing matrix together with the convergence outcome.
func (f *FastICA) optimize(z *mat.Dense, nSamples int) (*mat.Dense, bool, int) {
	k := f.nComponents

	w := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			w.Set(i, j, f.rng.NormFloat64())
		}
	}
	w = symmetricDecorrelate(w)

	n := float64(nSamples)
	var sources, g, update mat.Dense
	for iter := 1; iter <= f.maxIter; iter++ {
		// Current source estimates and the logcosh contrast.
		sources.Mul(z, w.T())
		g.Apply(func(_, _ int, v float64) float64 {
			return math.Tanh(v)
		}, &sources)

		// E[g'(wx)] per component, with g'(u) = 1 - tanh^2(u).
		gPrimeMeans := make([]float64, k)
		for j := 0; j < k; j++ {
			var sum float64
			for i := 0; i < nSamples; i++ {
				t := g.At(i, j)
				sum += 1 - t*t
			}
			gPrimeMeans[j] = sum / n
		}

		// W1 = E[g(Wz) z^T] - diag(E[g'(Wz)]) W
		update.Mul(g.T(), z)
		update.Scale(1/n, &update)
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				update.Set(i, j, update.At(i, j)-gPrimeMeans[i]*w.At(i, j))
			}
		}

		w1 := symmetricDecorrelate(&update)

		// Convergence: the rotation between iterates approaches identity.
		var overlap mat.Dense
		overlap.Mul(w1, w.T())
		lim := 0.0
		for i := 0; i < k; i++ {
			d := math.Abs(math.Abs(overlap.At(i, i)) - 1)
			if d > lim {
				lim = d
			}
		}

		w = w1
		if lim < f.tol {
			return w, true, iter
		}
	}

	return w, false, f.maxIter
}

// symmetricDecorrelate returns (W W^T)^{-1/2} W, making the rows of W an
// orthonormal set without privileging any single component.
func symmetricDecorrelate(w *mat.Dense) *mat.Dense {
	k, _ := w.Dims()

	var wwt mat.Dense
	wwt.Mul(w, w.T())

	sym := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			sym.SetSym(i, j, wwt.At(i, j))
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		// W W^T is symmetric positive semi-definite; factorization failure
		// means degenerate input, fall back to the unrotated matrix.
		return w
	}

	vals := eig.Values(nil)
	var q mat.Dense
	eig.VectorsTo(&q)

	invSqrt := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		v := vals[i]
		if v < 1e-12 {
			v = 1e-12
		}
		invSqrt.Set(i, i, 1/math.Sqrt(v))
	}

	var tmp, rot, out mat.Dense
	tmp.Mul(&q, invSqrt)
	rot.Mul(&tmp, q.T())
	out.Mul(&rot, w)
	return &out
}

// Transform projects samples through the fitted unmixing matrix.
func (f *FastICA) Transform(data [][]float64) ([][]float64, error) {
	if !f.fitted {
		return nil, errors.New("projector not fitted")
	}
	if err := reduce.ValidateMatrix(data); err != nil {
		return nil, err
	}
	if len(data[0]) != len(f.means) {
		return nil, fmt.Errorf("feature count mismatch: got %d, fitted on %d", len(data[0]), len(f.means))
	}

	nSamples := len(data)
	centered := mat.NewDense(nSamples, len(f.means), nil)
	for i, row := range data {
		for j, v := range row {
			centered.Set(i, j, v-f.means[j])
		}
	}

	var projected mat.Dense
	projected.Mul(centered, f.unmixing)

	out := make([][]float64, nSamples)
	for i := range out {
		out[i] = mat.Row(nil, i, &projected)
	}
	return out, nil
}

// FitTransform fits the unmixing matrix on data and returns the projected data.
func (f *FastICA) FitTransform(data [][]float64) ([][]float64, error) {
	if err := f.Fit(data); err != nil {
		return nil, err
	}
	return f.Transform(data)
}

// Converged reports whether the last Fit reached the convergence tolerance
// within the iteration cap.
func (f *FastICA) Converged() bool {
	return f.converged
}

// Iterations returns the number of optimization iterations the last Fit used.
func (f *FastICA) Iterations() int {
	return f.iterations
}
