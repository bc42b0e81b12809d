// Package kmeans implements k-means clustering with k-means++ initialization.
package kmeans

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/hed1ad/gopoisonguard/pkg/reduce"
)

// KMeans partitions samples into k clusters by iterative centroid assignment.
// Centroid initialization is randomized; the seed controls reproducibility.
type KMeans struct {
	// Configuration
	k       int
	maxIter int
	tol     float64
	rng     *rand.Rand

	// Fitted model
	centroids [][]float64
	fitted    bool
}

// Option configures a KMeans clusterer.
type Option func(*KMeans)

// WithClusters sets the number of clusters.
func WithClusters(k int) Option {
	return func(m *KMeans) {
		m.k = k
	}
}

// WithMaxIterations caps the Lloyd iteration loop.
func WithMaxIterations(n int) Option {
	return func(m *KMeans) {
		m.maxIter = n
	}
}

// WithTolerance sets the centroid-movement threshold below which the
// iteration stops early.
func WithTolerance(tol float64) Option {
	return func(m *KMeans) {
		m.tol = tol
	}
}

// WithSeed sets the random seed for centroid initialization.
func WithSeed(seed int64) Option {
	return func(m *KMeans) {
		m.rng = rand.New(rand.NewSource(seed))
	}
}

// New creates a new KMeans clusterer with the given options.
func New(opts ...Option) *KMeans {
	m := &KMeans{
		k:       2,
		maxIter: 300,
		tol:     1e-4,
		rng:     rand.New(rand.NewSource(42)),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Fit learns k centroids from the data.
func (m *KMeans) Fit(data [][]float64) error {
	if m.k < 1 {
		return errors.New("cluster count must be positive")
	}
	if err := reduce.ValidateMatrix(data); err != nil {
		return err
	}
	if m.k > len(data) {
		return fmt.Errorf("cannot form %d clusters from %d samples", m.k, len(data))
	}

	centroids := m.seedCentroids(data)

	for iter := 0; iter < m.maxIter; iter++ {
		labels := assign(data, centroids)
		next := recompute(data, labels, centroids)

		shift := 0.0
		for i := range centroids {
			d := floats.Distance(centroids[i], next[i], 2)
			if d > shift {
				shift = d
			}
		}

		centroids = next
		if shift < m.tol {
			break
		}
	}

	m.centroids = centroids
	m.fitted = true

	return nil
}

// seedCentroids picks initial centroids with k-means++: the first uniformly
// at random, each subsequent one weighted by squared distance to the
// nearest already-chosen centroid.
func (m *KMeans) seedCentroids(data [][]float64) [][]float64 {
	n := len(data)
	dim := len(data[0])

	centroids := make([][]float64, m.k)
	centroids[0] = append(make([]float64, 0, dim), data[m.rng.Intn(n)]...)

	dists := make([]float64, n)
	for c := 1; c < m.k; c++ {
		total := 0.0
		for i, row := range data {
			best := math.Inf(1)
			for _, cent := range centroids[:c] {
				d := sqDist(row, cent)
				if d < best {
					best = d
				}
			}
			dists[i] = best
			total += best
		}

		// All points coincide with existing centroids; any choice works.
		if total == 0 {
			centroids[c] = append(make([]float64, 0, dim), data[m.rng.Intn(n)]...)
			continue
		}

		threshold := m.rng.Float64() * total
		cumulative := 0.0
		chosen := n - 1
		for i, d := range dists {
			cumulative += d
			if cumulative >= threshold {
				chosen = i
				break
			}
		}
		centroids[c] = append(make([]float64, 0, dim), data[chosen]...)
	}

	return centroids
}

// Predict assigns each sample to its nearest fitted centroid.
func (m *KMeans) Predict(data [][]float64) ([]int, error) {
	if !m.fitted {
		return nil, errors.New("clusterer not fitted")
	}
	if err := reduce.ValidateMatrix(data); err != nil {
		return nil, err
	}
	if len(data[0]) != len(m.centroids[0]) {
		return nil, fmt.Errorf("feature count mismatch: got %d, fitted on %d", len(data[0]), len(m.centroids[0]))
	}

	return assign(data, m.centroids), nil
}

// FitPredict fits on data and returns the cluster label of every sample.
func (m *KMeans) FitPredict(data [][]float64) ([]int, error) {
	if err := m.Fit(data); err != nil {
		return nil, err
	}
	return m.Predict(data)
}

// Centroids returns a copy of the fitted cluster centroids.
func (m *KMeans) Centroids() [][]float64 {
	if !m.fitted {
		return nil
	}
	out := make([][]float64, len(m.centroids))
	for i, c := range m.centroids {
		out[i] = append(make([]float64, 0, len(c)), c...)
	}
	return out
}

// assign labels each sample with the index of its nearest centroid.
func assign(data [][]float64, centroids [][]float64) []int {
	labels := make([]int, len(data))
	for i, row := range data {
		best := 0
		bestDist := sqDist(row, centroids[0])
		for c := 1; c < len(centroids); c++ {
			if d := sqDist(row, centroids[c]); d < bestDist {
				bestDist = d
				best = c
			}
		}
		labels[i] = best
	}
	return labels
}

// recompute returns the mean of each cluster's members. A cluster that lost
// all its members keeps its previous centroid, which permits empty clusters
// on degenerate input.
func recompute(data [][]float64, labels []int, previous [][]float64) [][]float64 {
	k := len(previous)
	dim := len(data[0])

	next := make([][]float64, k)
	counts := make([]int, k)
	for i := range next {
		next[i] = make([]float64, dim)
	}

	for i, row := range data {
		c := labels[i]
		floats.Add(next[c], row)
		counts[c]++
	}

	for c := range next {
		if counts[c] == 0 {
			copy(next[c], previous[c])
			continue
		}
		floats.Scale(1/float64(counts[c]), next[c])
	}

	return next
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
