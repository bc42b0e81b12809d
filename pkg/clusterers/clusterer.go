// Package clusterers provides hard clustering algorithms for activation data.
package clusterers

// Clusterer is the common interface for hard clustering algorithms.
type Clusterer interface {
	// Fit learns cluster centroids from the data.
	// data is a 2D slice where each row is a sample and each column is a feature.
	Fit(data [][]float64) error

	// Predict assigns each sample to its nearest learned cluster.
	// Labels are in [0, k) where k is the configured cluster count.
	Predict(data [][]float64) ([]int, error)

	// FitPredict fits on data and returns cluster labels for that same data.
	FitPredict(data [][]float64) ([]int, error)
}
