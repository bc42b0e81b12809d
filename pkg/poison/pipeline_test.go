package poison

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/gopoisonguard/pkg/clusterers"
	"github.com/hed1ad/gopoisonguard/pkg/reduce"
)

func TestNewPipeline(t *testing.T) {
	tests := []struct {
		name         string
		opts         []Option
		wantClusters int
		wantDims     int
		wantReduce   ReduceMethod
	}{
		{
			name:         "default configuration",
			opts:         nil,
			wantClusters: 2,
			wantDims:     10,
			wantReduce:   ReduceFastICA,
		},
		{
			name:         "custom clusters",
			opts:         []Option{WithClusters(3)},
			wantClusters: 3,
			wantDims:     10,
			wantReduce:   ReduceFastICA,
		},
		{
			name:         "multiple options",
			opts:         []Option{WithClusters(4), WithDims(5), WithReduceMethod(ReducePCA), WithSeed(123)},
			wantClusters: 4,
			wantDims:     5,
			wantReduce:   ReducePCA,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.opts...)
			assert.Equal(t, tt.wantClusters, p.nClusters)
			assert.Equal(t, tt.wantDims, p.ndims)
			assert.Equal(t, tt.wantReduce, p.reduceMethod)
		})
	}
}

func TestClusterConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		data [][][]float64
	}{
		{
			name: "unsupported reduce method",
			opts: []Option{WithReduceMethod("bogus")},
			data: [][][]float64{generateBlobs(10, 20, 1, 0)},
		},
		{
			name: "unsupported clustering method",
			opts: []Option{WithClusterMethod("DBSCAN")},
			data: [][][]float64{generateBlobs(10, 20, 1, 0)},
		},
		{
			name: "non-positive cluster count",
			opts: []Option{WithClusters(0)},
			data: [][][]float64{generateBlobs(10, 20, 1, 0)},
		},
		{
			name: "non-positive dims",
			opts: []Option{WithDims(-1)},
			data: [][][]float64{generateBlobs(10, 20, 1, 0)},
		},
		{
			name: "no classes",
			opts: nil,
			data: [][][]float64{},
		},
		{
			name: "ragged activation matrix",
			opts: nil,
			data: [][][]float64{{{1, 2, 3}, {1, 2}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.opts...)
			projector := &countingProjector{}
			clusterer := &countingClusterer{}
			p.newProjector = func(int64) reduce.Projector { return projector }
			p.newClusterer = func(int64) clusterers.Clusterer { return clusterer }

			result, err := p.Cluster(tt.data)

			require.Error(t, err)
			assert.Nil(t, result)

			var cfgErr *ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)

			// Fail-fast: no class may have been processed.
			assert.Zero(t, projector.calls)
			assert.Zero(t, clusterer.calls)
		})
	}
}

func TestClusterConfigurationErrorMessage(t *testing.T) {
	p := New(WithReduceMethod("bogus"))

	_, err := p.Cluster([][][]float64{generateBlobs(10, 20, 1, 0)})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
	assert.Contains(t, err.Error(), "FastICA")
	assert.Contains(t, err.Error(), "PCA")
}

func TestClusterInsufficientData(t *testing.T) {
	tests := []struct {
		name      string
		opts      []Option
		data      [][][]float64
		wantClass int
		wantRows  int
	}{
		{
			name:      "empty class",
			opts:      nil,
			data:      [][][]float64{generateBlobs(10, 20, 1, 0), {}},
			wantClass: 1,
			wantRows:  0,
		},
		{
			name:      "more clusters than samples",
			opts:      []Option{WithClusters(5)},
			data:      [][][]float64{generateBlobs(3, 20, 1, 0)},
			wantClass: 0,
			wantRows:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.opts...)
			result, err := p.Cluster(tt.data)

			require.Error(t, err)
			assert.Nil(t, result)

			var dataErr *InsufficientDataError
			require.ErrorAs(t, err, &dataErr)
			assert.Equal(t, tt.wantClass, dataErr.Class)
			assert.Equal(t, tt.wantRows, dataErr.Rows)
		})
	}
}

func TestClusterShapeInvariants(t *testing.T) {
	activations := [][][]float64{
		generateBlobs(40, 20, 2, 1),
		generateBlobs(60, 20, 2, 2),
		generateBlobs(25, 20, 2, 3),
	}

	p := New(WithReduceMethod(ReducePCA), WithClusters(2), WithDims(10))
	result, err := p.Cluster(activations)

	require.NoError(t, err)
	require.Len(t, result.Assignments, len(activations))
	require.Len(t, result.Reduced, len(activations))

	for i, ac := range activations {
		assert.Len(t, result.Assignments[i], len(ac))
		assert.Len(t, result.Reduced[i], len(ac))
		assert.Len(t, result.Reduced[i][0], 10)

		for _, label := range result.Assignments[i] {
			assert.GreaterOrEqual(t, label, 0)
			assert.Less(t, label, 2)
		}
	}
}

func TestClusterPassThrough(t *testing.T) {
	// 50 examples with only 5 activation features: below the 10-dim
	// target, so reduction must be skipped entirely.
	activations := [][][]float64{generateBlobs(50, 5, 2, 4)}

	p := New(WithReduceMethod(ReducePCA))
	projector := &countingProjector{}
	p.newProjector = func(int64) reduce.Projector { return projector }

	result, err := p.Cluster(activations)

	require.NoError(t, err)
	assert.Zero(t, projector.calls, "no reduction may run for low-dimensional activations")

	// Pass-through hands back the caller's matrix, not a copy.
	require.Len(t, result.Reduced[0], 50)
	assert.Equal(t, activations[0], result.Reduced[0])
	assert.Same(t, &activations[0][0], &result.Reduced[0][0])
}

func TestClusterReducedDimensionality(t *testing.T) {
	tests := []struct {
		name   string
		method ReduceMethod
	}{
		{name: "PCA", method: ReducePCA},
		{name: "FastICA", method: ReduceFastICA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			activations := [][][]float64{generateBlobs(100, 20, 2, 5)}

			p := New(WithReduceMethod(tt.method), WithDims(10))
			result, err := p.Cluster(activations)

			require.NoError(t, err)
			require.Len(t, result.Reduced[0], 100)
			for _, row := range result.Reduced[0] {
				assert.Len(t, row, 10)
			}
		})
	}
}

func TestClusterDeterminism(t *testing.T) {
	tests := []struct {
		name   string
		method ReduceMethod
	}{
		{name: "PCA with KMeans", method: ReducePCA},
		{name: "FastICA with KMeans", method: ReduceFastICA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			activations := [][][]float64{
				generateBlobs(80, 20, 2, 6),
				generateBlobs(60, 20, 2, 7),
			}

			first, err := New(WithReduceMethod(tt.method), WithSeed(99)).Cluster(activations)
			require.NoError(t, err)

			second, err := New(WithReduceMethod(tt.method), WithSeed(99)).Cluster(activations)
			require.NoError(t, err)

			assert.Equal(t, first.Assignments, second.Assignments)
		})
	}
}

func TestClusterBinarySplit(t *testing.T) {
	// Two classes, each mixing two well-separated Gaussian blobs. The
	// blob membership is the ground truth the pipeline never sees.
	const perBlob = 50

	activations := make([][][]float64, 2)
	for class := range activations {
		activations[class] = generateBlobs(2*perBlob, 20, 2, int64(10+class))
	}

	p := New(
		WithClusters(2),
		WithDims(10),
		WithReduceMethod(ReducePCA),
		WithSeed(42),
	)
	result, err := p.Cluster(activations)
	require.NoError(t, err)

	for class, labels := range result.Assignments {
		require.Len(t, labels, 2*perBlob)

		// Both clusters must be populated.
		sizes := make([]int, 2)
		for _, c := range labels {
			sizes[c]++
		}
		assert.NotZero(t, sizes[0], "class %d cluster 0 empty", class)
		assert.NotZero(t, sizes[1], "class %d cluster 1 empty", class)

		// Majority membership must match the generating blobs: rows
		// [0, perBlob) come from the first blob, the rest from the second.
		agree := 0
		for j := 0; j < perBlob; j++ {
			if labels[j] == labels[0] {
				agree++
			}
		}
		for j := perBlob; j < 2*perBlob; j++ {
			if labels[j] != labels[0] {
				agree++
			}
		}
		assert.GreaterOrEqual(t, agree, 2*perBlob*9/10,
			"class %d cluster assignment diverges from generating blobs", class)
	}
}

func TestClusterInputNotMutated(t *testing.T) {
	activations := [][][]float64{generateBlobs(30, 20, 2, 8)}
	original := make([][]float64, len(activations[0]))
	for i, row := range activations[0] {
		original[i] = append([]float64(nil), row...)
	}

	_, err := New(WithReduceMethod(ReducePCA)).Cluster(activations)

	require.NoError(t, err)
	assert.Equal(t, original, activations[0])
}

// countingProjector records invocations without reducing anything.
type countingProjector struct {
	calls int
}

func (c *countingProjector) Fit(data [][]float64) error {
	c.calls++
	return nil
}

func (c *countingProjector) Transform(data [][]float64) ([][]float64, error) {
	c.calls++
	return data, nil
}

func (c *countingProjector) FitTransform(data [][]float64) ([][]float64, error) {
	c.calls++
	return data, nil
}

// countingClusterer records invocations and assigns everything to cluster 0.
type countingClusterer struct {
	calls int
}

func (c *countingClusterer) Fit(data [][]float64) error {
	c.calls++
	return nil
}

func (c *countingClusterer) Predict(data [][]float64) ([]int, error) {
	c.calls++
	return make([]int, len(data)), nil
}

func (c *countingClusterer) FitPredict(data [][]float64) ([]int, error) {
	c.calls++
	return make([]int, len(data)), nil
}

// generateBlobs creates n rows of dims-dimensional points drawn from
// nBlobs well-separated Gaussian blobs, rows grouped by blob.
func generateBlobs(n, dims, nBlobs int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	data := make([][]float64, n)
	for i := 0; i < n; i++ {
		blob := 0
		if nBlobs > 1 {
			blob = i * nBlobs / n
		}
		row := make([]float64, dims)
		for j := range row {
			row[j] = rng.NormFloat64() + float64(blob)*8.0
		}
		data[i] = row
	}
	return data
}
