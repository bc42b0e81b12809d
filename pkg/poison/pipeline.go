// Package poison implements the activation-clustering primitive behind
// backdoor and data-poisoning detection.
//
// A trained classifier's activations are supplied already separated by
// class. For each class the pipeline reduces the activation dimensionality
// and partitions the reduced points into clusters; poisoned examples tend
// to land in a cluster apart from the clean examples of the same label.
// The pipeline only produces the partition, it does not decide which
// cluster, if any, is poisoned.
package poison

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hed1ad/gopoisonguard/pkg/clusterers"
	"github.com/hed1ad/gopoisonguard/pkg/clusterers/kmeans"
	"github.com/hed1ad/gopoisonguard/pkg/reduce"
	"github.com/hed1ad/gopoisonguard/pkg/reduce/ica"
	"github.com/hed1ad/gopoisonguard/pkg/reduce/pca"
)

// ReduceMethod selects the dimensionality reduction algorithm.
type ReduceMethod string

// Supported reduction methods.
const (
	ReduceFastICA ReduceMethod = "FastICA"
	ReducePCA     ReduceMethod = "PCA"
)

// ClusterMethod selects the clustering algorithm.
type ClusterMethod string

// Supported clustering methods.
const (
	ClusterKMeans ClusterMethod = "KMeans"
)

// SupportedReduceMethods lists the valid ReduceMethod values.
func SupportedReduceMethods() []string {
	return []string{string(ReduceFastICA), string(ReducePCA)}
}

// SupportedClusterMethods lists the valid ClusterMethod values.
func SupportedClusterMethods() []string {
	return []string{string(ClusterKMeans)}
}

// Result holds the per-class outputs of a pipeline run. Both slices are
// aligned index-for-index with the input activation set.
type Result struct {
	// Assignments[i][j] is the cluster label of row j of class i, in
	// [0, n_clusters). Labels are local to each class.
	Assignments [][]int

	// Reduced[i] is class i's activations after dimensionality reduction,
	// or the input matrix itself when reduction was skipped.
	Reduced [][][]float64
}

// Pipeline clusters per-class activations: reduce dimensionality, then
// partition. Configuration is fixed at construction; each Cluster call is
// independent and mutates no pipeline state.
type Pipeline struct {
	nClusters     int
	ndims         int
	reduceMethod  ReduceMethod
	clusterMethod ClusterMethod
	seed          int64
	icaMaxIter    int
	icaTol        float64
	logger        *zap.Logger

	// Factories build a fresh, identically configured instance per class
	// so no optimizer state leaks between classes. Overridable in tests.
	newProjector func(seed int64) reduce.Projector
	newClusterer func(seed int64) clusterers.Clusterer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClusters sets the number of clusters per class. The default of 2
// targets the canonical poison/clean binary split.
func WithClusters(n int) Option {
	return func(p *Pipeline) {
		p.nClusters = n
	}
}

// WithDims sets the target dimensionality of the reduction stage. Classes
// whose activations already have at most this many features skip reduction.
func WithDims(n int) Option {
	return func(p *Pipeline) {
		p.ndims = n
	}
}

// WithReduceMethod selects the dimensionality reduction algorithm.
func WithReduceMethod(m ReduceMethod) Option {
	return func(p *Pipeline) {
		p.reduceMethod = m
	}
}

// WithClusterMethod selects the clustering algorithm.
func WithClusterMethod(m ClusterMethod) Option {
	return func(p *Pipeline) {
		p.clusterMethod = m
	}
}

// WithSeed sets the base random seed. Each class derives its own seed from
// the base and its class index, so a fixed seed makes the whole run
// reproducible. The default is a fixed seed: two runs over the same input
// produce identical assignments unless the caller opts into a varying seed.
func WithSeed(seed int64) Option {
	return func(p *Pipeline) {
		p.seed = seed
	}
}

// WithLogger sets the logger used to surface skipped reductions and
// reduction non-convergence. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithICAMaxIterations caps the FastICA optimization loop.
func WithICAMaxIterations(n int) Option {
	return func(p *Pipeline) {
		p.icaMaxIter = n
	}
}

// WithICATolerance sets the FastICA convergence tolerance.
func WithICATolerance(tol float64) Option {
	return func(p *Pipeline) {
		p.icaTol = tol
	}
}

// New creates a Pipeline with the given options.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		nClusters:     2,
		ndims:         10,
		reduceMethod:  ReduceFastICA,
		clusterMethod: ClusterKMeans,
		seed:          42,
		icaMaxIter:    1000,
		icaTol:        0.005,
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Cluster reduces and partitions each class's activations.
//
// activations[i] is class i's activation matrix, rows are examples and
// columns are features. The input is never mutated. Configuration and
// input-shape problems are rejected before any class is processed; on
// error no partial result is returned.
func (p *Pipeline) Cluster(activations [][][]float64) (*Result, error) {
	if err := p.validate(activations); err != nil {
		return nil, err
	}

	newProjector := p.newProjector
	if newProjector == nil {
		newProjector = p.defaultProjector
	}
	newClusterer := p.newClusterer
	if newClusterer == nil {
		newClusterer = p.defaultClusterer
	}

	result := &Result{
		Assignments: make([][]int, 0, len(activations)),
		Reduced:     make([][][]float64, 0, len(activations)),
	}

	for i, ac := range activations {
		classSeed := p.seed + int64(i)

		var reduced [][]float64
		if len(ac[0]) > p.ndims {
			projected, err := newProjector(classSeed).FitTransform(ac)
			if err != nil {
				return nil, fmt.Errorf("class %d: reduce: %w", i, err)
			}
			reduced = projected
		} else {
			p.logger.Info("activation dimensionality at or below target, skipping reduction",
				zap.Int("class", i),
				zap.Int("dims", len(ac[0])),
				zap.Int("ndims", p.ndims))
			reduced = ac
		}

		labels, err := newClusterer(classSeed).FitPredict(reduced)
		if err != nil {
			return nil, fmt.Errorf("class %d: cluster: %w", i, err)
		}

		result.Reduced = append(result.Reduced, reduced)
		result.Assignments = append(result.Assignments, labels)
	}

	return result, nil
}

// validate rejects bad configuration and malformed classes up front so the
// per-class loop never starts on input that cannot complete.
func (p *Pipeline) validate(activations [][][]float64) error {
	if p.nClusters < 1 {
		return &ConfigurationError{Param: "n_clusters", Value: fmt.Sprintf("%d, must be positive", p.nClusters)}
	}
	if p.ndims < 1 {
		return &ConfigurationError{Param: "ndims", Value: fmt.Sprintf("%d, must be positive", p.ndims)}
	}

	switch p.reduceMethod {
	case ReduceFastICA, ReducePCA:
	default:
		return &ConfigurationError{
			Param:     "reduce method",
			Value:     string(p.reduceMethod),
			Supported: SupportedReduceMethods(),
		}
	}

	switch p.clusterMethod {
	case ClusterKMeans:
	default:
		return &ConfigurationError{
			Param:     "clustering method",
			Value:     string(p.clusterMethod),
			Supported: SupportedClusterMethods(),
		}
	}

	if len(activations) == 0 {
		return &ConfigurationError{Param: "activations", Value: "no classes supplied"}
	}

	for i, ac := range activations {
		if len(ac) == 0 {
			return &InsufficientDataError{Class: i}
		}
		if err := reduce.ValidateMatrix(ac); err != nil {
			return &ConfigurationError{Param: fmt.Sprintf("activations[%d]", i), Value: err.Error()}
		}
		if len(ac) < p.nClusters {
			return &InsufficientDataError{Class: i, Rows: len(ac), Required: p.nClusters}
		}
	}

	return nil
}

func (p *Pipeline) defaultProjector(seed int64) reduce.Projector {
	switch p.reduceMethod {
	case ReducePCA:
		return pca.New(pca.WithComponents(p.ndims))
	default:
		return ica.New(
			ica.WithComponents(p.ndims),
			ica.WithMaxIterations(p.icaMaxIter),
			ica.WithTolerance(p.icaTol),
			ica.WithSeed(seed),
			ica.WithLogger(p.logger),
		)
	}
}

func (p *Pipeline) defaultClusterer(seed int64) clusterers.Clusterer {
	return kmeans.New(
		kmeans.WithClusters(p.nClusters),
		kmeans.WithSeed(seed),
	)
}
