// Command poisonguard runs the activation-clustering pipeline over
// per-class activation matrices stored as CSV files.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/gopoisonguard/pkg/io"
	"github.com/hed1ad/gopoisonguard/pkg/io/csv"
	"github.com/hed1ad/gopoisonguard/pkg/poison"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "poisonguard",
		Short:         "Activation clustering for data-poisoning detection",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newClusterCmd())
	return root
}

type clusterOptions struct {
	clusters      int
	dims          int
	reduceMethod  string
	clusterMethod string
	seed          int64
	header        bool
	verbose       bool
}

func newClusterCmd() *cobra.Command {
	opts := &clusterOptions{}

	cmd := &cobra.Command{
		Use:   "cluster [class0.csv class1.csv ...]",
		Short: "Cluster per-class activations and report the partition",
		Long: `Cluster loads one activation matrix per CSV file (one file per class,
rows are examples, columns are activation features), reduces each class's
dimensionality, partitions the reduced points, and prints a JSON report
per class on stdout.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCluster(opts, args)
		},
	}

	cmd.Flags().IntVar(&opts.clusters, "clusters", 2, "number of clusters per class")
	cmd.Flags().IntVar(&opts.dims, "dims", 10, "target dimensionality of the reduction stage")
	cmd.Flags().StringVar(&opts.reduceMethod, "reduce", string(poison.ReduceFastICA),
		"dimensionality reduction method (FastICA or PCA)")
	cmd.Flags().StringVar(&opts.clusterMethod, "cluster-method", string(poison.ClusterKMeans),
		"clustering method (KMeans)")
	cmd.Flags().Int64Var(&opts.seed, "seed", 42, "random seed for reproducible clustering")
	cmd.Flags().BoolVar(&opts.header, "header", false, "treat the first CSV row as a header")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline diagnostics to stderr")

	return cmd
}

func runCluster(opts *clusterOptions, files []string) error {
	logger := zap.NewNop()
	if opts.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer l.Sync()
		logger = l
	}

	activations, err := loadClasses(files, opts.header)
	if err != nil {
		return err
	}

	pipeline := poison.New(
		poison.WithClusters(opts.clusters),
		poison.WithDims(opts.dims),
		poison.WithReduceMethod(poison.ReduceMethod(opts.reduceMethod)),
		poison.WithClusterMethod(poison.ClusterMethod(opts.clusterMethod)),
		poison.WithSeed(opts.seed),
		poison.WithLogger(logger),
	)

	result, err := pipeline.Cluster(activations)
	if err != nil {
		return err
	}

	reports := make([]io.Report, len(result.Assignments))
	for i, labels := range result.Assignments {
		sizes := make([]int, opts.clusters)
		for _, c := range labels {
			sizes[c]++
		}
		reports[i] = io.Report{
			Class:       i,
			Rows:        len(labels),
			ReducedDims: len(result.Reduced[i][0]),
			Sizes:       sizes,
			Assignments: labels,
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

// loadClasses reads one activation matrix per file, in argument order.
func loadClasses(files []string, header bool) ([][][]float64, error) {
	activations := make([][][]float64, 0, len(files))
	for _, name := range files {
		reader, err := csv.NewReader(name, csv.WithHeader(header))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		matrix, err := reader.Read()
		reader.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		activations = append(activations, matrix)
	}
	return activations, nil
}
