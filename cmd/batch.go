package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kmc-sim/kmc-sim/sim/batch"
)

var (
	sweepPath    string // Path to the sweep YAML
	batchSeed    int64  // Overrides the sweep seed when set
	batchWorkers int    // Overrides the sweep worker count when set
	batchOutput  string // Long-format CSV of every instance
	batchSummary string // Per-point mean and spread CSV
)

// batchCmd runs a parameter sweep from a YAML file
var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run independent simulations over a parameter sweep",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadSweep(sweepPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		// Flags given on the command line win over the sweep file.
		if cmd.Flags().Changed("seed") {
			cfg.Seed = batchSeed
		}
		if cmd.Flags().Changed("workers") {
			cfg.Workers = batchWorkers
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := runSweep(ctx, cfg, batchOutput, batchSummary, cmd.OutOrStdout()); err != nil {
			logrus.Fatalf("batch failed: %v", err)
		}
		logrus.Info("Batch complete.")
	},
}

// loadSweep reads and validates a sweep file. A relative model path is
// resolved against the directory of the sweep file.
func loadSweep(path string) (*batch.SweepConfig, error) {
	if path == "" {
		return nil, errors.New("--config is required")
	}
	cfg, err := batch.LoadSweep(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sweep %s: %w", path, err)
	}
	if !filepath.IsAbs(cfg.Model) {
		cfg.Model = filepath.Join(filepath.Dir(path), cfg.Model)
	}
	return cfg, nil
}

// runSweep executes the sweep and writes its outputs. Without an output
// path the per-point summary goes to w.
func runSweep(ctx context.Context, cfg *batch.SweepConfig, output, summary string, w io.Writer) error {
	m, err := loadModel(cfg.Model)
	if err != nil {
		return err
	}
	results, err := batch.NewRunner(m, cfg.RunConfig()).Run(ctx)
	if err != nil {
		return err
	}
	absorbed := 0
	for _, res := range results {
		if res.Absorbed {
			absorbed++
		}
	}
	if absorbed > 0 {
		logrus.Warnf("%d of %d instances reached an absorbing state", absorbed, len(results))
	}

	if output != "" {
		if err := writeResults(output, results); err != nil {
			return err
		}
	}
	summaries := batch.Summarize(results)
	if summary == "" && output == "" {
		return batch.WriteSummary(w, summaries)
	}
	if summary == "" {
		return nil
	}
	f, closeFn, err := createOutput(summary)
	if err != nil {
		return err
	}
	if err := batch.WriteSummary(f, summaries); err != nil {
		_ = closeFn()
		return err
	}
	return closeFn()
}

func init() {
	batchCmd.Flags().StringVar(&sweepPath, "config", "", "Path to the sweep YAML")
	batchCmd.Flags().Int64Var(&batchSeed, "seed", 0, "Batch seed (overrides the sweep file)")
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "Concurrent instances, 0 = GOMAXPROCS (overrides the sweep file)")
	batchCmd.Flags().StringVar(&batchOutput, "output", "", "Write every instance as long-format CSV to this file (- for stdout)")
	batchCmd.Flags().StringVar(&batchSummary, "summary", "", "Write the per-point summary CSV to this file (- for stdout)")
}
