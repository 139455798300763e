package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kmc-sim/kmc-sim/sim"
	"github.com/kmc-sim/kmc-sim/sim/batch"
	"github.com/kmc-sim/kmc-sim/sim/rates"
	"github.com/kmc-sim/kmc-sim/sim/trace"
)

// runOptions holds the flags of the run command.
type runOptions struct {
	modelPath     string
	size          []int
	seed          int64
	steps         int64   // sampled steps
	simTime       float64 // sampled simulated time
	warmupSteps   int64
	warmupTime    float64
	params        []string // NAME=VALUE overrides
	scatter       []string // SPECIES@LAYER.SITE=FRACTION initial placements
	traceLevel    string
	coverageEvery int64
	output        string // long-format CSV of the final metrics
	traceOutput   string // CSV of the recorded events
}

var runOpts runOptions

// runCmd executes a single simulation using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a kinetic Monte Carlo simulation of one model",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := simulate(ctx, runOpts, cmd.OutOrStdout()); err != nil {
			logrus.Fatalf("run failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// simulate runs one kernel and prints its metrics to w.
func simulate(ctx context.Context, opts runOptions, w io.Writer) error {
	if opts.steps <= 0 && opts.simTime <= 0 {
		return errors.New("--steps or --time is required")
	}
	if !trace.IsValidTraceLevel(opts.traceLevel) {
		return fmt.Errorf("invalid trace level %q", opts.traceLevel)
	}
	m, err := loadModel(opts.modelPath)
	if err != nil {
		return err
	}
	overrides, err := rates.ParseAssignments(opts.params)
	if err != nil {
		return err
	}
	params, err := rates.Override(m.Parameters(), overrides)
	if err != nil {
		return err
	}

	k := sim.NewKernel(m)
	if err := k.RefreshRates(rates.NewInterpreter(), params); err != nil {
		return err
	}
	k.EnableTrace(trace.TraceConfig{Level: trace.TraceLevel(opts.traceLevel), CoverageEvery: opts.coverageEvery})
	if err := k.Allocate(opts.size, opts.seed); err != nil {
		return err
	}
	defer k.Deallocate()
	for _, arg := range opts.scatter {
		species, label, fraction, err := parseScatter(arg)
		if err != nil {
			return err
		}
		n, err := k.Scatter(species, label, fraction)
		if err != nil {
			return fmt.Errorf("--scatter %s: %w", arg, err)
		}
		logrus.Debugf("placed %s on %d %s sites", species, n, label)
	}
	logrus.Infof("Starting simulation of %s on %v sites, seed=%d", m.Name(), opts.size, opts.seed)

	absorbed := false
	phases := []struct {
		name string
		lim  sim.Limits
	}{
		{"warmup", sim.Limits{Steps: opts.warmupSteps, Time: opts.warmupTime}},
		{"sample", sim.Limits{Steps: opts.steps, Time: opts.simTime}},
	}
	for _, phase := range phases {
		if phase.name == "sample" {
			k.ResetCounters()
		}
		if absorbed || (phase.lim.Steps <= 0 && phase.lim.Time <= 0) {
			continue
		}
		lim := phase.lim
		if lim.Time > 0 {
			lim.Time += k.Time()
		}
		err := k.Run(ctx, lim)
		if errors.Is(err, sim.ErrDegenerateRate) {
			logrus.Warnf("no applicable process during %s at t=%g; stopping", phase.name, k.Time())
			absorbed = true
			continue
		}
		if err != nil {
			return err
		}
	}

	metrics := k.Metrics()
	metrics.Print(w)

	if opts.output != "" {
		res := batch.Result{Instance: "run", Seed: opts.seed, Params: params, Absorbed: absorbed, Metrics: metrics}
		if err := writeResults(opts.output, []batch.Result{res}); err != nil {
			return err
		}
	}
	if tr := k.Trace(); tr != nil {
		summary := trace.Summarize(tr)
		logrus.Infof("trace: %d events over %d sites, mean dt=%g, max dt=%g",
			summary.TotalEvents, summary.UniqueSites, summary.MeanDt, summary.MaxDt)
		if opts.traceOutput != "" {
			if err := writeEvents(opts.traceOutput, tr.Events); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseScatter splits "SPECIES@LAYER.SITE=FRACTION".
func parseScatter(arg string) (species, label string, fraction float64, err error) {
	target, value, ok := strings.Cut(arg, "=")
	if ok {
		species, label, ok = strings.Cut(target, "@")
	}
	if !ok || species == "" || label == "" {
		return "", "", 0, fmt.Errorf("invalid --scatter %q: want SPECIES@LAYER.SITE=FRACTION", arg)
	}
	fraction, err = strconv.ParseFloat(value, 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid --scatter %q: %w", arg, err)
	}
	return species, label, fraction, nil
}

func writeResults(path string, results []batch.Result) error {
	f, closeFn, err := createOutput(path)
	if err != nil {
		return err
	}
	if err := batch.NewCSVWriter(f).Write(results); err != nil {
		_ = closeFn()
		return err
	}
	return closeFn()
}

func writeEvents(path string, events []trace.EventRecord) error {
	f, closeFn, err := createOutput(path)
	if err != nil {
		return err
	}
	if err := gocsv.Marshal(events, f); err != nil {
		_ = closeFn()
		return fmt.Errorf("writing trace: %w", err)
	}
	return closeFn()
}

func init() {
	runCmd.Flags().StringVar(&runOpts.modelPath, "model", "", "Path to the YAML model")
	runCmd.Flags().IntSliceVar(&runOpts.size, "size", nil, "Lattice size in unit cells per active axis (e.g. 20,20)")
	runCmd.Flags().Int64Var(&runOpts.seed, "seed", 42, "Seed of the kernel random stream")
	runCmd.Flags().Int64Var(&runOpts.steps, "steps", 0, "Number of sampled steps (0 = unbounded)")
	runCmd.Flags().Float64Var(&runOpts.simTime, "time", 0, "Simulated time to sample (0 = unbounded)")
	runCmd.Flags().Int64Var(&runOpts.warmupSteps, "warmup-steps", 0, "Steps to relax before sampling")
	runCmd.Flags().Float64Var(&runOpts.warmupTime, "warmup-time", 0, "Simulated time to relax before sampling")
	runCmd.Flags().StringArrayVar(&runOpts.params, "param", nil, "Parameter override NAME=VALUE (can be repeated)")
	runCmd.Flags().StringArrayVar(&runOpts.scatter, "scatter", nil, "Random initial placement SPECIES@LAYER.SITE=FRACTION (can be repeated)")

	// Output
	runCmd.Flags().StringVar(&runOpts.traceLevel, "trace", string(trace.TraceLevelNone), "Trace level (none, events)")
	runCmd.Flags().Int64Var(&runOpts.coverageEvery, "coverage-every", 0, "Sample the coverage into the trace every N steps")
	runCmd.Flags().StringVar(&runOpts.output, "output", "", "Write final metrics as CSV to this file (- for stdout)")
	runCmd.Flags().StringVar(&runOpts.traceOutput, "trace-output", "", "Write traced events as CSV to this file")
}
