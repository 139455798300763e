// Package batch runs independent kernel instances over a set of parameter
// points in parallel.
//
// Instances share only the immutable model. Each owns its lattice, its
// availability lists and a random stream seeded from the batch seed, so a
// batch is reproducible regardless of worker count or scheduling order.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kmc-sim/kmc-sim/sim"
	"github.com/kmc-sim/kmc-sim/sim/model"
	"github.com/kmc-sim/kmc-sim/sim/rates"
)

// InstanceID uniquely identifies a kernel instance within a batch.
// Uses distinct type (not alias) to prevent accidental string mixing.
type InstanceID string

// Config controls a batch. Points are parameter overrides applied to the
// model's own values.
type Config struct {
	Size    []int
	Seed    int64
	Workers int // 0 uses GOMAXPROCS
	Repeats int // runs per point; values below 1 mean 1
	Warmup  sim.Limits
	Sample  sim.Limits
	Points  []map[string]float64
}

// Result is the outcome of one instance.
type Result struct {
	Instance InstanceID
	Point    int
	Repeat   int
	Seed     int64
	Params   map[string]float64
	// Absorbed is set when the lattice reached a state with no applicable
	// process; Metrics then describe that state.
	Absorbed bool
	Metrics  *sim.Metrics
	Elapsed  time.Duration
}

// Runner executes a batch for one model.
type Runner struct {
	model *model.Model
	cfg   Config
}

// NewRunner creates a Runner. The model is shared read-only by all instances.
func NewRunner(m *model.Model, cfg Config) *Runner {
	if cfg.Repeats < 1 {
		cfg.Repeats = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if len(cfg.Points) == 0 {
		cfg.Points = []map[string]float64{{}}
	}
	return &Runner{model: m, cfg: cfg}
}

type job struct {
	id     InstanceID
	point  int
	repeat int
	seed   int64
	params map[string]float64
}

// jobs resolves every instance up front. Seeds are drawn in instance order
// from the batch seed, so they do not depend on scheduling.
func (r *Runner) jobs() ([]job, error) {
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(r.cfg.Seed))
	base := r.model.Parameters()
	var out []job
	for pi, point := range r.cfg.Points {
		params, err := rates.Override(base, point)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", pi, err)
		}
		for rep := 0; rep < r.cfg.Repeats; rep++ {
			n := len(out)
			out = append(out, job{
				id:     InstanceID(sim.SubsystemInstance(n)),
				point:  pi,
				repeat: rep,
				seed:   rng.ForSubsystem(sim.SubsystemInstance(n)).Int63(),
				params: params,
			})
		}
	}
	return out, nil
}

// Run executes every instance with at most Workers in flight. The first
// failing instance cancels the rest. Results are ordered by instance.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	jobs, err := r.jobs()
	if err != nil {
		return nil, err
	}
	logrus.Infof("batch: %d instances over %d points, %d workers", len(jobs), len(r.cfg.Points), r.cfg.Workers)

	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, j := range jobs {
		g.Go(func() error {
			res, err := r.runInstance(gctx, j)
			if err != nil {
				return fmt.Errorf("instance %s: %w", j.id, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) runInstance(ctx context.Context, j job) (Result, error) {
	start := time.Now()
	res := Result{Instance: j.id, Point: j.point, Repeat: j.repeat, Seed: j.seed, Params: j.params}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	k := sim.NewKernel(r.model)
	if err := k.RefreshRates(rates.NewInterpreter(), j.params); err != nil {
		return res, err
	}
	if err := k.Allocate(r.cfg.Size, j.seed); err != nil {
		return res, err
	}
	defer k.Deallocate()

	for _, phase := range []struct {
		name string
		lim  sim.Limits
	}{{"warmup", r.cfg.Warmup}, {"sample", r.cfg.Sample}} {
		if phase.name == "sample" {
			k.ResetCounters()
		}
		if phase.lim.Steps <= 0 && phase.lim.Time <= 0 {
			continue
		}
		lim := phase.lim
		if lim.Time > 0 {
			// phase times are relative to the start of the phase
			lim.Time += k.Time()
		}
		err := k.Run(ctx, lim)
		if errors.Is(err, sim.ErrDegenerateRate) {
			logrus.Warnf("instance %s: no applicable process during %s at t=%g", j.id, phase.name, k.Time())
			res.Absorbed = true
			break
		}
		if err != nil {
			return res, err
		}
	}

	res.Metrics = k.Metrics()
	res.Elapsed = time.Since(start)
	logrus.WithFields(logrus.Fields{
		"instance": j.id,
		"point":    j.point,
		"steps":    res.Metrics.Steps,
		"time":     res.Metrics.Time,
		"elapsed":  res.Elapsed,
	}).Debug("instance finished")
	return res, nil
}
