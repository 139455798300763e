package batch

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/kmc-sim/kmc-sim/sim"
)

// LimitsConfig bounds one phase of a run. Zero fields are unbounded, but a
// phase needs at least one bound.
type LimitsConfig struct {
	Steps int64   `yaml:"steps"`
	Time  float64 `yaml:"time"`
}

// SweepConfig describes a parameter sweep: every point is run Repeats times,
// each run relaxing for Warmup and then sampling for Sample.
type SweepConfig struct {
	Model   string               `yaml:"model"`
	Size    []int                `yaml:"size"`
	Seed    int64                `yaml:"seed"`
	Workers int                  `yaml:"workers"`
	Repeats int                  `yaml:"repeats"`
	Warmup  LimitsConfig         `yaml:"warmup"`
	Sample  LimitsConfig         `yaml:"sample"`
	Points  []map[string]float64 `yaml:"points"`
	Grid    map[string][]float64 `yaml:"grid"`
}

// LoadSweep reads a sweep file. Unknown fields are rejected.
func LoadSweep(path string) (*SweepConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sweep config: %w", err)
	}
	var cfg SweepConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing sweep config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the sweep for missing or out-of-range fields.
func (c *SweepConfig) Validate() error {
	if c.Model == "" {
		return errors.New("model: path is required")
	}
	if len(c.Size) == 0 {
		return errors.New("size: at least one extent is required")
	}
	for i, n := range c.Size {
		if n < 1 {
			return fmt.Errorf("size[%d]: must be positive, got %d", i, n)
		}
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers: must be >= 0, got %d", c.Workers)
	}
	if c.Repeats < 0 {
		return fmt.Errorf("repeats: must be >= 0, got %d", c.Repeats)
	}
	if c.Sample.Steps <= 0 && c.Sample.Time <= 0 {
		return errors.New("sample: steps or time is required")
	}
	for name, lim := range map[string]LimitsConfig{"warmup": c.Warmup, "sample": c.Sample} {
		if lim.Steps < 0 || lim.Time < 0 {
			return fmt.Errorf("%s: limits must be >= 0", name)
		}
	}
	for name, values := range c.Grid {
		if len(values) == 0 {
			return fmt.Errorf("grid.%s: at least one value is required", name)
		}
	}
	return nil
}

// Expand lists the explicit points followed by the cartesian product of the
// grid, varying the alphabetically last parameter fastest. A sweep with
// neither yields one point with no overrides.
func (c *SweepConfig) Expand() []map[string]float64 {
	out := make([]map[string]float64, 0, len(c.Points))
	for _, p := range c.Points {
		out = append(out, maps.Clone(p))
	}
	if len(c.Grid) > 0 {
		names := slices.Sorted(maps.Keys(c.Grid))
		grid := []map[string]float64{{}}
		for _, name := range names {
			var next []map[string]float64
			for _, partial := range grid {
				for _, v := range c.Grid[name] {
					p := maps.Clone(partial)
					p[name] = v
					next = append(next, p)
				}
			}
			grid = next
		}
		out = append(out, grid...)
	}
	if len(out) == 0 {
		out = append(out, map[string]float64{})
	}
	return out
}

// RunConfig converts the sweep into runner settings.
func (c *SweepConfig) RunConfig() Config {
	return Config{
		Size:    slices.Clone(c.Size),
		Seed:    c.Seed,
		Workers: c.Workers,
		Repeats: max(c.Repeats, 1),
		Warmup:  sim.Limits{Steps: c.Warmup.Steps, Time: c.Warmup.Time},
		Sample:  sim.Limits{Steps: c.Sample.Steps, Time: c.Sample.Time},
		Points:  c.Expand(),
	}
}
