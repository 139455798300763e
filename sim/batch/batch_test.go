package batch

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmc-sim/kmc-sim/sim"
	"github.com/kmc-sim/kmc-sim/sim/internal/testutil"
	"github.com/kmc-sim/kmc-sim/sim/rates"
)

func TestSweepConfig_Expand(t *testing.T) {
	cfg := SweepConfig{
		Points: []map[string]float64{{"T": 500}},
		Grid:   map[string][]float64{"T": {600, 700}, "p": {1, 2}},
	}

	got := cfg.Expand()

	want := []map[string]float64{
		{"T": 500},
		{"T": 600, "p": 1},
		{"T": 600, "p": 2},
		{"T": 700, "p": 1},
		{"T": 700, "p": 2},
	}
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("Expand mismatch (-want +got):\n%s", d)
	}
	assert.Equal(t, []map[string]float64{{}}, (&SweepConfig{}).Expand())
}

func TestSweepConfig_Validate(t *testing.T) {
	valid := func() SweepConfig {
		return SweepConfig{Model: "m.yaml", Size: []int{4}, Sample: LimitsConfig{Steps: 10}}
	}
	tests := []struct {
		name    string
		mutate  func(c *SweepConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(c *SweepConfig) {}},
		{name: "no model", mutate: func(c *SweepConfig) { c.Model = "" }, wantErr: "model"},
		{name: "no size", mutate: func(c *SweepConfig) { c.Size = nil }, wantErr: "size"},
		{name: "zero size", mutate: func(c *SweepConfig) { c.Size = []int{0} }, wantErr: "size[0]"},
		{name: "negative workers", mutate: func(c *SweepConfig) { c.Workers = -1 }, wantErr: "workers"},
		{name: "no sample bound", mutate: func(c *SweepConfig) { c.Sample = LimitsConfig{} }, wantErr: "sample"},
		{name: "negative warmup", mutate: func(c *SweepConfig) { c.Warmup.Time = -1 }, wantErr: "warmup"},
		{name: "empty grid axis", mutate: func(c *SweepConfig) { c.Grid = map[string][]float64{"T": nil} }, wantErr: "grid.T"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadSweep_StrictFields(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("model: m.yaml\nsize: [4, 4]\nsample:\n  time: 2\ngrid:\n  T: [500, 600]\n"), 0o644))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("model: m.yaml\nsizes: [4]\n"), 0o644))

	cfg, err := LoadSweep(good)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4}, cfg.Size)
	assert.Equal(t, 2.0, cfg.Sample.Time)
	run := cfg.RunConfig()
	assert.Equal(t, 1, run.Repeats)
	assert.Len(t, run.Points, 2)

	_, err = LoadSweep(bad)
	assert.Error(t, err)
}

func TestRunner_ReproducibleAcrossWorkerCounts(t *testing.T) {
	m := testutil.LoadModel(t, "co_oxidation.yaml")
	cfg := Config{
		Size:    []int{4, 4},
		Seed:    99,
		Repeats: 2,
		Warmup:  sim.Limits{Steps: 50},
		Sample:  sim.Limits{Steps: 200},
		Points:  []map[string]float64{{"p_CO": 0.5}, {"p_CO": 2}},
	}

	cfg.Workers = 1
	serial, err := NewRunner(m, cfg).Run(context.Background())
	require.NoError(t, err)
	cfg.Workers = 4
	parallel, err := NewRunner(m, cfg).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, serial, 4)
	for i := range serial {
		assert.Equal(t, InstanceID(sim.SubsystemInstance(i)), serial[i].Instance)
		assert.Equal(t, serial[i].Seed, parallel[i].Seed)
		assert.Equal(t, serial[i].Metrics.Time, parallel[i].Metrics.Time)
		assert.Equal(t, serial[i].Metrics.Fired, parallel[i].Metrics.Fired)
		assert.Equal(t, int64(250), serial[i].Metrics.Steps)
	}
	assert.Equal(t, 0, serial[1].Point)
	assert.Equal(t, 1, serial[1].Repeat)
	assert.Equal(t, 1, serial[2].Point)
	assert.Equal(t, 2.0, serial[2].Params["p_CO"])
	assert.NotEqual(t, serial[0].Seed, serial[1].Seed)

	// AND sample counters exclude the warmup
	var fired int64
	for _, n := range serial[0].Metrics.Fired {
		fired += n
	}
	assert.Equal(t, int64(200), fired)
}

func TestRunner_UnknownParameter(t *testing.T) {
	m := testutil.LoadModel(t, "mirror.yaml")
	_, err := NewRunner(m, Config{Size: []int{2}, Sample: sim.Limits{Steps: 1}, Points: []map[string]float64{{"r3": 1}}}).Run(context.Background())
	assert.ErrorIs(t, err, rates.ErrUnknownParameter)
}

func TestRunner_AbsorbingStateIsNotAnError(t *testing.T) {
	// GIVEN a model that runs out of applicable processes after 4 events
	m := testutil.LoadModel(t, "two_site.yaml")

	results, err := NewRunner(m, Config{Size: []int{4}, Sample: sim.Limits{Steps: 10}}).Run(context.Background())

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Absorbed)
	assert.Equal(t, int64(4), results[0].Metrics.Steps)
}

func TestRunner_Cancelled(t *testing.T) {
	m := testutil.LoadModel(t, "mirror.yaml")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(m, Config{Size: []int{4}, Repeats: 3}).Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestCSVWriter_HeaderOnce(t *testing.T) {
	m := testutil.LoadModel(t, "mirror.yaml")
	results, err := NewRunner(m, Config{Size: []int{10}, Seed: 1, Repeats: 2, Sample: sim.Limits{Steps: 20}}).Run(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	w := NewCSVWriter(&buf)
	require.NoError(t, w.Write(results[:1]))
	require.NoError(t, w.Write(results[1:]))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "instance,point,repeat,seed,kind,name,value", lines[0])
	assert.Equal(t, 1, strings.Count(buf.String(), "instance,point"))
	assert.Len(t, lines, 1+len(Rows(results)))
	assert.Contains(t, buf.String(), "instance_1,0,1,")
	assert.Contains(t, buf.String(), ",fired,forward,")
}

func TestSummarize_MeanAndStdDev(t *testing.T) {
	mk := func(point int, tof float64) Result {
		return Result{Point: point, Metrics: &sim.Metrics{
			Tally: map[string]float64{"ox": tof * 10},
			TOF:   map[string]float64{"ox": tof},
		}}
	}
	results := []Result{mk(0, 1), mk(0, 3), mk(1, 5)}

	got := Summarize(results)

	want := []Summary{
		{Point: 0, Kind: KindTally, Name: "ox", N: 2, Mean: 20, StdDev: 14.142135623730951},
		{Point: 0, Kind: KindTOF, Name: "ox", N: 2, Mean: 2, StdDev: 1.4142135623730951},
		{Point: 1, Kind: KindTally, Name: "ox", N: 1, Mean: 50},
		{Point: 1, Kind: KindTOF, Name: "ox", N: 1, Mean: 5},
	}
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Point, got[i].Point)
		assert.Equal(t, want[i].Kind, got[i].Kind)
		assert.Equal(t, want[i].N, got[i].N)
		assert.InDelta(t, want[i].Mean, got[i].Mean, 1e-12)
		assert.InDelta(t, want[i].StdDev, got[i].StdDev, 1e-9)
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, got))
	assert.True(t, strings.HasPrefix(buf.String(), "point,kind,name,n,mean,std_dev\n"))
}
