// Package testutil provides shared test infrastructure for the simulator.
// It loads the fixture models under testdata/models and holds assertion
// helpers used across the sim/ test packages.
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/kmc-sim/kmc-sim/sim/model"
)

// ModelPath resolves a fixture model by file name.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/models/.
func ModelPath(t testing.TB, name string) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", "models", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Failed to find fixture model: %v", err)
	}
	return path
}

// LoadModel loads and resolves a fixture model.
func LoadModel(t testing.TB, name string) *model.Model {
	t.Helper()

	p, err := model.Load(ModelPath(t, name))
	if err != nil {
		t.Fatalf("Failed to load fixture model %s: %v", name, err)
	}
	m, err := model.New(*p)
	if err != nil {
		t.Fatalf("Failed to resolve fixture model %s: %v", name, err)
	}
	return m
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
