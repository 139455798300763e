package batch

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/stat"
)

// Row kinds in long-format output.
const (
	KindParam    = "param"
	KindClock    = "clock"
	KindFired    = "fired"
	KindTally    = "tally"
	KindTOF      = "tof"
	KindCoverage = "coverage"
)

// Row is one value of one instance in long-format CSV output.
type Row struct {
	Instance string  `csv:"instance"`
	Point    int     `csv:"point"`
	Repeat   int     `csv:"repeat"`
	Seed     int64   `csv:"seed"`
	Kind     string  `csv:"kind"`
	Name     string  `csv:"name"`
	Value    float64 `csv:"value"`
}

// Rows flattens results into rows sorted by instance, kind order and name.
func Rows(results []Result) []Row {
	var out []Row
	for _, res := range results {
		add := func(kind string, values map[string]float64) {
			for _, name := range slices.Sorted(maps.Keys(values)) {
				out = append(out, Row{
					Instance: string(res.Instance),
					Point:    res.Point,
					Repeat:   res.Repeat,
					Seed:     res.Seed,
					Kind:     kind,
					Name:     name,
					Value:    values[name],
				})
			}
		}
		add(KindParam, res.Params)
		if res.Metrics == nil {
			continue
		}
		add(KindClock, map[string]float64{
			"steps": float64(res.Metrics.Steps),
			"time":  res.Metrics.Time,
		})
		fired := make(map[string]float64, len(res.Metrics.Fired))
		for name, n := range res.Metrics.Fired {
			fired[name] = float64(n)
		}
		add(KindFired, fired)
		add(KindTally, res.Metrics.Tally)
		add(KindTOF, res.Metrics.TOF)
		add(KindCoverage, res.Metrics.Coverage)
	}
	return out
}

// CSVWriter appends rows to w, writing the header with the first batch only.
type CSVWriter struct {
	w             io.Writer
	headerWritten bool
}

// NewCSVWriter creates a CSVWriter on w.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: w}
}

// Write appends the rows of results.
func (cw *CSVWriter) Write(results []Result) error {
	rows := Rows(results)
	if len(rows) == 0 {
		return nil
	}
	if !cw.headerWritten {
		if err := gocsv.Marshal(rows, cw.w); err != nil {
			return fmt.Errorf("writing results: %w", err)
		}
		cw.headerWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(rows, cw.w); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	return nil
}

// Summary is the spread of one value over the repeats of a point.
type Summary struct {
	Point  int     `csv:"point"`
	Kind   string  `csv:"kind"`
	Name   string  `csv:"name"`
	N      int     `csv:"n"`
	Mean   float64 `csv:"mean"`
	StdDev float64 `csv:"std_dev"`
}

// Summarize computes mean and sample standard deviation of the tally, TOF
// and coverage values per point. StdDev is zero for a single repeat.
func Summarize(results []Result) []Summary {
	type key struct {
		point      int
		kind, name string
	}
	values := make(map[key][]float64)
	var order []key
	for _, row := range Rows(results) {
		switch row.Kind {
		case KindTally, KindTOF, KindCoverage:
		default:
			continue
		}
		k := key{row.Point, row.Kind, row.Name}
		if _, ok := values[k]; !ok {
			order = append(order, k)
		}
		values[k] = append(values[k], row.Value)
	}
	slices.SortStableFunc(order, func(a, b key) int {
		if a.point != b.point {
			return a.point - b.point
		}
		if a.kind != b.kind {
			return kindRank(a.kind) - kindRank(b.kind)
		}
		switch {
		case a.name < b.name:
			return -1
		case a.name > b.name:
			return 1
		}
		return 0
	})

	out := make([]Summary, 0, len(order))
	for _, k := range order {
		xs := values[k]
		s := Summary{Point: k.point, Kind: k.kind, Name: k.name, N: len(xs)}
		if len(xs) == 1 {
			s.Mean = xs[0]
		} else {
			s.Mean, s.StdDev = stat.MeanStdDev(xs, nil)
		}
		out = append(out, s)
	}
	return out
}

func kindRank(kind string) int {
	return slices.Index([]string{KindParam, KindClock, KindFired, KindTally, KindTOF, KindCoverage}, kind)
}

// WriteSummary writes summaries as CSV with a header.
func WriteSummary(w io.Writer, summaries []Summary) error {
	if len(summaries) == 0 {
		return nil
	}
	if err := gocsv.Marshal(summaries, w); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}
