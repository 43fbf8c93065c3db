// internal/quality/stats.go
package quality

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// valid drops failed samples (<= 0) and returns a sorted copy.
func valid(samples []float64) []float64 {
	out := make([]float64, 0, len(samples))
	for _, v := range samples {
		if v > 0 {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

// Summarize computes mean, sample standard deviation, CV and p95 over
// the valid samples. A single sample has zero deviation.
func Summarize(samples []float64) Metric {
	x := valid(samples)
	m := Metric{N: len(x)}
	if m.N == 0 {
		return m
	}

	m.Mean = stat.Mean(x, nil)
	if m.N > 1 {
		m.StdDev = stat.StdDev(x, nil)
	}
	if m.Mean > 0 {
		m.CV = m.StdDev / m.Mean * 100
	}
	m.P95 = stat.Quantile(0.95, stat.Empirical, x, nil)
	return m
}

// sectorCV is the coefficient of variation across per-sector mean erase
// times. Fewer than two measurable sectors give 0.
func sectorCV(erase [][]float64) float64 {
	var means []float64
	for _, cycles := range erase {
		if m := Summarize(cycles); m.N > 0 {
			means = append(means, m.Mean)
		}
	}
	if len(means) < 2 {
		return 0
	}
	return Summarize(means).CV
}

// flatten joins per-sector series into one.
func flatten(series [][]float64) []float64 {
	var out []float64
	for _, s := range series {
		out = append(out, s...)
	}
	return out
}

// bitErrors counts differing bits between want and got.
func bitErrors(want, got []byte) int {
	n := 0
	for i := range want {
		d := want[i] ^ got[i]
		for d != 0 {
			d &= d - 1
			n++
		}
	}
	return n
}
