package nparc

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// TestResult is the F-test outcome of one protein
type TestResult struct {
	Dataset  string
	UniqueID string
	FStat    float64
	PValue   float64
	PAdj     float64 // Benjamini-Hochberg adjusted within the dataset
}

// FTest computes F = (D2/D1)·(RSSDiff/s0²)/(RSSAlt/s0²) and its upper
// tail probability under F(D1, D2) for every applicable record of the
// dataset of dof, and adjusts the p-values with Benjamini-Hochberg.
func FTest(recs []Record, dof DOF) []TestResult {
	f := distuv.F{D1: dof.D1, D2: dof.D2}
	var results []TestResult
	for _, r := range recs {
		if r.Dataset != dof.Dataset || !r.Applicable {
			continue
		}
		diff := r.RSSDiff / dof.S0Sq
		alt := r.RSSAlt / dof.S0Sq
		stat := (dof.D2 / dof.D1) * diff / alt
		var p float64
		switch {
		case math.IsNaN(stat):
			p = math.NaN()
		case math.IsInf(stat, 1):
			p = 0
		default:
			p = f.Survival(stat)
		}
		results = append(results, TestResult{
			Dataset:  r.Dataset,
			UniqueID: r.UniqueID,
			FStat:    stat,
			PValue:   p,
		})
	}

	pv := make([]float64, len(results))
	for i, r := range results {
		pv[i] = r.PValue
	}
	for i, a := range AdjustBH(pv) {
		results[i].PAdj = a
	}
	return results
}

// AdjustBH returns Benjamini-Hochberg adjusted p-values in the order of
// p. NaN values are not counted as tests and stay NaN.
func AdjustBH(p []float64) []float64 {
	adj := make([]float64, len(p))
	idx := make([]int, 0, len(p))
	for i, v := range p {
		if math.IsNaN(v) {
			adj[i] = math.NaN()
			continue
		}
		idx = append(idx, i)
	}
	// Largest p-value first, so the running minimum implements the step-up
	sort.SliceStable(idx, func(a, b int) bool { return p[idx[a]] > p[idx[b]] })

	n := float64(len(idx))
	cumMin := math.Inf(1)
	for k, i := range idx {
		rank := n - float64(k)
		v := math.Min(1, p[i]*(n/rank))
		cumMin = math.Min(cumMin, v)
		adj[i] = cumMin
	}
	return adj
}

// Hits returns the results with an adjusted p-value at or below alpha,
// grouped by dataset and sorted by decreasing F statistic
func Hits(results []TestResult, alpha float64) map[string][]TestResult {
	hits := make(map[string][]TestResult)
	for _, r := range results {
		if r.PAdj <= alpha {
			hits[r.Dataset] = append(hits[r.Dataset], r)
		}
	}
	for _, h := range hits {
		sort.SliceStable(h, func(i, j int) bool { return h[i].FStat > h[j].FStat })
	}
	return hits
}
