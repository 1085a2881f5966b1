package tpp

import (
	"math"
	"strings"
)

// DecoyMarker marks decoy identifications in the uniqueID column
const DecoyMarker = `##`

// FilterOptions controls which measurements are kept
type FilterOptions struct {
	// Rows identified by fewer unique peptides are dropped
	MinUniquePeptides int
	// Keep decoy identifications
	KeepDecoys bool
}

// DefaultFilterOptions are the settings used in the published ATP analysis
var DefaultFilterOptions = FilterOptions{MinUniquePeptides: 1}

// FilterSummary counts the rows and proteins removed by each filter step
type FilterSummary struct {
	RowsIn             int
	DecoyRows          int
	LowConfidenceRows  int
	MissingValueRows   int
	IncompleteRows     int
	IncompleteProteins int
	RowsOut            int
	ProteinsOut        int
}

// Filter removes decoys, low confidence identifications, missing values
// and incomplete melting curves, in that order. A melting curve is
// incomplete if the protein has fewer remaining rows than the protein
// with the most rows in the same dataset.
func Filter(ms []Measurement, opts FilterOptions) ([]Measurement, FilterSummary) {
	var sum FilterSummary
	sum.RowsIn = len(ms)

	kept := make([]Measurement, 0, len(ms))
	for _, m := range ms {
		switch {
		case !opts.KeepDecoys && strings.Contains(m.UniqueID, DecoyMarker):
			sum.DecoyRows++
		case m.UniquePeptideMatches < opts.MinUniquePeptides:
			sum.LowConfidenceRows++
		case math.IsNaN(m.RelAbundance):
			sum.MissingValueRows++
		default:
			kept = append(kept, m)
		}
	}

	type key struct{ dataset, id string }
	n := make(map[key]int)
	maxN := make(map[string]int)
	for _, m := range kept {
		k := key{m.Dataset, m.UniqueID}
		n[k]++
		if n[k] > maxN[m.Dataset] {
			maxN[m.Dataset] = n[k]
		}
	}
	for k, c := range n {
		if c < maxN[k.dataset] {
			sum.IncompleteProteins++
		} else {
			sum.ProteinsOut++
		}
	}

	out := kept[:0]
	for _, m := range kept {
		if n[key{m.Dataset, m.UniqueID}] == maxN[m.Dataset] {
			out = append(out, m)
		} else {
			sum.IncompleteRows++
		}
	}
	sum.RowsOut = len(out)
	return out, sum
}
