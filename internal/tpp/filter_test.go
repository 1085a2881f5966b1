package tpp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func curve(dataset, id string, n int, qupm int) []Measurement {
	ms := make([]Measurement, n)
	for i := range ms {
		ms[i] = Measurement{
			Dataset:              dataset,
			UniqueID:             id,
			RelAbundance:         1 - float64(i)/float64(n),
			Temperature:          37 + 3*float64(i),
			Replicate:            1,
			UniquePeptideMatches: qupm,
		}
	}
	return ms
}

func TestFilter(t *testing.T) {
	var ms []Measurement
	ms = append(ms, curve(`A`, `P1`, 10, 2)...)
	ms = append(ms, curve(`A`, `P2`, 10, 1)...)
	ms = append(ms, curve(`A`, `##P3`, 10, 5)...)
	ms = append(ms, curve(`A`, `P4`, 10, 0)...)
	missing := curve(`A`, `P5`, 10, 2)
	missing[3].RelAbundance = math.NaN()
	ms = append(ms, missing...)
	// Dataset B has shorter curves; its maximum is independent of A
	ms = append(ms, curve(`B`, `P1`, 6, 2)...)
	ms = append(ms, curve(`B`, `P6`, 5, 2)...)

	out, sum := Filter(ms, DefaultFilterOptions)

	assert.Equal(t, len(ms), sum.RowsIn)
	assert.Equal(t, 10, sum.DecoyRows)
	assert.Equal(t, 10, sum.LowConfidenceRows)
	assert.Equal(t, 1, sum.MissingValueRows)
	assert.Equal(t, 9+5, sum.IncompleteRows)
	assert.Equal(t, 2, sum.IncompleteProteins)
	assert.Equal(t, 3, sum.ProteinsOut)
	assert.Equal(t, 26, sum.RowsOut)
	require.Len(t, out, 26)

	groups := GroupByProtein(out)
	require.Len(t, groups, 3)
	assert.Equal(t, `A`, groups[0].Dataset)
	assert.Equal(t, `P1`, groups[0].UniqueID)
	assert.Equal(t, `P2`, groups[1].UniqueID)
	assert.Equal(t, `B`, groups[2].Dataset)
	assert.Len(t, groups[2].Points, 6)
}

func TestFilterKeepDecoys(t *testing.T) {
	ms := curve(`A`, `##P3`, 4, 1)
	out, sum := Filter(ms, FilterOptions{MinUniquePeptides: 1, KeepDecoys: true})
	assert.Len(t, out, 4)
	assert.Zero(t, sum.DecoyRows)
}

func TestConditions(t *testing.T) {
	g := Group{Dataset: `A`, UniqueID: `P1`}
	for _, c := range []float64{2, 0, 2, 0, 0} {
		g.Points = append(g.Points, Measurement{CompoundConcentration: c})
	}
	conds := g.Conditions()
	require.Len(t, conds, 2)
	assert.Equal(t, 0.0, conds[0].Concentration)
	assert.Len(t, conds[0].Points, 3)
	assert.Equal(t, `2`, conds[1].Label())
	assert.Len(t, conds[1].Points, 2)
}
