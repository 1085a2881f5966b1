package tpp

import (
	"errors"
	"sort"
	"strconv"
)

// Measurement is one row of a tidy TPP table: the relative abundance of a
// protein at one temperature, replicate and compound concentration.
type Measurement struct {
	Dataset               string
	UniqueID              string
	RelAbundance          float64 // NaN when missing
	Temperature           float64
	CompoundConcentration float64
	Replicate             int
	UniquePeptideMatches  int
}

// Group holds all measurements of one protein in one dataset
type Group struct {
	Dataset  string
	UniqueID string
	Points   []Measurement
}

// Condition is the subset of a group measured at one compound concentration
type Condition struct {
	Concentration float64
	Points        []Measurement
}

var (
	// ErrMissingColumn means a required column is absent from the header
	ErrMissingColumn = errors.New("tpp: missing column")
	// ErrInvalidValue means a cell could not be parsed
	ErrInvalidValue = errors.New("tpp: invalid value")
	// ErrEmptyTable means the input has no header row
	ErrEmptyTable = errors.New("tpp: empty table")
)

// Column names of the tidy table
const (
	ColDataset               = `dataset`
	ColUniqueID              = `uniqueID`
	ColRelAbundance          = `relAbundance`
	ColTemperature           = `temperature`
	ColCompoundConcentration = `compoundConcentration`
	ColReplicate             = `replicate`
	ColUniquePeptideMatches  = `uniquePeptideMatches`
)

// Columns lists the required columns in the order they are written
var Columns = []string{
	ColDataset,
	ColUniqueID,
	ColRelAbundance,
	ColTemperature,
	ColCompoundConcentration,
	ColReplicate,
	ColUniquePeptideMatches,
}

// Temperatures returns the temperatures of the points
func Temperatures(points []Measurement) []float64 {
	t := make([]float64, len(points))
	for i, p := range points {
		t[i] = p.Temperature
	}
	return t
}

// Abundances returns the relative abundances of the points
func Abundances(points []Measurement) []float64 {
	y := make([]float64, len(points))
	for i, p := range points {
		y[i] = p.RelAbundance
	}
	return y
}

// Conditions partitions the group by compound concentration,
// lowest concentration first
func (g Group) Conditions() []Condition {
	idx := make(map[float64]int)
	var conds []Condition
	for _, p := range g.Points {
		i, ok := idx[p.CompoundConcentration]
		if !ok {
			i = len(conds)
			idx[p.CompoundConcentration] = i
			conds = append(conds, Condition{Concentration: p.CompoundConcentration})
		}
		conds[i].Points = append(conds[i].Points, p)
	}
	sort.Slice(conds, func(i, j int) bool {
		return conds[i].Concentration < conds[j].Concentration
	})
	return conds
}

// Label is a printable name of the condition
func (c Condition) Label() string {
	return strconv.FormatFloat(c.Concentration, 'g', -1, 64)
}

// GroupByProtein groups measurements by (dataset, protein). Groups are
// sorted by dataset, then by protein ID. Points keep their input order.
func GroupByProtein(ms []Measurement) []Group {
	type key struct{ dataset, id string }
	idx := make(map[key]int)
	var groups []Group
	for _, m := range ms {
		k := key{m.Dataset, m.UniqueID}
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, Group{Dataset: m.Dataset, UniqueID: m.UniqueID})
		}
		groups[i].Points = append(groups[i].Points, m)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Dataset != groups[j].Dataset {
			return groups[i].Dataset < groups[j].Dataset
		}
		return groups[i].UniqueID < groups[j].UniqueID
	})
	return groups
}
