// Package nparc implements the non-parametric analysis of response curves
// (NPARC) for thermal proteome profiling: per-protein comparison of a
// pooled null curve against per-condition alternative curves, empirical
// estimation of the F-distribution degrees of freedom and the resulting
// hypothesis test.
package nparc

import (
	"math"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/rand"

	"github.com/524D/nparc/internal/sigmoid"
	"github.com/524D/nparc/internal/tpp"
)

// Record is the outcome of the null versus alternative comparison of one
// protein. RSS values are NaN when a fit failed.
type Record struct {
	Dataset       string
	UniqueID      string
	RSSNull       float64
	RSSAlt        float64 // sum over the per-condition fits
	RSSDiff       float64 // RSSNull - RSSAlt
	NFittedNull   int
	NFittedAlt    int
	NCoeffsNull   int
	NCoeffsAlt    int
	TimesRepeated int // extra comparison rounds because RSSDiff < 0
	// Applicable for testing. Cleared when RSSDiff is negative or
	// undefined, and by MarkApplicable for incomplete fits.
	Applicable bool
}

// CompareOptions control the fits of a comparison
type CompareOptions struct {
	Start sigmoid.Params
	Fit   sigmoid.Options
	Retry sigmoid.RetryPolicy
	// Maximum number of extra rounds when the alternative model
	// fits worse than the null model
	RepeatsIfNeg int
	Seed         uint64
}

// DefaultCompareOptions are the settings of the published analysis
var DefaultCompareOptions = CompareOptions{
	Start:        sigmoid.DefaultStart,
	Fit:          sigmoid.DefaultOptions,
	Retry:        sigmoid.DefaultRetryPolicy,
	RepeatsIfNeg: 10,
}

// modelFit is the summed result of one or more curve fits
type modelFit struct {
	rss     float64
	nFitted int
	nCoeffs int
	fits    []FitDetail
}

// FitDetail describes a single curve fit of a comparison
type FitDetail struct {
	Condition string // empty for the null model
	Converged bool
	Params    sigmoid.Params
	RSS       float64
	NFitted   int
	Attempts  int
}

// Detail holds the individual fits of the final comparison round
type Detail struct {
	Null FitDetail
	Alt  []FitDetail
}

// ProteinSeed derives the random seed of one protein in one dataset
// from the run seed
func ProteinSeed(seed uint64, dataset, uniqueID string) uint64 {
	d := xxhash.New()
	d.WriteString(dataset)
	d.Write([]byte{0})
	d.WriteString(uniqueID)
	return seed ^ d.Sum64()
}

// Compare fits the null model (all points pooled) and the alternative
// model (one curve per compound concentration) of a protein. When the
// alternative fits worse than the null, both models are fitted again from
// perturbed starting values, at most opts.RepeatsIfNeg times.
func Compare(g tpp.Group, opts CompareOptions) Record {
	rec, _ := CompareDetailed(g, opts)
	return rec
}

// CompareDetailed is Compare, also returning the individual fits
func CompareDetailed(g tpp.Group, opts CompareOptions) (Record, Detail) {
	rng := rand.New(rand.NewSource(ProteinSeed(opts.Seed, g.Dataset, g.UniqueID)))
	conds := g.Conditions()
	retry := opts.Retry

	var null, alt modelFit
	round := 0
	for {
		null = fitModel(rng, opts, retry, ``, g.Points)
		alt = modelFit{}
		for _, c := range conds {
			alt.add(fitModel(rng, opts, retry, c.Label(), c.Points))
		}
		diff := null.rss - alt.rss
		if math.IsNaN(diff) || diff >= 0 || round >= opts.RepeatsIfNeg {
			break
		}
		// Local minimum suspected: refit everything from perturbed starts
		retry.AlwaysPerturb = true
		round++
	}

	rec := Record{
		Dataset:       g.Dataset,
		UniqueID:      g.UniqueID,
		RSSNull:       null.rss,
		RSSAlt:        alt.rss,
		RSSDiff:       null.rss - alt.rss,
		NFittedNull:   null.nFitted,
		NFittedAlt:    alt.nFitted,
		NCoeffsNull:   null.nCoeffs,
		NCoeffsAlt:    alt.nCoeffs,
		TimesRepeated: round,
	}
	rec.Applicable = nonNegative(rec.RSSDiff)
	return rec, Detail{Null: null.fits[0], Alt: alt.fits}
}

// fitCurve fits one melting curve, retrying from perturbed starts
var fitCurve = sigmoid.FitWithRetry

func fitModel(rng *rand.Rand, opts CompareOptions, retry sigmoid.RetryPolicy,
	condition string, points []tpp.Measurement) modelFit {
	out := fitCurve(tpp.Temperatures(points), tpp.Abundances(points),
		opts.Start, opts.Fit, retry, rng)
	fd := FitDetail{
		Condition: condition,
		Converged: out.Converged,
		Params:    out.Result.Params,
		RSS:       math.NaN(),
		Attempts:  out.Attempts,
	}
	m := modelFit{rss: math.NaN()}
	if out.Converged {
		fd.RSS = out.Result.RSS
		fd.NFitted = out.Result.NFitted
		m.rss = out.Result.RSS
		m.nFitted = out.Result.NFitted
		m.nCoeffs = sigmoid.NumParams
	}
	m.fits = []FitDetail{fd}
	return m
}

// add sums another fit into m; an undefined RSS stays undefined
func (m *modelFit) add(o modelFit) {
	m.rss += o.rss
	m.nFitted += o.nFitted
	m.nCoeffs += o.nCoeffs
	m.fits = append(m.fits, o.fits...)
}

func nonNegative(v float64) bool {
	return !math.IsNaN(v) && v >= 0
}

// MarkApplicable sets Applicable for records with a non-negative RSS
// difference whose null and alternative fits used as many points as the
// best record of the same dataset, and clears it for all others.
// Records of several datasets may be mixed.
func MarkApplicable(recs []Record) {
	maxNull := make(map[string]int)
	maxAlt := make(map[string]int)
	for _, r := range recs {
		if r.NFittedNull > maxNull[r.Dataset] {
			maxNull[r.Dataset] = r.NFittedNull
		}
		if r.NFittedAlt > maxAlt[r.Dataset] {
			maxAlt[r.Dataset] = r.NFittedAlt
		}
	}
	for i := range recs {
		r := &recs[i]
		r.Applicable = nonNegative(r.RSSDiff) &&
			r.NFittedNull == maxNull[r.Dataset] &&
			r.NFittedAlt == maxAlt[r.Dataset]
	}
}
