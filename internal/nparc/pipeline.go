package nparc

import (
	"context"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/524D/nparc/internal/tpp"
)

// ProgressFunc is called after each comparison. i is the index of the
// group; calls may come from several goroutines.
type ProgressFunc func(i int, rec Record, detail Detail)

// FitAll compares all groups, using up to workers goroutines (0 means one
// per CPU). Comparisons share no state, so the records are the same for
// any number of workers; they are returned in the order of groups.
func FitAll(ctx context.Context, groups []tpp.Group, opts CompareOptions,
	workers int, progress ProgressFunc) ([]Record, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	recs := make([]Record, len(groups))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i := range groups {
		i := i
		if gctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, detail := CompareDetailed(groups[i], opts)
			recs[i] = rec
			if progress != nil {
				progress(i, rec, detail)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Summary counts the records of one dataset
type Summary struct {
	Dataset string
	Records int
	Tested  int
	// Excluded because a fit used fewer points than the dataset maximum
	Incomplete int
	// Excluded because the RSS difference is negative or undefined
	NegativeDiff int
	// Records that needed extra comparison rounds
	Repeated int
}

// Analysis is the outcome of testing all datasets
type Analysis struct {
	Datasets  []string // sorted
	DOF       map[string]DOF
	Results   []TestResult // ordered by dataset, then uniqueID
	Hits      map[string][]TestResult
	Summaries map[string]Summary
	// Datasets that could not be tested, with the reason
	Unavailable map[string]error
}

// Analyze runs the per-dataset reduce phase on the complete set of
// records: applicability, degrees of freedom, F-test and hit selection.
// It must only be called after all comparisons have finished.
// Applicable is updated in recs.
func Analyze(recs []Record, alpha float64) Analysis {
	a := Analysis{
		DOF:         make(map[string]DOF),
		Summaries:   make(map[string]Summary),
		Unavailable: make(map[string]error),
	}
	MarkApplicable(recs)

	for _, r := range recs {
		s, ok := a.Summaries[r.Dataset]
		if !ok {
			s.Dataset = r.Dataset
			a.Datasets = append(a.Datasets, r.Dataset)
		}
		s.Records++
		switch {
		case math.IsNaN(r.RSSDiff) || r.RSSDiff < 0:
			s.NegativeDiff++
		case !r.Applicable:
			s.Incomplete++
		}
		if r.TimesRepeated > 0 {
			s.Repeated++
		}
		a.Summaries[r.Dataset] = s
	}
	sort.Strings(a.Datasets)

	for _, ds := range a.Datasets {
		dof, err := EstimateDOF(ds, recs)
		if err != nil {
			a.Unavailable[ds] = err
			continue
		}
		a.DOF[ds] = dof
		res := FTest(recs, dof)
		sort.Slice(res, func(i, j int) bool { return res[i].UniqueID < res[j].UniqueID })
		a.Results = append(a.Results, res...)
		s := a.Summaries[ds]
		s.Tested = len(res)
		a.Summaries[ds] = s
	}
	a.Hits = Hits(a.Results, alpha)
	return a
}
