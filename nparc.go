// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/524D/nparc/internal/nparc"
	"github.com/524D/nparc/internal/rsscache"
	"github.com/524D/nparc/internal/sigmoid"
	"github.com/524D/nparc/internal/tpp"
)

// Program name and version
const progName = "nparc"

var progVersion = `Unknown`

const (
	infoDefault = iota
	infoSilent
	infoVerbose
)

// Command line parameters
type params struct {
	stage           int    // Fit (1), test (2) or both (0)
	datasetFilename string // Tidy TPP table
	cacheFilename   string // Filename where the RSS comparison table is stored
	resultsFilename string // Filename for the table of test results
	encoding        string // Character encoding of the dataset
	refit           bool   // Ignore an existing cache in stage 0
	minPeptides     int    // Minimum unique peptide matches of a measurement
	keepDecoys      bool
	alpha           float64 // Threshold on adjusted p-values for hits
	maxAttempts     int     // Fit attempts before a curve fit has failed
	maxIter         int     // Levenberg-Marquardt iterations per attempt
	repeatsIfNeg    int     // Extra comparison rounds if RSS difference < 0
	alwaysPerturb   bool    // Perturb the starting values of the first attempt too
	seed            uint64  // Seed for the random perturbation
	seedSet         bool    // Seed given by the user; otherwise it is drawn from the clock
	workers         int     // Number of concurrent protein fits, 0 means one per CPU
	plateauRange    string  // Bounds of the plateau parameter
	slopeRange      string  // Bounds of the slope parameter
	inflectionRange string  // Bounds of the inflection parameter
	bounds          sigmoid.Bounds
	verbosity       int      // Verbosity of progress messages (infoDefault...)
	args            []string // Additional values passed on the command line
	debug           bool     // Enable debug info (environment variable NPARC_DEBUG=1)
	debugFirst      int      // Range of proteins with debug output (--debug)
	debugLast       int
}

var ErrRangeSpec = errors.New("invalid range specified")

// Parse string like "-12:6" into 2 values, -12 and 6
// Parameters min and max are the "default" min/max values,
// when a value is not specified (e.g. "-12:"), the default is assigned
func parseIntRange(r string, min int, max int) (int, int, error) {
	re := regexp.MustCompile(`\s*(\-?\d*):(\-?\d*)`)
	m := re.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.Atoi(m[1])
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 3 && m[2] != "" {
		maxOut, _ = strconv.Atoi(m[2])
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}

// Parse string like "-12.01e1:+6" into 2 values, -120.1 and 6.0
// Parameters min and max are the "default" min/max values,
// when a value is not specified (e.g. "-12.01e1:"), the default is assigned
func parseFloat64Range(r string, min float64, max float64) (
	float64, float64, error) {
	re := regexp.MustCompile(`\s*([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?):([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?)`)
	m := re.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.ParseFloat(m[1], 64)
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 4 && m[3] != "" {
		maxOut, _ = strconv.ParseFloat(m[3], 64)
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}

// progress prints the name of a step in verbose mode and returns a
// function that prints the time it took
func progress(par params, format string, a ...any) func() {
	if par.verbosity != infoVerbose {
		return func() {}
	}
	t := time.Now()
	fmt.Fprintf(os.Stderr, format+": ", a...)
	return func() {
		fmt.Fprintf(os.Stderr, "%s\n", time.Since(t))
	}
}

// readDataset reads, filters and groups the measurements
func readDataset(par params) ([]tpp.Group, error) {
	done := progress(par, "Reading dataset from %s", par.datasetFilename)
	f, err := os.Open(par.datasetFilename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ms, err := tpp.Read(f, par.encoding)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", par.datasetFilename, err)
	}
	done()

	done = progress(par, "Filtering measurements")
	ms, sum := tpp.Filter(ms, tpp.FilterOptions{
		MinUniquePeptides: par.minPeptides,
		KeepDecoys:        par.keepDecoys,
	})
	groups := tpp.GroupByProtein(ms)
	done()

	if par.verbosity != infoSilent {
		log.Printf("Read %d measurements; removed %d decoy, %d low confidence, %d missing and %d incomplete curve (%d proteins) rows; %d proteins remain",
			sum.RowsIn, sum.DecoyRows, sum.LowConfidenceRows, sum.MissingValueRows,
			sum.IncompleteRows, sum.IncompleteProteins, sum.ProteinsOut)
	}
	if len(groups) == 0 {
		return nil, errors.New("no proteins left after filtering")
	}
	return groups, nil
}

func compareOptions(par params) nparc.CompareOptions {
	opts := nparc.DefaultCompareOptions
	opts.Fit.MaxIterations = par.maxIter
	opts.Fit.Bounds = par.bounds
	opts.Retry.MaxAttempts = par.maxAttempts
	opts.Retry.AlwaysPerturb = par.alwaysPerturb
	opts.RepeatsIfNeg = par.repeatsIfNeg
	opts.Seed = par.seed
	return opts
}

// computeRSS fits null and alternative models for all proteins
// and writes the comparison table to the cache file
func computeRSS(ctx context.Context, par params) ([]nparc.Record, error) {
	groups, err := readDataset(par)
	if err != nil {
		return nil, err
	}

	if !par.seedSet {
		par.seed = uint64(time.Now().UnixNano())
		if par.verbosity != infoSilent {
			log.Printf("Using random seed %d", par.seed)
		}
	}

	done := progress(par, "Fitting %d proteins", len(groups))
	recs, err := nparc.FitAll(ctx, groups, compareOptions(par), par.workers,
		func(i int, rec nparc.Record, detail nparc.Detail) {
			debugLogProtein(i, groups[i], rec, detail, par)
		})
	if err != nil {
		return nil, err
	}
	done()
	debugListExcluded(recs)

	done = progress(par, "Writing RSS table to %s", par.cacheFilename)
	err = rsscache.WriteFile(par.cacheFilename, rsscache.Table{Seed: par.seed, Records: recs})
	if err != nil {
		return nil, err
	}
	done()
	return recs, nil
}

// loadRSS reads the comparison table from the cache file
func loadRSS(par params) ([]nparc.Record, error) {
	done := progress(par, "Reading RSS table from %s", par.cacheFilename)
	t, err := rsscache.ReadFile(par.cacheFilename)
	if err != nil {
		return nil, err
	}
	done()
	if par.verbosity == infoVerbose {
		log.Printf("RSS table with %d records, computed with seed %d", len(t.Records), t.Seed)
	}
	return t.Records, nil
}

// writeResults writes the test results as a tab separated table
func writeResults(filename string, results []nparc.TestResult) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return formatResults(f, results)
}

func formatResults(w io.Writer, results []nparc.TestResult) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write([]string{`dataset`, `uniqueID`, `fStat`, `pVal`, `pAdj`}); err != nil {
		return err
	}
	ff := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, r := range results {
		if err := cw.Write([]string{r.Dataset, r.UniqueID, ff(r.FStat), ff(r.PValue), ff(r.PAdj)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// report logs the per-dataset summary and prints the hits
func report(w io.Writer, a nparc.Analysis, par params) {
	for _, ds := range a.Datasets {
		s := a.Summaries[ds]
		// Datasets that can't be tested are always reported
		if err, ok := a.Unavailable[ds]; ok {
			log.Printf("Dataset %s: no test possible: %v", ds, err)
			continue
		}
		if par.verbosity == infoSilent {
			continue
		}
		d := a.DOF[ds]
		log.Printf("Dataset %s: %d proteins, %d tested (%d incomplete fits, %d negative RSS difference, %d repeated); s0²=%g d1=%.4g d2=%.4g",
			ds, s.Records, s.Tested, s.Incomplete, s.NegativeDiff, s.Repeated, d.S0Sq, d.D1, d.D2)
	}
	if par.verbosity == infoSilent {
		return
	}
	for _, ds := range a.Datasets {
		if _, ok := a.Unavailable[ds]; ok {
			continue
		}
		hits := a.Hits[ds]
		fmt.Fprintf(w, "%s: %d hits with adjusted p-value <= %g\n", ds, len(hits), par.alpha)
		for _, h := range hits {
			fmt.Fprintf(w, "  %-20s F=%-10.4g p=%-10.3g pAdj=%.3g\n", h.UniqueID, h.FStat, h.PValue, h.PAdj)
		}
	}
}

// run glues together all the steps of the analysis:
// Read and filter the dataset
// Fit the null and alternative models of each protein (or load them)
// Estimate the degrees of freedom per dataset
// Compute F statistics, p-values and hits
func run(ctx context.Context, par params, w io.Writer) error {
	var recs []nparc.Record
	var err error

	switch par.stage {
	case 1:
		_, err = computeRSS(ctx, par)
		return err
	case 2:
		recs, err = loadRSS(par)
	default:
		_, statErr := os.Stat(par.cacheFilename)
		if !par.refit && statErr == nil {
			if par.verbosity != infoSilent {
				log.Printf("Using RSS table %s, set --refit to compute it again", par.cacheFilename)
			}
			recs, err = loadRSS(par)
		} else {
			recs, err = computeRSS(ctx, par)
		}
	}
	if err != nil {
		return err
	}

	done := progress(par, "Testing")
	a := nparc.Analyze(recs, par.alpha)
	done()

	done = progress(par, "Writing results to %s", par.resultsFilename)
	if err := writeResults(par.resultsFilename, a.Results); err != nil {
		return err
	}
	done()

	report(w, a, par)
	return nil
}

// sanatizeParams does some checks on parameters, and fills missing
// filenames if possible
func sanatizeParams(par *params) error {
	if len(par.args) != 1 {
		return errors.New("last argument must be name of the dataset file")
	}
	par.datasetFilename = par.args[0]
	var extension = filepath.Ext(par.datasetFilename)
	var startName = par.datasetFilename[0 : len(par.datasetFilename)-len(extension)]

	if par.cacheFilename == "" {
		par.cacheFilename = startName + "-rss.json"
	}
	if par.resultsFilename == "" {
		par.resultsFilename = startName + "-nparc.tsv"
	}
	if par.stage < 0 || par.stage > 2 {
		return fmt.Errorf("invalid stage %d", par.stage)
	}
	if !(par.alpha > 0 && par.alpha <= 1) {
		return fmt.Errorf("invalid alpha %g", par.alpha)
	}

	var err error
	lo, hi := sigmoid.DefaultBounds.Lower, sigmoid.DefaultBounds.Upper
	for _, b := range []struct {
		name   string
		r      string
		lo, hi *float64
	}{
		{`plateau`, par.plateauRange, &lo.Plateau, &hi.Plateau},
		{`slope`, par.slopeRange, &lo.Slope, &hi.Slope},
		{`inflection`, par.inflectionRange, &lo.Inflection, &hi.Inflection},
	} {
		*b.lo, *b.hi, err = parseFloat64Range(b.r, *b.lo, *b.hi)
		if err != nil {
			return fmt.Errorf("invalid %s range %q", b.name, b.r)
		}
	}
	par.bounds = sigmoid.Bounds{Lower: lo, Upper: hi}

	if debugProteins != `` {
		par.debugFirst, par.debugLast, err = parseIntRange(debugProteins, 0, math.MaxInt32)
		if err != nil {
			return fmt.Errorf("invalid debug range %q", debugProteins)
		}
	}
	return nil
}

func newRootCmd() *cobra.Command {
	var par params
	var verbose, quiet bool
	var configFilename string

	cmd := &cobra.Command{
		Use:   progName + " [flags] <dataset>",
		Short: "Detect ligand induced thermal stability changes in TPP data",
		Long: `This program fits melting curves to thermal proteome profiling (TPP) data
and tests for each protein whether fitting one curve per compound
concentration describes the data significantly better than a single curve
(non-parametric analysis of response curves, NPARC).

The dataset is a tidy table (comma or tab separated) with the columns
dataset, uniqueID, relAbundance, temperature, compoundConcentration,
replicate and uniquePeptideMatches.`,
		Example: `  nparc atp.csv
    Fit all proteins in atp.csv, store the RSS table in atp-rss.json,
    write the test results to atp-nparc.tsv and print the hits.

  nparc --stage 1 --seed 42 --cache atp-rss.json.zst atp.csv
    Only compute the (zstd compressed) RSS table, reproducibly.

  nparc --stage 2 --alpha 0.05 --cache atp-rss.json.zst atp.csv
    Test again using the stored RSS table.`,
		Version:      progVersion,
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFilename != `` {
				if err := applyConfigFile(cmd.Flags(), configFilename); err != nil {
					return err
				}
			}
			if verbose {
				par.verbosity = infoVerbose
			}
			if quiet {
				par.verbosity = infoSilent
			}
			par.seedSet = cmd.Flags().Changed(`seed`)
			par.args = args
			// Check if debug output should be enabled
			par.debug = os.Getenv("NPARC_DEBUG") == `1`

			if err := sanatizeParams(&par); err != nil {
				return err
			}
			return run(cmd.Context(), par, cmd.OutOrStdout())
		},
	}
	cmd.SetVersionTemplate("{{.Name}} version {{.Version}}\n")

	fl := cmd.Flags()
	fl.IntVar(&par.stage, "stage", 0,
		`0 (default): fit (or reuse the RSS table) and test in one run
1: only fit the curves and write the RSS table
2: only test, using a previously written RSS table`)
	fl.StringVar(&par.cacheFilename, "cache", "",
		"`filename` of the RSS table (default <dataset>-rss.json); a .zst suffix compresses it")
	fl.StringVarP(&par.resultsFilename, "output", "o", "",
		"`filename` of the test results (default <dataset>-nparc.tsv)")
	fl.StringVar(&par.encoding, "encoding", "utf-8",
		"character `encoding` of the dataset, e.g. latin1")
	fl.BoolVar(&par.refit, "refit", false,
		"fit the curves again, even if the RSS table exists (stage 0)")
	fl.IntVar(&par.minPeptides, "minpeptides", tpp.DefaultFilterOptions.MinUniquePeptides,
		"minimum number of unique peptide matches of a measurement")
	fl.BoolVar(&par.keepDecoys, "keepdecoys", false,
		"keep decoy identifications (uniqueID containing "+tpp.DecoyMarker+")")
	fl.Float64Var(&par.alpha, "alpha", 0.01,
		"maximum Benjamini-Hochberg adjusted p-value of a hit")
	fl.IntVar(&par.maxAttempts, "attempts", sigmoid.DefaultRetryPolicy.MaxAttempts,
		"fit attempts with perturbed starting values before a curve fit fails")
	fl.IntVar(&par.maxIter, "maxiter", sigmoid.DefaultOptions.MaxIterations,
		"maximum number of iterations of a single curve fit")
	fl.IntVar(&par.repeatsIfNeg, "repeats", nparc.DefaultCompareOptions.RepeatsIfNeg,
		"extra fit rounds when the alternative model fits worse than the null model")
	fl.BoolVar(&par.alwaysPerturb, "perturb", false,
		"perturb the starting values of the first fit attempt too")
	fl.Uint64Var(&par.seed, "seed", 0,
		"random seed for the perturbation of starting values (default: from the clock)")
	fl.IntVar(&par.workers, "workers", 0,
		"number of proteins fitted concurrently (default: number of CPUs)")
	fl.StringVar(&par.plateauRange, "plateau", "",
		"bounds `range` of the plateau (within 0:1.5)")
	fl.StringVar(&par.slopeRange, "slope", "",
		"bounds `range` of the slope (within 1e-5:15000)")
	fl.StringVar(&par.inflectionRange, "inflection", "",
		"bounds `range` of the inflection parameter (within 1e-5:250)")
	fl.StringVar(&debugProteins, "debug", "",
		"print debug output for the given protein index `range`, e.g. 3:6")
	fl.BoolVar(&verbose, "verbose", false, "print more verbose progress information")
	fl.BoolVar(&quiet, "quiet", false, "don't print any output except for errors")
	fl.StringVar(&configFilename, "config", "",
		"YAML `file` with default values for the flags above")

	cmd.AddCommand(newSimulateCmd())
	return cmd
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
