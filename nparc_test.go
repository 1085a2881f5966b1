// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/524D/nparc/internal/nparc"
	"github.com/524D/nparc/internal/rsscache"
	"github.com/524D/nparc/internal/simulate"
)

func TestParseFloat64Range(t *testing.T) {
	tests := []struct {
		r        string
		min, max float64
		wantMin  float64
		wantMax  float64
		wantErr  error
	}{
		{"0.5:1.5", 0.0, 2.0, 0.5, 1.5, nil},
		{"2.5:1.5", 0.0, 3.0, 1.5, 1.5, ErrRangeSpec},
		{":1.5", 0.0, 2.0, 0.0, 1.5, nil},
		{"0.5:", 0.0, 2.0, 0.5, 2.0, nil},
		{":", 0.0, 2.0, 0.0, 2.0, nil},
		{"", 1e-5, 250, 1e-5, 250, nil},
		{"-1.5:-0.5", -2.0, 0.0, -1.5, -0.5, nil},
		{"-12.01e1:+6", -1000, 1000, -120.1, 6, nil},
		{"1e-3:2E4", 1e-5, 15000, 1e-3, 15000, nil},
		{"-5:0.5", 0.0, 1.5, 0.0, 0.5, nil},
	}
	for _, tc := range tests {
		min, max, err := parseFloat64Range(tc.r, tc.min, tc.max)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("parseFloat64Range(%q): error %v, expected %v", tc.r, err, tc.wantErr)
		}
		if min != tc.wantMin || max != tc.wantMax {
			t.Errorf("parseFloat64Range(%q) = %v, %v, expected %v, %v",
				tc.r, min, max, tc.wantMin, tc.wantMax)
		}
	}
}

func TestParseIntRange(t *testing.T) {
	tests := []struct {
		r        string
		min, max int
		wantMin  int
		wantMax  int
		wantErr  error
	}{
		{"3:6", 0, 100, 3, 6, nil},
		{"3:", 0, 100, 3, 100, nil},
		{":6", 0, 100, 0, 6, nil},
		{"7:6", 0, 100, 6, 6, ErrRangeSpec},
		{"-3:200", 0, 100, 0, 100, nil},
	}
	for _, tc := range tests {
		min, max, err := parseIntRange(tc.r, tc.min, tc.max)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("parseIntRange(%q): error %v, expected %v", tc.r, err, tc.wantErr)
		}
		if min != tc.wantMin || max != tc.wantMax {
			t.Errorf("parseIntRange(%q) = %v, %v, expected %v, %v",
				tc.r, min, max, tc.wantMin, tc.wantMax)
		}
	}
}

func TestSanatizeParams(t *testing.T) {
	par := params{args: []string{"data/atp.csv"}, alpha: 0.01, slopeRange: "100:"}
	require.NoError(t, sanatizeParams(&par))
	assert.Equal(t, "data/atp-rss.json", par.cacheFilename)
	assert.Equal(t, "data/atp-nparc.tsv", par.resultsFilename)
	assert.Equal(t, 100.0, par.bounds.Lower.Slope)
	assert.Equal(t, 15000.0, par.bounds.Upper.Slope)
	assert.Equal(t, 1.5, par.bounds.Upper.Plateau)

	par = params{args: []string{"atp.csv"}, alpha: 0.01, cacheFilename: "x.json.zst"}
	require.NoError(t, sanatizeParams(&par))
	assert.Equal(t, "x.json.zst", par.cacheFilename)

	debugProteins = "3:6"
	t.Cleanup(func() { debugProteins = "" })
	par = params{args: []string{"atp.csv"}, alpha: 0.01}
	require.NoError(t, sanatizeParams(&par))
	assert.Equal(t, 3, par.debugFirst)
	assert.Equal(t, 6, par.debugLast)
	debugProteins = "6:3"
	assert.Error(t, sanatizeParams(&par))
	debugProteins = ""

	for _, par := range []params{
		{},
		{args: []string{"a.csv", "b.csv"}, alpha: 0.01},
		{args: []string{"a.csv"}, alpha: 0.01, stage: 3},
		{args: []string{"a.csv"}, alpha: 0},
		{args: []string{"a.csv"}, alpha: 0.01, plateauRange: "1:0.5"},
	} {
		assert.Error(t, sanatizeParams(&par), "%+v", par)
	}
}

func TestApplyConfigFile(t *testing.T) {
	dir := t.TempDir()
	newFlags := func() (*pflag.FlagSet, *float64, *uint64) {
		fl := pflag.NewFlagSet("test", pflag.ContinueOnError)
		alpha := fl.Float64("alpha", 0.01, "")
		seed := fl.Uint64("seed", 0, "")
		fl.String("slope", "", "")
		return fl, alpha, seed
	}

	cfgFile := filepath.Join(dir, "nparc.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("alpha: 0.05\nseed: 42\nslope: \"100:\"\n"), 0o644))

	fl, alpha, seed := newFlags()
	require.NoError(t, fl.Parse([]string{"--seed", "7"}))
	require.NoError(t, applyConfigFile(fl, cfgFile))
	assert.Equal(t, 0.05, *alpha)
	assert.EqualValues(t, 7, *seed, "command line wins")
	assert.Equal(t, "100:", fl.Lookup("slope").Value.String())

	badFile := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badFile, []byte("alpah: 0.05\n"), 0o644))
	fl, _, _ = newFlags()
	assert.ErrorIs(t, applyConfigFile(fl, badFile), ErrConfigKey)

	fl, _, _ = newFlags()
	assert.Error(t, applyConfigFile(fl, filepath.Join(dir, "missing.yaml")))
}

func TestFormatResults(t *testing.T) {
	var buf bytes.Buffer
	err := formatResults(&buf, []nparc.TestResult{
		{Dataset: "ATP", UniqueID: "P1", FStat: 12.5, PValue: 0.001, PAdj: 0.002},
		{Dataset: "ATP", UniqueID: "P2", FStat: 0.25, PValue: 0.75, PAdj: 0.75},
	})
	require.NoError(t, err)
	assert.Equal(t, "dataset\tuniqueID\tfStat\tpVal\tpAdj\n"+
		"ATP\tP1\t12.5\t0.001\t0.002\n"+
		"ATP\tP2\t0.25\t0.75\t0.75\n", buf.String())
}

func JSONCompare(t testing.TB, expected, actual io.Reader) {
	alwaysEqual := cmp.Comparer(func(_, _ interface{}) bool { return true })

	opts := cmp.Options{
		// Equal only if both inputs are NaN
		cmp.FilterValues(func(x, y float64) bool {
			return math.IsNaN(x) && math.IsNaN(y)
		}, alwaysEqual),

		// Approximate equality if both inputs are not NaN
		cmp.FilterValues(func(x, y float64) bool {
			return !math.IsNaN(x) && !math.IsNaN(y)
		}, cmp.Comparer(func(x, y float64) bool {
			if x == y {
				return true
			}
			delta := math.Abs(x - y)
			mean := math.Abs(x+y) / 2.0
			return delta/mean < 0.00001
		})),
	}

	var in1 map[string]any
	var in2 map[string]any

	if err := json.NewDecoder(expected).Decode(&in1); err != nil {
		t.Fatalf("Error decoding expected JSON: %v", err)
	}
	if err := json.NewDecoder(actual).Decode(&in2); err != nil {
		t.Fatalf("Error decoding actual JSON: %v", err)
	}
	if diff := cmp.Diff(in1, in2, opts); diff != "" {
		t.Errorf("JSON mismatch (-want +got):\n%s", diff)
	}
}

// JSONCompareFile compares the contents of two JSON files
func JSONCompareFile(t testing.TB, expectedFile, actualFile string) {
	expected, err := os.Open(expectedFile)
	if err != nil {
		t.Fatalf("Error opening expected file: %v", err)
	}
	defer expected.Close()
	actual, err := os.Open(actualFile)
	if err != nil {
		t.Fatalf("Error opening actual file: %v", err)
	}
	defer actual.Close()
	JSONCompare(t, expected, actual)
}

// execute runs the command line program with the given arguments
func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("nparc %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func readTSV(t *testing.T, filename string) [][]string {
	t.Helper()
	f, err := os.Open(filename)
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	r.Comma = '\t'
	rows, err := r.ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRunStages(t *testing.T) {
	if testing.Short() {
		t.Skip("fits a few hundred curves")
	}
	dir := t.TempDir()
	dataset := filepath.Join(dir, "sim.csv")
	execute(t, "simulate", "--proteins", "150", "--shifted", "3", dataset)

	// Test case 1: only fit
	execute(t, "--stage", "1", "--seed", "42", "--quiet", dataset)
	cache := filepath.Join(dir, "sim-rss.json")
	table, err := rsscache.ReadFile(cache)
	require.NoError(t, err)
	assert.EqualValues(t, 42, table.Seed)
	assert.Len(t, table.Records, 153)
	_, err = os.Stat(filepath.Join(dir, "sim-nparc.tsv"))
	assert.True(t, os.IsNotExist(err), "stage 1 must not test")

	// Test case 2: only test, with the stored table
	out := execute(t, "--stage", "2", dataset)
	rows := readTSV(t, filepath.Join(dir, "sim-nparc.tsv"))
	require.Greater(t, len(rows), 1)
	assert.Equal(t, []string{"dataset", "uniqueID", "fStat", "pVal", "pAdj"}, rows[0])
	for i := 0; i < 3; i++ {
		assert.Contains(t, out, simulate.ShiftedID(i))
	}

	// Test case 3: fit and test again, compressed table, same seed
	zcache := filepath.Join(dir, "refit-rss.json.zst")
	results := filepath.Join(dir, "refit.tsv")
	execute(t, "--refit", "--seed", "42", "--quiet", "--cache", zcache, "-o", results, dataset)
	ztable, err := rsscache.ReadFile(zcache)
	require.NoError(t, err)
	plain := filepath.Join(dir, "refit-rss.json")
	require.NoError(t, rsscache.WriteFile(plain, ztable))
	JSONCompareFile(t, cache, plain)
	assert.Equal(t, rows, readTSV(t, results))
}

func TestConfigFlag(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "nparc.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("stage: 7\n"), 0o644))

	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--config", cfgFile, filepath.Join(dir, "x.csv")})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid stage 7")
}
