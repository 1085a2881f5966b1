package sigmoid

import (
	"errors"
	"math"
	"testing"

	"golang.org/x/exp/rand"
)

func TestRetryTerminates(t *testing.T) {
	calls := 0
	failing := func(Params) (Result, error) {
		calls++
		return Result{}, ErrNotConverged
	}
	out := Retry(failing, DefaultStart, RetryPolicy{MaxAttempts: 7}, rand.New(rand.NewSource(1)))
	if out.Converged {
		t.Errorf("Converged, should be exhausted")
	}
	if out.Attempts != 7 || calls != 7 {
		t.Errorf("Attempts %d calls %d, should be 7", out.Attempts, calls)
	}
	if !errors.Is(out.Err, ErrNotConverged) {
		t.Errorf("Err %v, should be ErrNotConverged", out.Err)
	}
}

func TestRetryPerturbation(t *testing.T) {
	start := Params{Plateau: 0.1, Slope: 550, Inflection: 10}
	record := func(seed uint64, policy RetryPolicy) []Params {
		var starts []Params
		fit := func(s Params) (Result, error) {
			starts = append(starts, s)
			if len(starts) < 5 {
				return Result{}, ErrNotConverged
			}
			return Result{Params: s}, nil
		}
		out := Retry(fit, start, policy, rand.New(rand.NewSource(seed)))
		if !out.Converged || out.Attempts != 5 {
			t.Fatalf("Outcome %+v, should converge at attempt 5", out)
		}
		return starts
	}

	starts := record(3, RetryPolicy{MaxAttempts: 100})
	if starts[0] != start {
		t.Errorf("First attempt %+v, should be unperturbed", starts[0])
	}
	for _, s := range starts[1:] {
		f := s.Slope / start.Slope
		if f < 0.5 || f >= 1.5 {
			t.Errorf("Perturbation factor %f out of range", f)
		}
		// One factor for all parameters
		if math.Abs(s.Plateau/start.Plateau-f) > 1e-12 ||
			math.Abs(s.Inflection/start.Inflection-f) > 1e-12 {
			t.Errorf("Parameters %+v not scaled by a single factor", s)
		}
	}

	// Same seed gives the same starting values
	again := record(3, RetryPolicy{MaxAttempts: 100})
	for i := range starts {
		if starts[i] != again[i] {
			t.Errorf("Attempt %d: %+v != %+v", i, starts[i], again[i])
		}
	}

	always := record(3, RetryPolicy{MaxAttempts: 100, AlwaysPerturb: true})
	if always[0] == start {
		t.Errorf("First attempt unperturbed with AlwaysPerturb")
	}
}

func TestRetryPermanentError(t *testing.T) {
	out := FitWithRetry([]float64{37, 40}, []float64{1, 0.9}, DefaultStart,
		DefaultOptions, DefaultRetryPolicy, nil)
	if out.Converged || out.Attempts != 1 {
		t.Errorf("Outcome %+v, should stop after one attempt", out)
	}
	if !errors.Is(out.Err, ErrTooFewPoints) {
		t.Errorf("Err %v, should be ErrTooFewPoints", out.Err)
	}
}
