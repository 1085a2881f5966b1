package sigmoid

import (
	"errors"
	"time"

	"golang.org/x/exp/rand"
)

// Fitter fits a curve starting from the given parameters
type Fitter func(start Params) (Result, error)

// RetryPolicy defines the random restart behaviour after a failed fit
type RetryPolicy struct {
	// Maximum number of fit attempts, including the first one
	MaxAttempts int
	// Perturb the starting values of the first attempt too
	AlwaysPerturb bool
}

// DefaultRetryPolicy allows 100 attempts
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 100}

// Outcome is the result of a fit with retries. Either Converged is true
// and Result holds the fit, or the attempts are exhausted and Err holds
// the error of the last attempt.
type Outcome struct {
	Converged bool
	Result    Result
	Attempts  int
	Err       error
}

// Retry calls fit until it succeeds or policy.MaxAttempts is reached.
// Every attempt after the first (or every attempt, with AlwaysPerturb)
// starts from start multiplied by a single random factor in [0.5, 1.5).
// Errors that no start value can fix end the loop early.
// If rng is nil, a clock seeded generator is used.
func Retry(fit Fitter, start Params, policy RetryPolicy, rng *rand.Rand) Outcome {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(uint64(time.Now().UnixNano())))
	}

	var out Outcome
	perturb := policy.AlwaysPerturb
	for out.Attempts < maxAttempts {
		s := start
		if perturb {
			s = start.Scale(1 + (rng.Float64() - 0.5))
		}
		out.Attempts++
		res, err := fit(s)
		if err == nil {
			out.Converged = true
			out.Result = res
			out.Err = nil
			return out
		}
		out.Err = err
		if errors.Is(err, ErrTooFewPoints) || errors.Is(err, errLength) {
			break
		}
		perturb = true
	}
	return out
}

// FitWithRetry fits (temps, y) with Fit and the given retry policy
func FitWithRetry(temps, y []float64, start Params, opts Options,
	policy RetryPolicy, rng *rand.Rand) Outcome {
	return Retry(func(s Params) (Result, error) {
		return Fit(temps, y, s, opts)
	}, start, policy, rng)
}
