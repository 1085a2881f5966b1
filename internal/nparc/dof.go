package nparc

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"
)

// DOF are the empirical F-distribution parameters of one dataset
type DOF struct {
	Dataset string
	S0Sq    float64 // scale factor of the RSS values
	D1      float64 // degrees of freedom of the scaled RSS differences
	D2      float64 // degrees of freedom of the scaled alternative RSS
	N       int     // number of records the estimate is based on
}

var (
	// ErrTooFewRecords means there are not enough applicable records
	ErrTooFewRecords = errors.New("nparc: too few applicable records")
	// ErrDegenerateScale means the RSS differences give no usable scale
	ErrDegenerateScale = errors.New("nparc: degenerate RSS scale")
	// ErrDOFNotConverged means the chi-squared fit did not converge
	ErrDOFNotConverged = errors.New("nparc: degrees of freedom fit did not converge")
)

// Scale factor that makes the median absolute deviation a consistent
// estimator of the standard deviation for normal data
const madConstant = 1.4826

// Largest gradient of the mean log-likelihood accepted at the optimum
const dofGradTol = 1e-6

// EstimateDOF estimates the degrees of freedom of a dataset from all its
// applicable records. The RSS differences and alternative RSS values are
// divided by s0² = mad²/(2·median) of the RSS differences, and a
// chi-squared distribution is fitted to each by maximum likelihood.
// Records of other datasets are ignored.
func EstimateDOF(dataset string, recs []Record) (DOF, error) {
	dof := DOF{Dataset: dataset}
	var diff, alt []float64
	for _, r := range recs {
		if r.Dataset == dataset && r.Applicable {
			diff = append(diff, r.RSSDiff)
			alt = append(alt, r.RSSAlt)
		}
	}
	dof.N = len(diff)
	if len(diff) < 2 {
		return dof, ErrTooFewRecords
	}

	m := median(diff)
	v := mad(diff, m)
	dof.S0Sq = 0.5 * v * v / m
	if !(dof.S0Sq > 0) || math.IsInf(dof.S0Sq, 0) {
		return dof, ErrDegenerateScale
	}
	for i := range diff {
		diff[i] /= dof.S0Sq
		alt[i] /= dof.S0Sq
	}

	var err error
	dof.D1, err = FitChiSquaredDOF(diff)
	if err != nil {
		return dof, fmt.Errorf("RSS difference: %w", err)
	}
	dof.D2, err = FitChiSquaredDOF(alt)
	if err != nil {
		return dof, fmt.Errorf("alternative RSS: %w", err)
	}
	return dof, nil
}

// FitChiSquaredDOF returns the maximum likelihood estimate of the degrees
// of freedom of a chi-squared distribution for the sample x, starting the
// search at 1 degree of freedom. Values that are not positive and finite
// have zero or undefined density for some degrees of freedom and are
// left out.
func FitChiSquaredDOF(x []float64) (float64, error) {
	sample := make([]float64, 0, len(x))
	var sumLog float64
	for _, v := range x {
		if v > 0 && !math.IsInf(v, 0) {
			sample = append(sample, v)
			sumLog += math.Log(v)
		}
	}
	if len(sample) < 2 {
		return 0, ErrTooFewRecords
	}
	n := float64(len(sample))
	meanLog := sumLog / n

	// Optimise over log(df) so the search stays at positive df.
	// The objective is the mean negative log-likelihood.
	grad := func(g, th []float64) {
		k := math.Exp(th[0])
		g[0] = -k * 0.5 * (meanLog - math.Ln2 - mathext.Digamma(k/2))
	}
	problem := optimize.Problem{
		Func: func(th []float64) float64 {
			chi2 := distuv.ChiSquared{K: math.Exp(th[0])}
			var ll float64
			for _, v := range sample {
				ll += chi2.LogProb(v)
			}
			return -ll / n
		},
		Grad: grad,
	}
	settings := &optimize.Settings{
		GradientThreshold: 1e-10,
		MajorIterations:   200,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-14,
			Iterations: 20,
		},
	}
	res, err := optimize.Minimize(problem, []float64{0}, settings, &optimize.BFGS{})
	if res == nil {
		return 0, fmt.Errorf("%w: %v", ErrDOFNotConverged, err)
	}

	// Judge convergence by the gradient at the returned location; a line
	// search giving up right at the optimum is not a failure
	k := math.Exp(res.X[0])
	g := make([]float64, 1)
	grad(g, res.X)
	if !(k > 0) || math.IsInf(k, 0) || math.IsNaN(g[0]) || math.Abs(g[0]) > dofGradTol {
		if err == nil {
			err = fmt.Errorf("status %v", res.Status)
		}
		return 0, fmt.Errorf("%w: %v", ErrDOFNotConverged, err)
	}
	return k, nil
}

// median returns the middle value of x, or the mean of the two middle
// values for an even number of elements
func median(x []float64) float64 {
	s := make([]float64, len(x))
	copy(s, x)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// mad returns the scaled median absolute deviation of x around center
func mad(x []float64, center float64) float64 {
	dev := make([]float64, len(x))
	for i, v := range x {
		dev[i] = math.Abs(v - center)
	}
	return madConstant * median(dev)
}
