package sigmoid

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Options control a single least squares fit
type Options struct {
	// Maximum number of Levenberg-Marquardt iterations (Jacobian evaluations)
	MaxIterations int
	Bounds        Bounds
	// Relative RSS reduction still promised by a Gauss-Newton step
	// below which the fit is considered converged
	Tolerance float64
}

// DefaultOptions match the nls "port" settings of the published analysis
var DefaultOptions = Options{
	MaxIterations: 50,
	Bounds:        DefaultBounds,
	Tolerance:     1e-8,
}

// Result of a converged fit
type Result struct {
	Params Params
	// Residuals (observed - fitted) for every input point,
	// NaN for points with a missing abundance
	Residuals  []float64
	RSS        float64
	NFitted    int // number of points that took part in the fit
	Iterations int
}

const (
	lambdaInit = 1e-3
	lambdaMin  = 1e-12
	lambdaMax  = 1e12
	// Predicted RSS reductions below this count as none
	rssFloor = 1e-20
)

var errLength = errors.New("sigmoid: temperatures and abundances differ in length")

// Fit fits the melting curve to (temps, y) starting from start, using a
// Levenberg-Marquardt iteration restricted to opts.Bounds. Parameters on a
// bound whose gradient points outward are held fixed for the step.
// Points with a NaN abundance are left out.
func Fit(temps, y []float64, start Params, opts Options) (Result, error) {
	var res Result
	if len(temps) != len(y) {
		return res, errLength
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions.MaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultOptions.Tolerance
	}
	if opts.Bounds == (Bounds{}) {
		opts.Bounds = DefaultBounds
	}

	// Collect the points that take part in the fit
	ts := make([]float64, 0, len(temps))
	ys := make([]float64, 0, len(y))
	for i := range y {
		if math.IsNaN(y[i]) {
			continue
		}
		if math.IsInf(y[i], 0) || !isFinite(temps[i]) || temps[i] == 0 {
			return res, ErrNumerical
		}
		ts = append(ts, temps[i])
		ys = append(ys, y[i])
	}
	n := len(ts)
	if n <= NumParams {
		return res, ErrTooFewPoints
	}
	for _, v := range start.vec() {
		if !isFinite(v) {
			return res, ErrNumerical
		}
	}

	p := opts.Bounds.Clamp(start).vec()
	lo, hi := opts.Bounds.Lower.vec(), opts.Bounds.Upper.vec()
	r := make([]float64, n)
	rTry := make([]float64, n)
	rss := residuals(p, ts, ys, r)
	if !isFinite(rss) {
		return res, ErrNumerical
	}

	jac := mat.NewDense(n, NumParams, nil)
	lambda, nu := lambdaInit, 2.0
	for iter := 0; ; iter++ {
		jacobian(p, ts, jac)
		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		var grad mat.VecDense
		grad.MulVec(jac.T(), mat.NewVecDense(n, r))

		for i := 0; i < NumParams; i++ {
			if !isFinite(grad.AtVec(i)) {
				return res, ErrNumerical
			}
		}
		free := freeParams(p, lo, hi, &grad)
		if len(free) == 0 {
			// Every parameter is held by a bound
			return makeResult(p, temps, y, rss, n, iter), nil
		}
		a, g := restrict(&jtj, &grad, free)
		floor := 0.0
		for i := range free {
			floor = math.Max(floor, a.At(i, i))
		}
		if !isFinite(floor) {
			return res, ErrNumerical
		}
		floor = 1e-12*floor + 1e-300

		// Converged when a Gauss-Newton step on the free parameters
		// can't reduce the RSS by more than the tolerance
		if dx, ok := solveDamped(a, g, 0, floor); ok {
			if predicted(a, g, dx) <= opts.Tolerance*rss+rssFloor {
				return makeResult(p, temps, y, rss, n, iter), nil
			}
		}
		if iter == opts.MaxIterations {
			return res, ErrNotConverged
		}

		accepted := false
		for lambda <= lambdaMax {
			dx, ok := solveDamped(a, g, lambda, floor)
			if ok {
				pTry := p
				step := mat.NewVecDense(len(free), nil)
				for k, i := range free {
					pTry[i] = math.Max(lo[i], math.Min(hi[i], p[i]+dx.AtVec(k)))
					step.SetVec(k, pTry[i]-p[i])
				}
				rssTry := residuals(pTry, ts, ys, rTry)
				if isFinite(rssTry) && rssTry < rss {
					if pred := predicted(a, g, step); pred > 0 {
						rho := (rss - rssTry) / pred
						lambda *= math.Max(1.0/3, 1-math.Pow(2*rho-1, 3))
						lambda = math.Max(lambda, lambdaMin)
					}
					nu = 2
					p = pTry
					r, rTry = rTry, r
					rss = rssTry
					accepted = true
					break
				}
			}
			lambda *= nu
			nu *= 2
		}
		if !accepted {
			// No downhill step at any damping while the gradient
			// still promises a reduction
			return res, ErrNotConverged
		}
	}
}

// freeParams lists the parameters that may move: those inside the bounds,
// and those on a bound whose descent direction points inward.
// grad is J'r, so the descent direction of the RSS is +grad.
func freeParams(p, lo, hi [NumParams]float64, grad *mat.VecDense) []int {
	free := make([]int, 0, NumParams)
	for i := range p {
		g := grad.AtVec(i)
		if (p[i] <= lo[i] && g <= 0) || (p[i] >= hi[i] && g >= 0) {
			continue
		}
		free = append(free, i)
	}
	return free
}

// restrict returns the rows and columns of jtj and grad of the free parameters
func restrict(jtj *mat.SymDense, grad *mat.VecDense, free []int) (*mat.SymDense, *mat.VecDense) {
	k := len(free)
	a := mat.NewSymDense(k, nil)
	g := mat.NewVecDense(k, nil)
	for i, fi := range free {
		g.SetVec(i, grad.AtVec(fi))
		for j := i; j < k; j++ {
			a.SetSym(i, j, jtj.At(fi, free[j]))
		}
	}
	return a, g
}

// solveDamped solves (A + lambda*diag(A)) dx = g, with the diagonal
// scaling kept above floor
func solveDamped(a *mat.SymDense, g *mat.VecDense, lambda, floor float64) (*mat.VecDense, bool) {
	k := g.Len()
	d := mat.NewSymDense(k, nil)
	d.CopySym(a)
	for i := 0; i < k; i++ {
		aii := a.At(i, i)
		d.SetSym(i, i, aii+math.Max(lambda*aii, floor))
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(d); !ok {
		return nil, false
	}
	var dx mat.VecDense
	if err := chol.SolveVecTo(&dx, g); err != nil {
		return nil, false
	}
	return &dx, true
}

// predicted is the RSS reduction of step dx according to the linear model
func predicted(a *mat.SymDense, g, dx *mat.VecDense) float64 {
	return 2*mat.Dot(g, dx) - mat.Inner(dx, a, dx)
}

func makeResult(p [NumParams]float64, temps, y []float64, rss float64, n, iter int) Result {
	par := fromVec(p)
	resid := make([]float64, len(y))
	for i := range y {
		if math.IsNaN(y[i]) {
			resid[i] = math.NaN()
			continue
		}
		resid[i] = y[i] - par.Eval(temps[i])
	}
	return Result{
		Params:     par,
		Residuals:  resid,
		RSS:        rss,
		NFitted:    n,
		Iterations: iter,
	}
}

// residuals fills r with y - f(t) and returns the sum of squares
func residuals(p [NumParams]float64, ts, ys, r []float64) float64 {
	par := fromVec(p)
	for i, t := range ts {
		r[i] = ys[i] - par.Eval(t)
	}
	return floats.Dot(r, r)
}

// jacobian fills jac with the derivatives of the model to
// (Plateau, Slope, Inflection) at each temperature
func jacobian(p [NumParams]float64, ts []float64, jac *mat.Dense) {
	pl, a, b := p[0], p[1], p[2]
	for i, t := range ts {
		g := logistic(b - a/t)
		dg := g * (1 - g) // -d/dz of 1/(1+exp(z))
		jac.Set(i, 0, 1-g)
		jac.Set(i, 1, (1-pl)*dg/t)
		jac.Set(i, 2, -(1-pl)*dg)
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
