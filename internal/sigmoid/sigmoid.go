// Package sigmoid fits melting curves of the form
//
//	y = (1 - Pl) / (1 + exp(B - A/T)) + Pl
//
// by bounded nonlinear least squares.
package sigmoid

import (
	"errors"
	"math"
)

// NumParams is the number of coefficients of the melting curve
const NumParams = 3

// Params are the melting curve coefficients. Slope (A) divides the
// temperature, Inflection (B) is the constant term of the exponent;
// the curve crosses its midpoint at T = A/B.
type Params struct {
	Plateau    float64
	Slope      float64
	Inflection float64
}

// Bounds limit the parameters during fitting
type Bounds struct {
	Lower Params
	Upper Params
}

// DefaultStart are the starting values of the published analysis
var DefaultStart = Params{Plateau: 0, Slope: 550, Inflection: 10}

// DefaultBounds are the box constraints of the published analysis
var DefaultBounds = Bounds{
	Lower: Params{Plateau: 0, Slope: 1e-5, Inflection: 1e-5},
	Upper: Params{Plateau: 1.5, Slope: 15000, Inflection: 250},
}

var (
	// ErrTooFewPoints means there are not enough usable points to fit
	ErrTooFewPoints = errors.New("sigmoid: too few points")
	// ErrNotConverged means the iteration limit was reached
	ErrNotConverged = errors.New("sigmoid: no convergence")
	// ErrNumerical means the model or data gave non-finite values
	ErrNumerical = errors.New("sigmoid: numerical error")
)

// Eval computes the curve at temperature t
func (p Params) Eval(t float64) float64 {
	return (1-p.Plateau)*logistic(p.Inflection-p.Slope/t) + p.Plateau
}

// Midpoint is the temperature where the curve is halfway between
// 1 and the plateau
func (p Params) Midpoint() float64 {
	return p.Slope / p.Inflection
}

// Scale multiplies all parameters by f
func (p Params) Scale(f float64) Params {
	return Params{Plateau: p.Plateau * f, Slope: p.Slope * f, Inflection: p.Inflection * f}
}

func (p Params) vec() [NumParams]float64 {
	return [NumParams]float64{p.Plateau, p.Slope, p.Inflection}
}

func fromVec(v [NumParams]float64) Params {
	return Params{Plateau: v[0], Slope: v[1], Inflection: v[2]}
}

// Contains reports whether p lies inside the bounds
func (b Bounds) Contains(p Params) bool {
	lo, hi, x := b.Lower.vec(), b.Upper.vec(), p.vec()
	for i := range x {
		if !(x[i] >= lo[i] && x[i] <= hi[i]) {
			return false
		}
	}
	return true
}

// Clamp moves p to the nearest point inside the bounds
func (b Bounds) Clamp(p Params) Params {
	lo, hi, x := b.Lower.vec(), b.Upper.vec(), p.vec()
	for i := range x {
		x[i] = math.Max(lo[i], math.Min(hi[i], x[i]))
	}
	return fromVec(x)
}

// logistic returns 1/(1+exp(z)) without overflow for large |z|
func logistic(z float64) float64 {
	if z > 0 {
		e := math.Exp(-z)
		return e / (1 + e)
	}
	return 1 / (1 + math.Exp(z))
}
