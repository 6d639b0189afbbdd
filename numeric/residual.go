// Package numeric contains the nonlinear least squares solver used to refine triangulated points.
package numeric

import (
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// A Residual is a vector valued cost whose sum of squares the solver minimizes.
type Residual interface {
	// NumResiduals is the length of the residual vector.
	NumResiduals() int
	// Residuals writes the residual vector at params into dst. It must not modify params.
	Residuals(dst, params []float64)
}

// A Jacobianer is a Residual that knows its own derivatives. Residuals that do not implement it
// are differentiated numerically.
type Jacobianer interface {
	Residual
	// Jacobian writes the NumResiduals x len(params) derivative matrix at params into dst.
	Jacobian(dst *mat.Dense, params []float64)
}

// Jacobian evaluates the Jacobian of r at params into dst, analytically when r is a Jacobianer
// and with central finite differences otherwise.
func Jacobian(dst *mat.Dense, r Residual, params []float64) {
	if j, ok := r.(Jacobianer); ok {
		j.Jacobian(dst, params)
		return
	}
	NumericJacobian(dst, r, params)
}

// NumericJacobian evaluates the Jacobian of r at params with central finite differences.
func NumericJacobian(dst *mat.Dense, r Residual, params []float64) {
	fd.Jacobian(dst, r.Residuals, params, &fd.JacobianSettings{
		Formula: fd.Central,
	})
}
