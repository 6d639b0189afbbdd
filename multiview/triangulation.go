// Package multiview holds the camera geometry shared by the Euclidean and projective
// reconstructions: pinhole intrinsics, projection matrices and algebraic triangulation.
package multiview

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrTooFewViews is returned when triangulation is asked to work with fewer than two views.
var ErrTooFewViews = errors.New("triangulation needs at least 2 views")

// NViewTriangulateAlgebraic computes the homogeneous point X that best satisfies x_i ~ P_i X for all
// views in the algebraic least squares sense.
//
// Each view contributes the two rows x*P[2] - P[0] and y*P[2] - P[1], eliminating the unknown depth.
// The stacked 2Nx4 system is solved by the right singular vector of the smallest singular value.
// The result is not normalized. Degenerate configurations are not detected here; they show up as
// an unstable point that later fails the cheirality check.
func NViewTriangulateAlgebraic(points []r2.Point, cameras []*mat.Dense) (*mat.VecDense, error) {
	if len(points) != len(cameras) {
		return nil, errors.Errorf("got %d points but %d cameras", len(points), len(cameras))
	}
	if len(points) < 2 {
		return nil, errors.Wrapf(ErrTooFewViews, "got %d", len(points))
	}

	design := mat.NewDense(2*len(points), 4, nil)
	for i, pt := range points {
		p := cameras[i]
		if r, c := p.Dims(); r != 3 || c != 4 {
			return nil, errors.Errorf("camera %d must be 3x4, got %dx%d", i, r, c)
		}
		for j := 0; j < 4; j++ {
			design.Set(2*i, j, pt.X*p.At(2, j)-p.At(0, j))
			design.Set(2*i+1, j, pt.Y*p.At(2, j)-p.At(1, j))
		}
	}

	mats, err := performSVD(design)
	if err != nil {
		return nil, errors.Wrap(err, "algebraic triangulation")
	}
	// gonum orders singular values in descending order, so the last column of V is the null space
	// direction.
	return mat.VecDenseCopyOf(mats.V.ColView(3)), nil
}
