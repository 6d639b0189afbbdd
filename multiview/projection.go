package multiview

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ProjectionFromKRt builds the 3x4 projection matrix P = K[R|t].
func ProjectionFromKRt(k, rot mat.Matrix, t r3.Vector) (*mat.Dense, error) {
	if r, c := k.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("camera matrix must be 3x3, got %dx%d", r, c)
	}
	if r, c := rot.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("rotation must be 3x3, got %dx%d", r, c)
	}
	var pose mat.Dense
	pose.Augment(rot, mat.NewDense(3, 1, []float64{t.X, t.Y, t.Z}))
	var p mat.Dense
	p.Mul(k, &pose)
	return &p, nil
}

// Homogeneous returns the homogeneous 4-vector (x, y, z, 1).
func Homogeneous(pt r3.Vector) *mat.VecDense {
	return mat.NewVecDense(4, []float64{pt.X, pt.Y, pt.Z, 1})
}

// Dehomogenize divides the first three coordinates of a homogeneous 4-vector by the fourth.
func Dehomogenize(x mat.Vector) r3.Vector {
	w := x.AtVec(3)
	return r3.Vector{X: x.AtVec(0) / w, Y: x.AtVec(1) / w, Z: x.AtVec(2) / w}
}

// Project maps a homogeneous point through the 3x4 projection matrix p. It returns the pixel after
// perspective division and the third projected coordinate before division, whose sign tells
// whether the point is in front of the camera.
func Project(p mat.Matrix, x mat.Vector) (r2.Point, float64) {
	var projected mat.VecDense
	projected.MulVec(p, x)
	depth := projected.AtVec(2)
	return r2.Point{X: projected.AtVec(0) / depth, Y: projected.AtVec(1) / depth}, depth
}

// ProjectEuclidean projects a Euclidean point through p.
func ProjectEuclidean(p mat.Matrix, pt r3.Vector) (r2.Point, float64) {
	return Project(p, Homogeneous(pt))
}
