package multiview

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// matsSVD stores the right singular vectors of a decomposition, ordered by descending singular
// value. The left singular vectors are never needed here, so they are not computed.
type matsSVD struct {
	V *mat.Dense
}

// performSVD performs SVD on inputMatrix, computing the full V.
func performSVD(inputMatrix mat.Matrix) (*matsSVD, error) {
	var svd mat.SVD
	if ok := svd.Factorize(inputMatrix, mat.SVDFullV); !ok {
		return nil, errors.New("failed to factorize matrix")
	}

	v := &mat.Dense{}
	svd.VTo(v)

	return &matsSVD{V: v}, nil
}

// eye creates an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// transposeDense returns a copy of the transpose of m.
func transposeDense(m mat.Matrix) *mat.Dense {
	return mat.DenseCopyOf(m.T())
}

// IsRotation reports whether r is a 3x3 orthonormal matrix with determinant +1, within tol.
func IsRotation(r mat.Matrix, tol float64) bool {
	if rows, cols := r.Dims(); rows != 3 || cols != 3 {
		return false
	}
	var rtr mat.Dense
	rtr.Mul(transposeDense(r), r)
	if !mat.EqualApprox(&rtr, eye(3), tol) {
		return false
	}
	det := mat.Det(r)
	return det > 1-tol && det < 1+tol
}
