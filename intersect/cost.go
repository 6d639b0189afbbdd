package intersect

import (
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/tazjel/blender-sub001/multiview"
)

// reprojectionCost is the pixel error of a point against every observation: two residuals per
// marker, projected minus observed.
type reprojectionCost struct {
	model       CameraModel
	observed    []r2.Point
	projections []*mat.Dense
	// lifted[i] = projections[i] * model.Linearize(), the 3xN linear part of y = P*H(params).
	lifted []*mat.Dense
}

func newReprojectionCost(model CameraModel, observed []r2.Point, projections []*mat.Dense) *reprojectionCost {
	lin := model.Linearize()
	lifted := make([]*mat.Dense, len(projections))
	for i, p := range projections {
		var m mat.Dense
		m.Mul(p, lin)
		lifted[i] = &m
	}
	return &reprojectionCost{model: model, observed: observed, projections: projections, lifted: lifted}
}

func (c *reprojectionCost) NumResiduals() int {
	return 2 * len(c.observed)
}

func (c *reprojectionCost) Residuals(dst, params []float64) {
	x := c.model.Homogeneous(params)
	for i, p := range c.projections {
		px, _ := multiview.Project(p, x)
		dst[2*i] = px.X - c.observed[i].X
		dst[2*i+1] = px.Y - c.observed[i].Y
	}
}

// Jacobian differentiates the perspective division: for u = y0/y2 the row is (M0 - u*M2)/y2, with M
// the lifted projection, and likewise for v.
func (c *reprojectionCost) Jacobian(dst *mat.Dense, params []float64) {
	x := c.model.Homogeneous(params)
	var y mat.VecDense
	for i, p := range c.projections {
		y.MulVec(p, x)
		y2 := y.AtVec(2)
		u, v := y.AtVec(0)/y2, y.AtVec(1)/y2
		m := c.lifted[i]
		for j := range params {
			dst.Set(2*i, j, (m.At(0, j)-u*m.At(2, j))/y2)
			dst.Set(2*i+1, j, (m.At(1, j)-v*m.At(2, j))/y2)
		}
	}
}

// pixelErrors returns the distance in pixels between each projected and observed marker.
func (c *reprojectionCost) pixelErrors(params []float64) []float64 {
	res := make([]float64, c.NumResiduals())
	c.Residuals(res, params)
	out := make([]float64, len(c.observed))
	for i := range out {
		out[i] = r2.Point{X: res[2*i], Y: res[2*i+1]}.Norm()
	}
	return out
}
