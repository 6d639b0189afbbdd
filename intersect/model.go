package intersect

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/tazjel/blender-sub001/multiview"
	"github.com/tazjel/blender-sub001/reconstruction"
	"github.com/tazjel/blender-sub001/tracks"
)

// A CameraModel is what the intersection algorithm needs to know about a kind of reconstruction.
// Both models share the same projection y = P * H(params), where H lifts the refined parameters to
// a homogeneous point. The sign of y[2] is the depth test for both.
type CameraModel interface {
	// Name identifies the model in logs and summaries.
	Name() string
	// NumParams is the number of refined parameters.
	NumParams() int
	// Projections returns the 3x4 projection matrix of the view of every marker, in order. A marker
	// without a view is an ErrMissingView.
	Projections(markers []tracks.Marker) ([]*mat.Dense, error)
	// Seed turns the algebraic solution into the initial parameters.
	Seed(x mat.Vector) []float64
	// Homogeneous lifts parameters to a homogeneous point.
	Homogeneous(params []float64) *mat.VecDense
	// Linearize returns the constant 4xNumParams derivative of Homogeneous.
	Linearize() *mat.Dense
	// RejectsBehindCamera says whether a cheirality failure discards the point.
	RejectsBehindCamera() bool
	// Commit stores the refined point of track.
	Commit(track int, params []float64) error
}

func missingView(m tracks.Marker) error {
	return errors.Wrapf(ErrMissingView, "camera %d image %d (track %d)", m.Camera, m.Image, m.Track)
}

// EuclideanModel refines a 3D point seen by calibrated cameras sharing the reconstruction's
// intrinsics.
type EuclideanModel struct {
	Reconstruction *reconstruction.EuclideanReconstruction
}

// Name implements CameraModel.
func (EuclideanModel) Name() string { return "euclidean" }

// NumParams implements CameraModel.
func (EuclideanModel) NumParams() int { return 3 }

// Projections implements CameraModel.
func (e EuclideanModel) Projections(markers []tracks.Marker) ([]*mat.Dense, error) {
	k := e.Reconstruction.Intrinsics().K()
	out := make([]*mat.Dense, 0, len(markers))
	for _, m := range markers {
		view, ok := e.Reconstruction.ViewForImage(m.Camera, m.Image)
		if !ok {
			return nil, missingView(m)
		}
		out = append(out, view.ProjectionMatrix(k))
	}
	return out, nil
}

// Seed implements CameraModel.
func (EuclideanModel) Seed(x mat.Vector) []float64 {
	pt := multiview.Dehomogenize(x)
	return []float64{pt.X, pt.Y, pt.Z}
}

// Homogeneous implements CameraModel.
func (EuclideanModel) Homogeneous(params []float64) *mat.VecDense {
	return mat.NewVecDense(4, []float64{params[0], params[1], params[2], 1})
}

// Linearize implements CameraModel.
func (EuclideanModel) Linearize() *mat.Dense {
	return mat.NewDense(4, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
		0, 0, 0,
	})
}

// RejectsBehindCamera implements CameraModel.
func (EuclideanModel) RejectsBehindCamera() bool { return true }

// Commit implements CameraModel.
func (e EuclideanModel) Commit(track int, params []float64) error {
	e.Reconstruction.InsertPoint(track, r3.Vector{X: params[0], Y: params[1], Z: params[2]})
	return nil
}

// ProjectiveModel refines a homogeneous point seen by uncalibrated cameras. All four coordinates are
// free, so the scale of the point is a gauge the damping keeps in check.
type ProjectiveModel struct {
	Reconstruction *reconstruction.ProjectiveReconstruction
}

// Name implements CameraModel.
func (ProjectiveModel) Name() string { return "projective" }

// NumParams implements CameraModel.
func (ProjectiveModel) NumParams() int { return 4 }

// Projections implements CameraModel.
func (p ProjectiveModel) Projections(markers []tracks.Marker) ([]*mat.Dense, error) {
	out := make([]*mat.Dense, 0, len(markers))
	for _, m := range markers {
		view, ok := p.Reconstruction.ViewForImage(m.Camera, m.Image)
		if !ok {
			return nil, missingView(m)
		}
		out = append(out, view.P)
	}
	return out, nil
}

// Seed implements CameraModel.
func (ProjectiveModel) Seed(x mat.Vector) []float64 {
	w := x.AtVec(3)
	return []float64{x.AtVec(0) / w, x.AtVec(1) / w, x.AtVec(2) / w, 1}
}

// Homogeneous implements CameraModel.
func (ProjectiveModel) Homogeneous(params []float64) *mat.VecDense {
	return mat.NewVecDense(4, append([]float64(nil), params...))
}

// Linearize implements CameraModel.
func (ProjectiveModel) Linearize() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// RejectsBehindCamera implements CameraModel. A projective reconstruction only warns.
func (ProjectiveModel) RejectsBehindCamera() bool { return false }

// Commit implements CameraModel.
func (p ProjectiveModel) Commit(track int, params []float64) error {
	return p.Reconstruction.InsertPoint(track, mat.NewVecDense(4, append([]float64(nil), params...)))
}
