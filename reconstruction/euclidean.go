package reconstruction

import (
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/tazjel/blender-sub001/multiview"
)

// rotationTolerance bounds how far RᵀR may be from the identity for a view to be accepted.
const rotationTolerance = 1e-6

// EuclideanView is the pose of a calibrated camera at one image: a world point X maps to the camera
// frame as R*X + T.
type EuclideanView struct {
	Camera int
	Image  int
	R      *mat.Dense
	T      r3.Vector
}

// NewEuclideanView validates rot and returns a view holding a copy of it.
func NewEuclideanView(camera, image int, rot mat.Matrix, t r3.Vector) (*EuclideanView, error) {
	if !multiview.IsRotation(rot, rotationTolerance) {
		return nil, errors.Errorf("view camera %d image %d: R is not a rotation matrix", camera, image)
	}
	return &EuclideanView{Camera: camera, Image: image, R: mat.DenseCopyOf(rot), T: t}, nil
}

// Key returns the (camera, image) key of the view.
func (v *EuclideanView) Key() ViewKey {
	return ViewKey{Camera: v.Camera, Image: v.Image}
}

// Transform maps a world point into the camera frame.
func (v *EuclideanView) Transform(x r3.Vector) r3.Vector {
	return r3.Vector{
		X: v.R.At(0, 0)*x.X + v.R.At(0, 1)*x.Y + v.R.At(0, 2)*x.Z + v.T.X,
		Y: v.R.At(1, 0)*x.X + v.R.At(1, 1)*x.Y + v.R.At(1, 2)*x.Z + v.T.Y,
		Z: v.R.At(2, 0)*x.X + v.R.At(2, 1)*x.Y + v.R.At(2, 2)*x.Z + v.T.Z,
	}
}

// Depth is the z coordinate of x in the camera frame. It is positive for points in front of the camera.
func (v *EuclideanView) Depth(x r3.Vector) float64 {
	return v.Transform(x).Z
}

// Center returns the camera center in world coordinates, -Rᵀt.
func (v *EuclideanView) Center() r3.Vector {
	return r3.Vector{
		X: -(v.R.At(0, 0)*v.T.X + v.R.At(1, 0)*v.T.Y + v.R.At(2, 0)*v.T.Z),
		Y: -(v.R.At(0, 1)*v.T.X + v.R.At(1, 1)*v.T.Y + v.R.At(2, 1)*v.T.Z),
		Z: -(v.R.At(0, 2)*v.T.X + v.R.At(1, 2)*v.T.Y + v.R.At(2, 2)*v.T.Z),
	}
}

// ProjectionMatrix returns P = K[R|t].
func (v *EuclideanView) ProjectionMatrix(k mat.Matrix) *mat.Dense {
	p, err := multiview.ProjectionFromKRt(k, v.R, v.T)
	if err != nil {
		// Both shapes are checked on construction.
		panic(err)
	}
	return p
}

// EuclideanPoint is a triangulated point in world coordinates.
type EuclideanPoint struct {
	Track int
	X     r3.Vector
}

// EuclideanReconstruction is a calibrated reconstruction: one set of intrinsics shared by every
// view, views keyed by camera and image, and one point per track. The zero value is usable and uses
// identity intrinsics. It is safe for concurrent use.
type EuclideanReconstruction struct {
	store[*EuclideanView, EuclideanPoint]

	intrinsicsMu sync.RWMutex
	intrinsics   *multiview.PinholeCameraIntrinsics
}

// NewEuclideanReconstruction returns an empty reconstruction with identity intrinsics.
func NewEuclideanReconstruction() *EuclideanReconstruction {
	return &EuclideanReconstruction{}
}

// SetIntrinsics replaces the shared intrinsics.
func (r *EuclideanReconstruction) SetIntrinsics(k *multiview.PinholeCameraIntrinsics) error {
	if err := k.CheckValid(); err != nil {
		return err
	}
	cp := *k
	r.intrinsicsMu.Lock()
	defer r.intrinsicsMu.Unlock()
	r.intrinsics = &cp
	return nil
}

// Intrinsics returns a copy of the shared intrinsics.
func (r *EuclideanReconstruction) Intrinsics() *multiview.PinholeCameraIntrinsics {
	r.intrinsicsMu.RLock()
	defer r.intrinsicsMu.RUnlock()
	if r.intrinsics == nil {
		return multiview.IdentityIntrinsics()
	}
	cp := *r.intrinsics
	return &cp
}

// InsertView adds or replaces the view of camera at image.
func (r *EuclideanReconstruction) InsertView(camera, image int, rot mat.Matrix, t r3.Vector) error {
	v, err := NewEuclideanView(camera, image, rot, t)
	if err != nil {
		return err
	}
	r.insertView(v.Key(), v)
	return nil
}

// ViewForImage returns the view of camera at image. The returned view must not be modified.
func (r *EuclideanReconstruction) ViewForImage(camera, image int) (*EuclideanView, bool) {
	return r.view(ViewKey{Camera: camera, Image: image})
}

// AllViews returns every view ordered by camera then image.
func (r *EuclideanReconstruction) AllViews() []*EuclideanView {
	return r.allViews()
}

// NumViews returns the number of views.
func (r *EuclideanReconstruction) NumViews() int {
	return r.numViews()
}

// InsertPoint sets the point of track, overwriting any previous one.
func (r *EuclideanReconstruction) InsertPoint(track int, x r3.Vector) {
	r.insertPoint(track, EuclideanPoint{Track: track, X: x})
}

// PointForTrack returns the point of track.
func (r *EuclideanReconstruction) PointForTrack(track int) (EuclideanPoint, bool) {
	return r.point(track)
}

// AllPoints returns every point ordered by track.
func (r *EuclideanReconstruction) AllPoints() []EuclideanPoint {
	return r.allPoints()
}

// RemovePoint deletes the point of track if there is one.
func (r *EuclideanReconstruction) RemovePoint(track int) {
	r.removePoint(track)
}

// NumPoints returns the number of points.
func (r *EuclideanReconstruction) NumPoints() int {
	return r.numPoints()
}
