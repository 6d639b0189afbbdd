package reconstruction

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/tazjel/blender-sub001/multiview"
)

// ProjectiveView is an uncalibrated camera at one image, given by its 3x4 projection matrix.
type ProjectiveView struct {
	Camera int
	Image  int
	P      *mat.Dense
}

// NewProjectiveView returns a view holding a copy of p.
func NewProjectiveView(camera, image int, p mat.Matrix) (*ProjectiveView, error) {
	if r, c := p.Dims(); r != 3 || c != 4 {
		return nil, errors.Errorf("view camera %d image %d: P must be 3x4, got %dx%d", camera, image, r, c)
	}
	return &ProjectiveView{Camera: camera, Image: image, P: mat.DenseCopyOf(p)}, nil
}

// Key returns the (camera, image) key of the view.
func (v *ProjectiveView) Key() ViewKey {
	return ViewKey{Camera: v.Camera, Image: v.Image}
}

// Depth is the third coordinate of P*X before perspective division.
func (v *ProjectiveView) Depth(x mat.Vector) float64 {
	_, depth := multiview.Project(v.P, x)
	return depth
}

// ProjectivePoint is a triangulated point in homogeneous coordinates.
type ProjectivePoint struct {
	Track int
	X     *mat.VecDense
}

// ProjectiveReconstruction is an uncalibrated reconstruction. The zero value is usable and it is
// safe for concurrent use.
type ProjectiveReconstruction struct {
	store[*ProjectiveView, ProjectivePoint]
}

// NewProjectiveReconstruction returns an empty reconstruction.
func NewProjectiveReconstruction() *ProjectiveReconstruction {
	return &ProjectiveReconstruction{}
}

// InsertView adds or replaces the view of camera at image.
func (r *ProjectiveReconstruction) InsertView(camera, image int, p mat.Matrix) error {
	v, err := NewProjectiveView(camera, image, p)
	if err != nil {
		return err
	}
	r.insertView(v.Key(), v)
	return nil
}

// ViewForImage returns the view of camera at image. The returned view must not be modified.
func (r *ProjectiveReconstruction) ViewForImage(camera, image int) (*ProjectiveView, bool) {
	return r.view(ViewKey{Camera: camera, Image: image})
}

// AllViews returns every view ordered by camera then image.
func (r *ProjectiveReconstruction) AllViews() []*ProjectiveView {
	return r.allViews()
}

// NumViews returns the number of views.
func (r *ProjectiveReconstruction) NumViews() int {
	return r.numViews()
}

// InsertPoint sets the homogeneous point of track, overwriting any previous one. x must have
// length 4 and is copied.
func (r *ProjectiveReconstruction) InsertPoint(track int, x mat.Vector) error {
	if x.Len() != 4 {
		return errors.Errorf("track %d: homogeneous point must have 4 coordinates, got %d", track, x.Len())
	}
	r.insertPoint(track, ProjectivePoint{Track: track, X: mat.VecDenseCopyOf(x)})
	return nil
}

// PointForTrack returns a copy of the point of track.
func (r *ProjectiveReconstruction) PointForTrack(track int) (ProjectivePoint, bool) {
	p, ok := r.point(track)
	if !ok {
		return ProjectivePoint{}, false
	}
	return ProjectivePoint{Track: p.Track, X: mat.VecDenseCopyOf(p.X)}, true
}

// AllPoints returns copies of every point ordered by track.
func (r *ProjectiveReconstruction) AllPoints() []ProjectivePoint {
	points := r.allPoints()
	for i, p := range points {
		points[i].X = mat.VecDenseCopyOf(p.X)
	}
	return points
}

// RemovePoint deletes the point of track if there is one.
func (r *ProjectiveReconstruction) RemovePoint(track int) {
	r.removePoint(track)
}

// NumPoints returns the number of points.
func (r *ProjectiveReconstruction) NumPoints() int {
	return r.numPoints()
}
