// Package intersect triangulates one track at a time: an algebraic seed from every view, a
// Levenberg-Marquardt refinement of the reprojection error, then a check that the point lies in
// front of the cameras. The same algorithm serves calibrated and uncalibrated reconstructions
// through a CameraModel.
package intersect

import (
	"context"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"github.com/tazjel/blender-sub001/logging"
	"github.com/tazjel/blender-sub001/multiview"
	"github.com/tazjel/blender-sub001/numeric"
	"github.com/tazjel/blender-sub001/reconstruction"
	"github.com/tazjel/blender-sub001/tracks"
)

// State is a step of a single intersection.
type State int

// The states an intersection moves through. Committed and Rejected are terminal.
const (
	Start State = iota
	CollectViews
	LinearSeed
	NonlinearRefine
	CheiralityCheck
	Committed
	Rejected
)

func (s State) String() string {
	switch s {
	case Start:
		return "start"
	case CollectViews:
		return "collect_views"
	case LinearSeed:
		return "linear_seed"
	case NonlinearRefine:
		return "nonlinear_refine"
	case CheiralityCheck:
		return "cheirality_check"
	case Committed:
		return "committed"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Summary describes one intersection. Fields after State are filled as far as the intersection got.
type Summary struct {
	Track      int
	Model      string
	NumMarkers int
	State      State
	// RejectedIn is the state that failed when State is Rejected.
	RejectedIn State

	Seed   []float64
	Solver *numeric.Result
	// Point is the refined point in homogeneous coordinates.
	Point *mat.VecDense
	// ReprojectionErrors holds the pixel distance of each marker, in input order.
	ReprojectionErrors []float64
	// BehindCamera lists the views that see the point at a non-positive depth. For a projective
	// reconstruction these are warnings; the point is still committed.
	BehindCamera []BehindCamera
}

// RMS returns the root mean square reprojection error in pixels, or NaN before refinement.
func (s *Summary) RMS() float64 {
	if len(s.ReprojectionErrors) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, e := range s.ReprojectionErrors {
		sum += e * e
	}
	return math.Sqrt(sum / float64(len(s.ReprojectionErrors)))
}

// Euclidean returns the point as a Euclidean vector.
func (s *Summary) Euclidean() (x, y, z float64, ok bool) {
	if s.Point == nil {
		return 0, 0, 0, false
	}
	pt := multiview.Dehomogenize(s.Point)
	return pt.X, pt.Y, pt.Z, true
}

// Intersector triangulates tracks into one reconstruction. It is safe for concurrent use on
// different tracks as long as the views are not modified.
type Intersector struct {
	model  CameraModel
	logger logging.Logger
	solver *numeric.LevenbergMarquardt
}

// New returns an Intersector for model.
func New(model CameraModel, logger logging.Logger, opts numeric.Options) *Intersector {
	return &Intersector{
		model:  model,
		logger: logger,
		solver: numeric.NewLevenbergMarquardt(opts),
	}
}

// NewEuclidean returns an Intersector that commits into rec and rejects points behind a camera.
func NewEuclidean(rec *reconstruction.EuclideanReconstruction, logger logging.Logger, opts numeric.Options) *Intersector {
	return New(EuclideanModel{Reconstruction: rec}, logger, opts)
}

// NewProjective returns an Intersector that commits into rec and only warns about points behind a
// camera.
func NewProjective(rec *reconstruction.ProjectiveReconstruction, logger logging.Logger, opts numeric.Options) *Intersector {
	return New(ProjectiveModel{Reconstruction: rec}, logger, opts)
}

// EuclideanIntersect intersects markers into rec with the default solver options.
func EuclideanIntersect(
	ctx context.Context,
	markers []tracks.Marker,
	rec *reconstruction.EuclideanReconstruction,
	logger logging.Logger,
) (*Summary, error) {
	return NewEuclidean(rec, logger, numeric.DefaultOptions()).Intersect(ctx, markers)
}

// ProjectiveIntersect intersects markers into rec with the default solver options.
func ProjectiveIntersect(
	ctx context.Context,
	markers []tracks.Marker,
	rec *reconstruction.ProjectiveReconstruction,
	logger logging.Logger,
) (*Summary, error) {
	return NewProjective(rec, logger, numeric.DefaultOptions()).Intersect(ctx, markers)
}

// Model returns the camera model of the intersector.
func (in *Intersector) Model() CameraModel {
	return in.model
}

// Intersect triangulates the markers of one track and commits the point into the reconstruction.
// The returned Summary is never nil; on error it is Rejected and the reconstruction is unchanged.
func (in *Intersector) Intersect(ctx context.Context, markers []tracks.Marker) (*Summary, error) {
	summary := &Summary{Model: in.model.Name(), NumMarkers: len(markers), State: Start, Track: -1}
	reject := func(err error) (*Summary, error) {
		summary.RejectedIn = summary.State
		summary.State = Rejected
		return summary, err
	}

	if len(markers) < 2 {
		return reject(errors.Wrapf(ErrInsufficientObservations, "got %d", len(markers)))
	}
	track := markers[0].Track
	summary.Track = track
	if other, ok := lo.Find(markers, func(m tracks.Marker) bool { return m.Track != track }); ok {
		return reject(errors.Wrapf(ErrMixedTracks, "tracks %d and %d", track, other.Track))
	}

	summary.State = CollectViews
	projections, err := in.model.Projections(markers)
	if err != nil {
		return reject(err)
	}

	summary.State = LinearSeed
	in.logger.CDebugf(ctx, "intersecting track %d with %d markers", track, len(markers))
	observed := lo.Map(markers, func(m tracks.Marker, _ int) r2.Point { return m.Point() })
	x, err := multiview.NViewTriangulateAlgebraic(observed, projections)
	if err != nil {
		return reject(errors.Wrapf(err, "track %d", track))
	}
	summary.Seed = in.model.Seed(x)

	summary.State = NonlinearRefine
	cost := newReprojectionCost(in.model, observed, projections)
	result, err := in.solver.Minimize(ctx, cost, summary.Seed)
	summary.Solver = result
	if err != nil {
		return reject(errors.Wrapf(err, "refining track %d", track))
	}
	in.logger.CDebugw(ctx, "refined point",
		"track", track,
		"status", result.Status.String(),
		"iterations", len(result.Iterations),
		"initial_cost", result.InitialCost,
		"final_cost", result.FinalCost)
	in.logger.CDebugf(ctx, "solver summary:\n%s", result.Report())
	if !result.Status.Converged() {
		in.logger.CDebugw(ctx, "solver stopped on its iteration budget", "track", track)
	}

	summary.State = CheiralityCheck
	summary.Point = in.model.Homogeneous(result.X)
	summary.ReprojectionErrors = cost.pixelErrors(result.X)
	for i, p := range projections {
		_, depth := multiview.Project(p, summary.Point)
		if depth > 0 {
			continue
		}
		key := reconstruction.ViewKey{Camera: markers[i].Camera, Image: markers[i].Image}
		summary.BehindCamera = append(summary.BehindCamera, BehindCamera{View: key, Depth: depth})
	}
	if len(summary.BehindCamera) > 0 {
		logf := in.logger.Warnw
		if in.model.RejectsBehindCamera() {
			logf = in.logger.Errorw
		}
		for _, b := range summary.BehindCamera {
			logf("point behind camera",
				"model", in.model.Name(),
				"track", track,
				"camera", b.View.Camera,
				"image", b.View.Image,
				"depth", b.Depth)
		}
		if in.model.RejectsBehindCamera() {
			return reject(&CheiralityError{Track: track, Views: summary.BehindCamera})
		}
	}

	if err := in.model.Commit(track, result.X); err != nil {
		return reject(errors.Wrapf(err, "committing track %d", track))
	}
	summary.State = Committed
	return summary, nil
}
