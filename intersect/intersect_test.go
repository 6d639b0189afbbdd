package intersect

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/tazjel/blender-sub001/logging"
	"github.com/tazjel/blender-sub001/multiview"
	"github.com/tazjel/blender-sub001/numeric"
	"github.com/tazjel/blender-sub001/reconstruction"
	"github.com/tazjel/blender-sub001/synth"
	"github.com/tazjel/blender-sub001/tracks"
)

var testIntrinsics = &multiview.PinholeCameraIntrinsics{Fx: 800, Fy: 800, Ppx: 320, Ppy: 240}

func rotationY(angle float64) *mat.Dense {
	c, s := math.Cos(angle), math.Sin(angle)
	return mat.NewDense(3, 3, []float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
}

type pose struct {
	rot *mat.Dense
	t   r3.Vector
}

// rig builds both reconstructions of the same cameras, camera i seeing image 7, and the noiseless
// markers of pt for track. Points behind a camera are still projected.
func rig(
	t *testing.T,
	poses []pose,
	pt r3.Vector,
	track int,
) (*reconstruction.EuclideanReconstruction, *reconstruction.ProjectiveReconstruction, []tracks.Marker) {
	t.Helper()
	euclidean := reconstruction.NewEuclideanReconstruction()
	test.That(t, euclidean.SetIntrinsics(testIntrinsics), test.ShouldBeNil)
	projective := reconstruction.NewProjectiveReconstruction()
	var markers []tracks.Marker
	for i, p := range poses {
		test.That(t, euclidean.InsertView(i, 7, p.rot, p.t), test.ShouldBeNil)
		view, ok := euclidean.ViewForImage(i, 7)
		test.That(t, ok, test.ShouldBeTrue)
		proj := view.ProjectionMatrix(testIntrinsics.K())
		test.That(t, projective.InsertView(i, 7, proj), test.ShouldBeNil)
		px, _ := multiview.ProjectEuclidean(proj, pt)
		markers = append(markers, tracks.Marker{Camera: i, Image: 7, Track: track, X: px.X, Y: px.Y})
	}
	return euclidean, projective, markers
}

var threeCameras = []pose{
	{rot: rotationY(0), t: r3.Vector{}},
	{rot: rotationY(-0.2), t: r3.Vector{X: -1, Z: 0.5}},
	{rot: rotationY(0.25), t: r3.Vector{X: 1.5, Y: -0.5, Z: 0.2}},
}

func TestThreeCamerasObservingOnePoint(t *testing.T) {
	truth := r3.Vector{X: 1, Y: 2, Z: 5}
	euclidean, projective, markers := rig(t, threeCameras, truth, 3)

	summary, err := NewEuclidean(euclidean, logging.NewTestLogger(t), numeric.DefaultOptions()).
		Intersect(context.Background(), markers)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.State, test.ShouldEqual, Committed)
	test.That(t, summary.Track, test.ShouldEqual, 3)
	test.That(t, summary.BehindCamera, test.ShouldBeEmpty)
	test.That(t, summary.RMS(), test.ShouldBeLessThan, 1e-6)
	pt, ok := euclidean.PointForTrack(3)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pt.X.Sub(truth).Norm(), test.ShouldBeLessThan, 1e-6)
	x, y, z, ok := summary.Euclidean()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, r3.Vector{X: x, Y: y, Z: z}.Sub(truth).Norm(), test.ShouldBeLessThan, 1e-6)

	summary, err = ProjectiveIntersect(context.Background(), markers, projective, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.State, test.ShouldEqual, Committed)
	ppt, ok := projective.PointForTrack(3)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, multiview.Dehomogenize(ppt.X).Sub(truth).Norm(), test.ShouldBeLessThan, 1e-6)
}

func TestTwoPerfectViews(t *testing.T) {
	opts := synth.DefaultOptions()
	opts.Views = 2
	opts.Points = 10
	scene, err := synth.Generate(opts)
	test.That(t, err, test.ShouldBeNil)
	rec, err := scene.EuclideanReconstruction()
	test.That(t, err, test.ShouldBeNil)

	in := NewEuclidean(rec, logging.NewTestLogger(t), numeric.DefaultOptions())
	for track, truth := range scene.Truth {
		_, err := in.Intersect(context.Background(), scene.Tracks.MarkersForTrack(track))
		test.That(t, err, test.ShouldBeNil)
		pt, ok := rec.PointForTrack(track)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, pt.X.Sub(truth).Norm(), test.ShouldBeLessThan, 1e-6)
	}
}

func TestReprojectionConsistency(t *testing.T) {
	opts := synth.DefaultOptions()
	opts.Views = 5
	scene, err := synth.Generate(opts)
	test.That(t, err, test.ShouldBeNil)
	euclidean, err := scene.EuclideanReconstruction()
	test.That(t, err, test.ShouldBeNil)
	projective, err := scene.ProjectiveReconstruction()
	test.That(t, err, test.ShouldBeNil)

	logger := logging.NewTestLogger(t)
	intersectors := []*Intersector{
		NewEuclidean(euclidean, logger, numeric.DefaultOptions()),
		NewProjective(projective, logger, numeric.DefaultOptions()),
	}
	k := scene.Intrinsics.K()
	for _, in := range intersectors {
		t.Run(in.Model().Name(), func(t *testing.T) {
			for track := range scene.Truth {
				markers := scene.Tracks.MarkersForTrack(track)
				_, err := in.Intersect(context.Background(), markers)
				test.That(t, err, test.ShouldBeNil)

				var x *mat.VecDense
				if _, ok := in.Model().(EuclideanModel); ok {
					pt, _ := euclidean.PointForTrack(track)
					x = multiview.Homogeneous(pt.X)
				} else {
					pt, _ := projective.PointForTrack(track)
					x = pt.X
				}
				for _, m := range markers {
					view, ok := euclidean.ViewForImage(m.Camera, m.Image)
					test.That(t, ok, test.ShouldBeTrue)
					px, _ := multiview.Project(view.ProjectionMatrix(k), x)
					test.That(t, px.Sub(m.Point()).Norm(), test.ShouldBeLessThan, 0.01)
				}
			}
		})
	}
}

func TestNoisyObservations(t *testing.T) {
	opts := synth.DefaultOptions()
	opts.Views = 6
	opts.Noise = 0.5
	scene, err := synth.Generate(opts)
	test.That(t, err, test.ShouldBeNil)
	rec, err := scene.EuclideanReconstruction()
	test.That(t, err, test.ShouldBeNil)

	in := NewEuclidean(rec, logging.NewTestLogger(t), numeric.DefaultOptions())
	for track, truth := range scene.Truth {
		summary, err := in.Intersect(context.Background(), scene.Tracks.MarkersForTrack(track))
		test.That(t, err, test.ShouldBeNil)
		// Refinement never does worse than the algebraic seed.
		test.That(t, summary.Solver.FinalCost, test.ShouldBeLessThanOrEqualTo, summary.Solver.InitialCost)
		test.That(t, summary.RMS(), test.ShouldBeLessThan, 4*opts.Noise)
		pt, _ := rec.PointForTrack(track)
		test.That(t, pt.X.Sub(truth).Norm(), test.ShouldBeLessThan, 0.1)
	}
}

func TestInsufficientObservations(t *testing.T) {
	truth := r3.Vector{X: 1, Y: 2, Z: 5}
	euclidean, projective, markers := rig(t, threeCameras, truth, 3)
	euclidean.InsertPoint(3, r3.Vector{X: 9})

	for _, n := range []int{0, 1} {
		summary, err := EuclideanIntersect(context.Background(), markers[:n], euclidean, logging.NewTestLogger(t))
		test.That(t, errors.Is(err, ErrInsufficientObservations), test.ShouldBeTrue)
		test.That(t, summary.State, test.ShouldEqual, Rejected)
		test.That(t, summary.RejectedIn, test.ShouldEqual, Start)
		pt, ok := euclidean.PointForTrack(3)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, pt.X, test.ShouldResemble, r3.Vector{X: 9})

		_, err = ProjectiveIntersect(context.Background(), markers[:n], projective, logging.NewTestLogger(t))
		test.That(t, errors.Is(err, ErrInsufficientObservations), test.ShouldBeTrue)
		_, ok = projective.PointForTrack(3)
		test.That(t, ok, test.ShouldBeFalse)
	}
}

func TestMissingView(t *testing.T) {
	truth := r3.Vector{X: 1, Y: 2, Z: 5}
	euclidean, projective, markers := rig(t, threeCameras, truth, 3)
	markers = append(markers, tracks.Marker{Camera: 9, Image: 7, Track: 3, X: 1, Y: 1})

	summary, err := EuclideanIntersect(context.Background(), markers, euclidean, logging.NewTestLogger(t))
	test.That(t, errors.Is(err, ErrMissingView), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "camera 9 image 7")
	test.That(t, summary.RejectedIn, test.ShouldEqual, CollectViews)
	test.That(t, euclidean.NumPoints(), test.ShouldEqual, 0)

	_, err = ProjectiveIntersect(context.Background(), markers, projective, logging.NewTestLogger(t))
	test.That(t, errors.Is(err, ErrMissingView), test.ShouldBeTrue)
	test.That(t, projective.NumPoints(), test.ShouldEqual, 0)
}

func TestMixedTracks(t *testing.T) {
	euclidean, _, markers := rig(t, threeCameras, r3.Vector{X: 1, Y: 2, Z: 5}, 3)
	markers[1].Track = 4
	_, err := EuclideanIntersect(context.Background(), markers, euclidean, logging.NewTestLogger(t))
	test.That(t, errors.Is(err, ErrMixedTracks), test.ShouldBeTrue)
	test.That(t, euclidean.NumPoints(), test.ShouldEqual, 0)
}

// behindCameraRig places the point between the first two cameras and behind the third.
func behindCameraRig(t *testing.T) (*reconstruction.EuclideanReconstruction, *reconstruction.ProjectiveReconstruction, []tracks.Marker) {
	t.Helper()
	poses := []pose{
		{rot: rotationY(0), t: r3.Vector{}},
		{rot: rotationY(-0.2), t: r3.Vector{X: -1}},
		{rot: rotationY(0), t: r3.Vector{X: 0.3, Z: -8}},
	}
	return rig(t, poses, r3.Vector{X: 0.5, Y: 0.3, Z: 4}, 11)
}

func TestCheirality(t *testing.T) {
	euclidean, projective, markers := behindCameraRig(t)

	t.Run("euclidean rejects", func(t *testing.T) {
		logger, logs := logging.NewObservedTestLogger(t)
		summary, err := EuclideanIntersect(context.Background(), markers, euclidean, logger)
		test.That(t, errors.Is(err, ErrCheirality), test.ShouldBeTrue)
		var cheirality *CheiralityError
		test.That(t, errors.As(err, &cheirality), test.ShouldBeTrue)
		test.That(t, cheirality.Track, test.ShouldEqual, 11)
		test.That(t, len(cheirality.Views), test.ShouldEqual, 1)
		test.That(t, cheirality.Views[0].View, test.ShouldResemble, reconstruction.ViewKey{Camera: 2, Image: 7})
		test.That(t, cheirality.Views[0].Depth, test.ShouldAlmostEqual, -4, 1e-6)
		test.That(t, err.Error(), test.ShouldContainSubstring, "camera 2 image 7")

		test.That(t, summary.State, test.ShouldEqual, Rejected)
		test.That(t, summary.RejectedIn, test.ShouldEqual, CheiralityCheck)
		test.That(t, euclidean.NumPoints(), test.ShouldEqual, 0)

		behind := logs.FilterMessage("point behind camera")
		test.That(t, behind.Len(), test.ShouldEqual, 1)
		test.That(t, behind.All()[0].Level, test.ShouldEqual, zapcore.ErrorLevel)
	})

	t.Run("projective commits with a warning", func(t *testing.T) {
		logger, logs := logging.NewObservedTestLogger(t)
		summary, err := ProjectiveIntersect(context.Background(), markers, projective, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, summary.State, test.ShouldEqual, Committed)
		test.That(t, len(summary.BehindCamera), test.ShouldEqual, 1)
		test.That(t, summary.BehindCamera[0].View, test.ShouldResemble, reconstruction.ViewKey{Camera: 2, Image: 7})

		_, ok := projective.PointForTrack(11)
		test.That(t, ok, test.ShouldBeTrue)

		behind := logs.FilterMessage("point behind camera")
		test.That(t, behind.Len(), test.ShouldEqual, 1)
		entry := behind.All()[0]
		test.That(t, entry.Level, test.ShouldEqual, zapcore.WarnLevel)
		test.That(t, entry.ContextMap()["camera"], test.ShouldEqual, int64(2))
	})
}

func TestCoincidentCameras(t *testing.T) {
	same := []pose{
		{rot: rotationY(0), t: r3.Vector{}},
		{rot: rotationY(0), t: r3.Vector{}},
	}
	euclidean, projective, markers := rig(t, same, r3.Vector{X: 0.5, Y: 0.3, Z: 4}, 1)

	t.Run("euclidean rejects as behind the camera", func(t *testing.T) {
		summary, err := EuclideanIntersect(context.Background(), markers, euclidean, logging.NewTestLogger(t))
		test.That(t, errors.Is(err, ErrCheirality), test.ShouldBeTrue)
		test.That(t, summary.State, test.ShouldEqual, Rejected)
		test.That(t, summary.RejectedIn, test.ShouldEqual, CheiralityCheck)
		test.That(t, summary.Solver, test.ShouldNotBeNil)
		test.That(t, summary.Solver.Status.Converged(), test.ShouldBeFalse)
		test.That(t, euclidean.NumPoints(), test.ShouldEqual, 0)
	})

	t.Run("projective commits with a warning", func(t *testing.T) {
		summary, err := ProjectiveIntersect(context.Background(), markers, projective, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, summary.State, test.ShouldEqual, Committed)
		test.That(t, summary.BehindCamera, test.ShouldNotBeEmpty)
		_, ok := projective.PointForTrack(1)
		test.That(t, ok, test.ShouldBeTrue)
	})
}

func TestOverwriteAndCancel(t *testing.T) {
	truth := r3.Vector{X: 1, Y: 2, Z: 5}
	euclidean, _, markers := rig(t, threeCameras, truth, 3)
	euclidean.InsertPoint(3, r3.Vector{X: -7})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := EuclideanIntersect(ctx, markers, euclidean, logging.NewTestLogger(t))
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, summary.RejectedIn, test.ShouldEqual, NonlinearRefine)
	pt, _ := euclidean.PointForTrack(3)
	test.That(t, pt.X, test.ShouldResemble, r3.Vector{X: -7})

	_, err = EuclideanIntersect(context.Background(), markers, euclidean, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	pt, _ = euclidean.PointForTrack(3)
	test.That(t, pt.X.Sub(truth).Norm(), test.ShouldBeLessThan, 1e-6)
}

func TestReprojectionCostJacobian(t *testing.T) {
	euclidean, projective, markers := rig(t, threeCameras, r3.Vector{X: 1, Y: 2, Z: 5}, 3)
	models := []CameraModel{
		EuclideanModel{Reconstruction: euclidean},
		ProjectiveModel{Reconstruction: projective},
	}
	for _, model := range models {
		projections, err := model.Projections(markers)
		test.That(t, err, test.ShouldBeNil)
		observed := make([]r2.Point, 0, len(markers))
		for _, m := range markers {
			observed = append(observed, m.Point())
		}
		cost := newReprojectionCost(model, observed, projections)

		params := []float64{1.1, 1.9, 5.2, 1}[:model.NumParams()]
		n := cost.NumResiduals()
		analytic := mat.NewDense(n, model.NumParams(), nil)
		numeric.Jacobian(analytic, cost, params)
		approx := mat.NewDense(n, model.NumParams(), nil)
		numeric.NumericJacobian(approx, cost, params)
		test.That(t, mat.EqualApprox(analytic, approx, 1e-4), test.ShouldBeTrue)
	}
}

func TestStateString(t *testing.T) {
	test.That(t, Committed.String(), test.ShouldEqual, "committed")
	test.That(t, CheiralityCheck.String(), test.ShouldEqual, "cheirality_check")
	test.That(t, State(42).String(), test.ShouldEqual, "unknown")
}
