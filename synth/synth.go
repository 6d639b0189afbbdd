// Package synth generates synthetic camera rigs and observations for testing triangulation.
package synth

import (
	"math"
	"math/rand/v2"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tazjel/blender-sub001/multiview"
	"github.com/tazjel/blender-sub001/reconstruction"
	"github.com/tazjel/blender-sub001/tracks"
)

// Down is the world direction that appears downward in every generated image.
var Down = r3.Vector{Y: 1}

// LookAt returns the rotation and translation of a camera at center looking at target. The camera
// frame has z forward, x right and y along down.
func LookAt(center, target, down r3.Vector) (*mat.Dense, r3.Vector, error) {
	forward := target.Sub(center)
	if forward.Norm() == 0 {
		return nil, r3.Vector{}, errors.New("camera center and target coincide")
	}
	z := forward.Normalize()
	right := down.Cross(z)
	if right.Norm() < 1e-12 {
		return nil, r3.Vector{}, errors.New("viewing direction is parallel to the down vector")
	}
	x := right.Normalize()
	y := z.Cross(x)
	rot := mat.NewDense(3, 3, []float64{
		x.X, x.Y, x.Z,
		y.X, y.Y, y.Z,
		z.X, z.Y, z.Z,
	})
	t := r3.Vector{X: -x.Dot(center), Y: -y.Dot(center), Z: -z.Dot(center)}
	return rot, t, nil
}

// Options controls Generate.
type Options struct {
	// Views is the number of images, all taken by camera 0 moving on an arc.
	Views int
	// Points is the number of tracks.
	Points int
	// Noise is the standard deviation in pixels of the gaussian noise added to markers.
	Noise float64
	Seed  uint64
	// Radius is the distance of the cameras from the center of the point cloud.
	Radius float64
	// Spread is the half width of the cube the points are drawn from.
	Spread float64
	// Arc is the angle in radians covered by the camera path.
	Arc float64
}

// DefaultOptions returns a small well conditioned scene.
func DefaultOptions() Options {
	return Options{Views: 4, Points: 20, Radius: 10, Spread: 1.5, Arc: math.Pi / 3, Seed: 1}
}

// DefaultIntrinsics is a 1024x768 camera used by generated scenes.
func DefaultIntrinsics() *multiview.PinholeCameraIntrinsics {
	return &multiview.PinholeCameraIntrinsics{
		Width: 1024, Height: 768,
		Fx: 820, Fy: 820,
		Ppx: 512, Ppy: 384,
	}
}

// Scene is a generated rig with ground truth points and their observations.
type Scene struct {
	Intrinsics *multiview.PinholeCameraIntrinsics
	Views      []*reconstruction.EuclideanView
	Truth      map[int]r3.Vector
	Tracks     *tracks.Tracks
}

// Generate builds a scene of opts.Views images of opts.Points points centered on the origin. Every
// point is in front of every camera.
func Generate(opts Options) (*Scene, error) {
	def := DefaultOptions()
	if opts.Views < 2 {
		return nil, errors.Errorf("need at least 2 views, got %d", opts.Views)
	}
	if opts.Points < 0 {
		return nil, errors.Errorf("negative number of points %d", opts.Points)
	}
	if opts.Radius <= 0 {
		opts.Radius = def.Radius
	}
	if opts.Spread <= 0 {
		opts.Spread = def.Spread
	}
	if opts.Arc <= 0 {
		opts.Arc = def.Arc
	}
	if opts.Spread >= opts.Radius {
		return nil, errors.Errorf("spread %g must be smaller than radius %g", opts.Spread, opts.Radius)
	}

	scene := &Scene{
		Intrinsics: DefaultIntrinsics(),
		Truth:      map[int]r3.Vector{},
		Tracks:     tracks.NewTracks(),
	}
	for i := 0; i < opts.Views; i++ {
		angle := -opts.Arc/2 + opts.Arc*float64(i)/float64(opts.Views-1)
		center := r3.Vector{X: opts.Radius * math.Sin(angle), Y: -1, Z: -opts.Radius * math.Cos(angle)}
		rot, t, err := LookAt(center, r3.Vector{}, Down)
		if err != nil {
			return nil, err
		}
		view, err := reconstruction.NewEuclideanView(0, i, rot, t)
		if err != nil {
			return nil, err
		}
		scene.Views = append(scene.Views, view)
	}

	// Points and noise draw from separate streams so that the same seed gives the same points at
	// any noise level.
	uniform := distuv.Uniform{Min: -opts.Spread, Max: opts.Spread, Src: rand.NewPCG(opts.Seed, 1)}
	var noise *distuv.Normal
	if opts.Noise > 0 {
		noise = &distuv.Normal{Mu: 0, Sigma: opts.Noise, Src: rand.NewPCG(opts.Seed, 2)}
	}
	for track := 0; track < opts.Points; track++ {
		pt := r3.Vector{X: uniform.Rand(), Y: uniform.Rand(), Z: uniform.Rand()}
		scene.Truth[track] = pt
		for _, m := range Observe(scene.Views, scene.Intrinsics, pt, track) {
			if noise != nil {
				m.X += noise.Rand()
				m.Y += noise.Rand()
			}
			scene.Tracks.Insert(m.Camera, m.Image, m.Track, m.X, m.Y)
		}
	}
	return scene, nil
}

// Observe projects pt into every view and returns one noiseless marker per view.
func Observe(views []*reconstruction.EuclideanView, k *multiview.PinholeCameraIntrinsics, pt r3.Vector, track int) []tracks.Marker {
	out := make([]tracks.Marker, 0, len(views))
	for _, v := range views {
		px, ok := k.PointToPixel(v.Transform(pt))
		if !ok {
			continue
		}
		out = append(out, tracks.Marker{Camera: v.Camera, Image: v.Image, Track: track, X: px.X, Y: px.Y})
	}
	return out
}

// EuclideanReconstruction returns a reconstruction holding the scene's views and intrinsics.
func (s *Scene) EuclideanReconstruction() (*reconstruction.EuclideanReconstruction, error) {
	rec := reconstruction.NewEuclideanReconstruction()
	if err := rec.SetIntrinsics(s.Intrinsics); err != nil {
		return nil, err
	}
	for _, v := range s.Views {
		if err := rec.InsertView(v.Camera, v.Image, v.R, v.T); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// ProjectiveReconstruction returns a reconstruction whose views are P = K[R|t] of the scene's views.
func (s *Scene) ProjectiveReconstruction() (*reconstruction.ProjectiveReconstruction, error) {
	rec := reconstruction.NewProjectiveReconstruction()
	k := s.Intrinsics.K()
	for _, v := range s.Views {
		if err := rec.InsertView(v.Camera, v.Image, v.ProjectionMatrix(k)); err != nil {
			return nil, err
		}
	}
	return rec, nil
}
