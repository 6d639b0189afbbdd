// Package config describes a triangulation scene on disk: the camera views, the markers and the
// solver settings.
package config

import (
	"fmt"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/tazjel/blender-sub001/logging"
	"github.com/tazjel/blender-sub001/multiview"
	"github.com/tazjel/blender-sub001/numeric"
	"github.com/tazjel/blender-sub001/pipeline"
	"github.com/tazjel/blender-sub001/reconstruction"
	"github.com/tazjel/blender-sub001/tracks"
)

// Model names a kind of reconstruction.
type Model string

// The supported reconstruction models.
const (
	ModelEuclidean  Model = "euclidean"
	ModelProjective Model = "projective"
)

// View is a calibrated camera pose. Rotation is row major.
type View struct {
	Camera      int       `json:"camera"`
	Image       int       `json:"image"`
	Rotation    []float64 `json:"rotation"`
	Translation []float64 `json:"translation"`
}

// Validate ensures all parts of the view are valid.
func (v *View) Validate(path string) error {
	if len(v.Rotation) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "rotation")
	}
	if len(v.Rotation) != 9 {
		return utils.NewConfigValidationError(path, errors.Errorf("rotation must have 9 values, got %d", len(v.Rotation)))
	}
	if !multiview.IsRotation(mat.NewDense(3, 3, v.Rotation), 1e-6) {
		return utils.NewConfigValidationError(path, errors.New("rotation is not orthonormal with determinant 1"))
	}
	if len(v.Translation) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "translation")
	}
	if len(v.Translation) != 3 {
		return utils.NewConfigValidationError(path, errors.Errorf("translation must have 3 values, got %d", len(v.Translation)))
	}
	return nil
}

// ProjectiveView is an uncalibrated camera given by its row major 3x4 projection matrix.
type ProjectiveView struct {
	Camera int       `json:"camera"`
	Image  int       `json:"image"`
	P      []float64 `json:"p"`
}

// Validate ensures all parts of the view are valid.
func (v *ProjectiveView) Validate(path string) error {
	if len(v.P) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "p")
	}
	if len(v.P) != 12 {
		return utils.NewConfigValidationError(path, errors.Errorf("p must have 12 values, got %d", len(v.P)))
	}
	return nil
}

// Scene is everything the command needs to triangulate a set of tracks.
type Scene struct {
	Model      Model                              `json:"model"`
	Intrinsics *multiview.PinholeCameraIntrinsics `json:"intrinsics,omitempty"`
	// CameraMatrix is the row major 3x3 K, an alternative to Intrinsics.
	CameraMatrix    []float64        `json:"camera_matrix,omitempty"`
	Views           []View           `json:"views,omitempty"`
	ProjectiveViews []ProjectiveView `json:"projective_views,omitempty"`
	Markers         []tracks.Marker  `json:"markers"`
	Solver          numeric.Options  `json:"solver,omitzero"`
	Parallelism     int              `json:"parallelism,omitempty"`
	// LogLevel is the level of the command's logger. Unset means info.
	LogLevel *logging.Level `json:"log_level,omitempty"`
	// Timeout bounds each track, as a Go duration string.
	Timeout string `json:"timeout,omitempty"`

	ConfigFilePath string `json:"-"`
}

// Validate ensures all parts of the scene are valid. Every problem found is reported.
func (s *Scene) Validate(path string) error {
	var errs []error
	switch s.Model {
	case "":
		errs = append(errs, utils.NewConfigValidationFieldRequiredError(path, "model"))
	case ModelEuclidean:
		if len(s.Views) == 0 {
			errs = append(errs, utils.NewConfigValidationFieldRequiredError(path, "views"))
		}
		switch {
		case s.Intrinsics != nil && len(s.CameraMatrix) > 0:
			errs = append(errs, utils.NewConfigValidationError(path, errors.New("only one of intrinsics and camera_matrix may be set")))
		case s.Intrinsics != nil:
			if err := s.Intrinsics.CheckValid(); err != nil {
				errs = append(errs, utils.NewConfigValidationError(fmt.Sprintf("%s.intrinsics", path), err))
			}
		case len(s.CameraMatrix) > 0:
			if _, err := s.CameraIntrinsics(); err != nil {
				errs = append(errs, utils.NewConfigValidationError(fmt.Sprintf("%s.camera_matrix", path), err))
			}
		}
	case ModelProjective:
		if len(s.ProjectiveViews) == 0 {
			errs = append(errs, utils.NewConfigValidationFieldRequiredError(path, "projective_views"))
		}
	default:
		errs = append(errs, utils.NewConfigValidationError(path, errors.Errorf("unknown model %q", s.Model)))
	}

	seen := map[reconstruction.ViewKey]bool{}
	checkDuplicate := func(viewPath string, key reconstruction.ViewKey) {
		if seen[key] {
			errs = append(errs, utils.NewConfigValidationError(viewPath,
				errors.Errorf("duplicate view for camera %d image %d", key.Camera, key.Image)))
		}
		seen[key] = true
	}
	for i := range s.Views {
		viewPath := fmt.Sprintf("%s.views.%d", path, i)
		if err := s.Views[i].Validate(viewPath); err != nil {
			errs = append(errs, err)
		}
		checkDuplicate(viewPath, reconstruction.ViewKey{Camera: s.Views[i].Camera, Image: s.Views[i].Image})
	}
	seen = map[reconstruction.ViewKey]bool{}
	for i := range s.ProjectiveViews {
		viewPath := fmt.Sprintf("%s.projective_views.%d", path, i)
		if err := s.ProjectiveViews[i].Validate(viewPath); err != nil {
			errs = append(errs, err)
		}
		checkDuplicate(viewPath, reconstruction.ViewKey{Camera: s.ProjectiveViews[i].Camera, Image: s.ProjectiveViews[i].Image})
	}

	if len(s.Markers) == 0 {
		errs = append(errs, utils.NewConfigValidationFieldRequiredError(path, "markers"))
	}
	if s.Parallelism < 0 {
		errs = append(errs, utils.NewConfigValidationError(path, errors.Errorf("parallelism must not be negative, got %d", s.Parallelism)))
	}
	if s.Timeout != "" {
		if d, err := time.ParseDuration(s.Timeout); err != nil {
			errs = append(errs, utils.NewConfigValidationError(path, errors.Wrap(err, "error validating timeout")))
		} else if d < 0 {
			errs = append(errs, utils.NewConfigValidationError(path, errors.Errorf("timeout must not be negative, got %s", d)))
		}
	}
	return multierr.Combine(errs...)
}

// Tracks returns a store holding the scene's markers. Later duplicates win.
func (s *Scene) Tracks() *tracks.Tracks {
	return tracks.NewTracks(s.Markers...)
}

// CameraIntrinsics returns the intrinsics given either directly or as a camera matrix, or nil when
// the scene has neither.
func (s *Scene) CameraIntrinsics() (*multiview.PinholeCameraIntrinsics, error) {
	if s.Intrinsics != nil || len(s.CameraMatrix) == 0 {
		return s.Intrinsics, nil
	}
	if len(s.CameraMatrix) != 9 {
		return nil, errors.Errorf("camera_matrix must have 9 values, got %d", len(s.CameraMatrix))
	}
	return multiview.NewPinholeCameraIntrinsicsFromMatrix(mat.NewDense(3, 3, s.CameraMatrix))
}

// EuclideanReconstruction builds a reconstruction from the scene's calibrated views. Missing
// intrinsics mean identity intrinsics.
func (s *Scene) EuclideanReconstruction() (*reconstruction.EuclideanReconstruction, error) {
	rec := reconstruction.NewEuclideanReconstruction()
	intrinsics, err := s.CameraIntrinsics()
	if err != nil {
		return nil, err
	}
	if intrinsics != nil {
		if err := rec.SetIntrinsics(intrinsics); err != nil {
			return nil, err
		}
	}
	for _, v := range s.Views {
		if len(v.Rotation) != 9 || len(v.Translation) != 3 {
			return nil, errors.Errorf("view camera %d image %d is malformed", v.Camera, v.Image)
		}
		t := r3.Vector{X: v.Translation[0], Y: v.Translation[1], Z: v.Translation[2]}
		if err := rec.InsertView(v.Camera, v.Image, mat.NewDense(3, 3, v.Rotation), t); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// ProjectiveReconstruction builds a reconstruction from the scene's projective views.
func (s *Scene) ProjectiveReconstruction() (*reconstruction.ProjectiveReconstruction, error) {
	rec := reconstruction.NewProjectiveReconstruction()
	for _, v := range s.ProjectiveViews {
		if len(v.P) != 12 {
			return nil, errors.Errorf("projective view camera %d image %d is malformed", v.Camera, v.Image)
		}
		if err := rec.InsertView(v.Camera, v.Image, mat.NewDense(3, 4, v.P)); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// SolverOptions returns the solver settings; unset fields take the solver defaults.
func (s *Scene) SolverOptions() numeric.Options {
	return s.Solver
}

// Level returns the scene's log level, or info when unset.
func (s *Scene) Level() logging.Level {
	if s.LogLevel == nil {
		return logging.INFO
	}
	return *s.LogLevel
}

// PipelineOptions returns the batch settings. The scene must have been validated.
func (s *Scene) PipelineOptions() pipeline.Options {
	opts := pipeline.Options{Parallelism: s.Parallelism}
	if s.Timeout != "" {
		//nolint:errcheck
		opts.Timeout, _ = time.ParseDuration(s.Timeout)
	}
	return opts
}
