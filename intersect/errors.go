package intersect

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/tazjel/blender-sub001/reconstruction"
)

var (
	// ErrInsufficientObservations is returned when fewer than two markers are given.
	ErrInsufficientObservations = errors.New("at least 2 markers are needed to intersect")
	// ErrMissingView is returned when a marker's (camera, image) has no view in the reconstruction.
	ErrMissingView = errors.New("no view for marker")
	// ErrMixedTracks is returned when the markers do not all belong to the same track.
	ErrMixedTracks = errors.New("markers belong to different tracks")
	// ErrCheirality is wrapped by CheiralityError.
	ErrCheirality = errors.New("point behind camera")
)

// BehindCamera is a view that sees the point at a non-positive depth.
type BehindCamera struct {
	View  reconstruction.ViewKey `json:"view"`
	Depth float64                `json:"depth"`
}

// CheiralityError is returned when a refined Euclidean point lies behind at least one camera.
type CheiralityError struct {
	Track int
	Views []BehindCamera
}

func (e *CheiralityError) Error() string {
	parts := make([]string, 0, len(e.Views))
	for _, v := range e.Views {
		parts = append(parts, fmt.Sprintf("camera %d image %d (depth %g)", v.View.Camera, v.View.Image, v.Depth))
	}
	return fmt.Sprintf("track %d: %s: %s", e.Track, ErrCheirality, strings.Join(parts, ", "))
}

func (e *CheiralityError) Unwrap() error {
	return ErrCheirality
}
