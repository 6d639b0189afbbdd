// Package tracks stores the 2D observations (markers) that triangulation consumes.
//
// A marker is the position of a tracked target in one image of one camera. All markers for the
// same target share a track number; markers of a track with different camera numbers are the same
// target seen from another view.
package tracks

import (
	"slices"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"
)

// ErrMarkerNotFound is returned by exact lookups when no marker exists for the key.
var ErrMarkerNotFound = errors.New("marker not found")

// A Marker is the 2D location of a tracked point in an image. X and Y are pixels from the top left
// corner of the image identified by Image for the camera identified by Camera.
type Marker struct {
	Camera int     `json:"camera"`
	Image  int     `json:"image"`
	Track  int     `json:"track"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// Point returns the pixel position of the marker.
func (m Marker) Point() r2.Point {
	return r2.Point{X: m.X, Y: m.Y}
}

type markerKey struct {
	camera, image, track int
}

func (m Marker) key() markerKey {
	return markerKey{m.Camera, m.Image, m.Track}
}

// Tracks is the store of correspondences between images, which must be filled before any 3D
// reconstruction can take place. It is safe for concurrent use.
type Tracks struct {
	mu      sync.RWMutex
	markers []Marker
	index   map[markerKey]int
}

// NewTracks returns a store holding the given markers. Later markers replace earlier ones with the
// same camera, image and track.
func NewTracks(markers ...Marker) *Tracks {
	t := &Tracks{
		markers: make([]Marker, 0, len(markers)),
		index:   make(map[markerKey]int, len(markers)),
	}
	for _, m := range markers {
		t.insert(m)
	}
	return t
}

// Clone returns an independent copy of the store.
func (t *Tracks) Clone() *Tracks {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return NewTracks(t.markers...)
}

// Insert adds a marker. If there is already a marker for the given camera, image and track, the
// existing marker is replaced. To get an identifier for a new track, use MaxTrack() + 1.
func (t *Tracks) Insert(camera, image, track int, x, y float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insert(Marker{Camera: camera, Image: image, Track: track, X: x, Y: y})
}

func (t *Tracks) insert(m Marker) {
	if t.index == nil {
		t.index = make(map[markerKey]int)
	}
	if i, ok := t.index[m.key()]; ok {
		t.markers[i] = m
		return
	}
	t.index[m.key()] = len(t.markers)
	t.markers = append(t.markers, m)
}

// filter returns a fresh slice with the markers matching keep.
func (t *Tracks) filter(keep func(m Marker) bool) []Marker {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return lo.Filter(t.markers, func(m Marker, _ int) bool {
		return keep(m)
	})
}

// AllMarkers returns all the markers.
func (t *Tracks) AllMarkers() []Marker {
	return t.filter(func(Marker) bool { return true })
}

// MarkersInCamera returns all the markers visible from camera.
func (t *Tracks) MarkersInCamera(camera int) []Marker {
	return t.filter(func(m Marker) bool { return m.Camera == camera })
}

// MarkersInImage returns all the markers visible in image from camera.
func (t *Tracks) MarkersInImage(camera, image int) []Marker {
	return t.filter(func(m Marker) bool { return m.Camera == camera && m.Image == image })
}

// MarkersForTrack returns all the markers belonging to a track.
func (t *Tracks) MarkersForTrack(track int) []Marker {
	return t.filter(func(m Marker) bool { return m.Track == track })
}

// MarkersInBothImages returns all the markers visible in image1 or image2 from camera.
func (t *Tracks) MarkersInBothImages(camera, image1, image2 int) []Marker {
	return t.filter(func(m Marker) bool {
		return m.Camera == camera && (m.Image == image1 || m.Image == image2)
	})
}

// MarkersForTracksInBothImages returns the markers in image1 and image2 (both from camera) which
// have a common track.
//
// This is not the same as the union of the markers in image1 and image2; each marker is for a
// track that appears in both images.
func (t *Tracks) MarkersForTracksInBothImages(camera, image1, image2 int) []Marker {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var image1Tracks, image2Tracks []int
	for _, m := range t.markers {
		if m.Camera != camera {
			continue
		}
		if m.Image == image1 {
			image1Tracks = append(image1Tracks, m.Track)
		} else if m.Image == image2 {
			image2Tracks = append(image2Tracks, m.Track)
		}
	}
	if image1 == image2 {
		image2Tracks = image1Tracks
	}
	common := make(map[int]struct{})
	for _, track := range lo.Intersect(image1Tracks, image2Tracks) {
		common[track] = struct{}{}
	}

	return lo.Filter(t.markers, func(m Marker, _ int) bool {
		if m.Camera != camera || (m.Image != image1 && m.Image != image2) {
			return false
		}
		_, ok := common[m.Track]
		return ok
	})
}

// MarkerInImageForTrack returns the marker in image from camera belonging to track.
func (t *Tracks) MarkerInImageForTrack(camera, image, track int) (Marker, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i, ok := t.index[markerKey{camera, image, track}]; ok {
		return t.markers[i], nil
	}
	return Marker{}, errors.Wrapf(ErrMarkerNotFound, "camera %d image %d track %d", camera, image, track)
}

// RemoveMarkersForCamera removes all the markers belonging to camera.
func (t *Tracks) RemoveMarkersForCamera(camera int) {
	t.removeMatching(func(m Marker) bool { return m.Camera == camera })
}

// RemoveMarkersForTrack removes all the markers belonging to track.
func (t *Tracks) RemoveMarkersForTrack(track int) {
	t.removeMatching(func(m Marker) bool { return m.Track == track })
}

// RemoveMarker removes the marker in image of camera belonging to track. Removing a marker that
// does not exist does nothing.
func (t *Tracks) RemoveMarker(camera, image, track int) {
	key := markerKey{camera, image, track}
	t.removeMatching(func(m Marker) bool { return m.key() == key })
}

// removeMatching compacts the kept markers in place. The backing array keeps its capacity.
func (t *Tracks) removeMatching(remove func(m Marker) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.markers[:0]
	for _, m := range t.markers {
		if remove(m) {
			delete(t.index, m.key())
			continue
		}
		t.index[m.key()] = len(kept)
		kept = append(kept, m)
	}
	clear(t.markers[len(kept):])
	t.markers = kept
}

// maxOf returns the largest id picked from the markers, or -1 when there are none.
func (t *Tracks) maxOf(id func(m Marker) int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.markers) == 0 {
		return -1
	}
	return lo.Max(lo.Map(t.markers, func(m Marker, _ int) int { return id(m) }))
}

// MaxCamera returns the maximum camera identifier used, or -1 if there are no markers.
func (t *Tracks) MaxCamera() int {
	return t.maxOf(func(m Marker) int { return m.Camera })
}

// MaxImage returns the maximum image identifier used, or -1 if there are no markers.
func (t *Tracks) MaxImage() int {
	return t.maxOf(func(m Marker) int { return m.Image })
}

// MaxTrack returns the maximum track identifier used, or -1 if there are no markers.
func (t *Tracks) MaxTrack() int {
	return t.maxOf(func(m Marker) int { return m.Track })
}

// NumMarkers returns the number of markers.
func (t *Tracks) NumMarkers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.markers)
}

// TrackIDs returns the distinct track identifiers in ascending order.
func (t *Tracks) TrackIDs() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := lo.Uniq(lo.Map(t.markers, func(m Marker, _ int) int { return m.Track }))
	slices.Sort(ids)
	return ids
}

// CoordinatesForMarkersInImage returns a 2xN matrix holding the pixel coordinates of the markers
// that are in image of camera, in the order they appear in markers. It returns nil when none are.
func CoordinatesForMarkersInImage(markers []Marker, camera, image int) *mat.Dense {
	inImage := lo.Filter(markers, func(m Marker, _ int) bool {
		return m.Camera == camera && m.Image == image
	})
	if len(inImage) == 0 {
		return nil
	}
	coords := mat.NewDense(2, len(inImage), nil)
	for i, m := range inImage {
		coords.Set(0, i, m.X)
		coords.Set(1, i, m.Y)
	}
	return coords
}
