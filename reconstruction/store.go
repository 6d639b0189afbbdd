// Package reconstruction holds the camera views and triangulated points of a Euclidean or
// projective reconstruction.
package reconstruction

import (
	"cmp"
	"slices"
	"sync"
)

// ViewKey identifies the view of one camera at one image.
type ViewKey struct {
	Camera int `json:"camera"`
	Image  int `json:"image"`
}

func compareViewKeys(a, b ViewKey) int {
	if c := cmp.Compare(a.Camera, b.Camera); c != 0 {
		return c
	}
	return cmp.Compare(a.Image, b.Image)
}

// store is the map pair shared by both reconstructions. Views and points are guarded by separate
// locks so that committing points never waits on view readers.
type store[V, P any] struct {
	viewsMu sync.RWMutex
	views   map[ViewKey]V

	pointsMu sync.RWMutex
	points   map[int]P
}

func (s *store[V, P]) insertView(key ViewKey, v V) {
	s.viewsMu.Lock()
	defer s.viewsMu.Unlock()
	if s.views == nil {
		s.views = map[ViewKey]V{}
	}
	s.views[key] = v
}

func (s *store[V, P]) view(key ViewKey) (V, bool) {
	s.viewsMu.RLock()
	defer s.viewsMu.RUnlock()
	v, ok := s.views[key]
	return v, ok
}

func (s *store[V, P]) allViews() []V {
	s.viewsMu.RLock()
	defer s.viewsMu.RUnlock()
	keys := make([]ViewKey, 0, len(s.views))
	for k := range s.views {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareViewKeys)
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.views[k])
	}
	return out
}

func (s *store[V, P]) numViews() int {
	s.viewsMu.RLock()
	defer s.viewsMu.RUnlock()
	return len(s.views)
}

func (s *store[V, P]) insertPoint(track int, p P) {
	s.pointsMu.Lock()
	defer s.pointsMu.Unlock()
	if s.points == nil {
		s.points = map[int]P{}
	}
	s.points[track] = p
}

func (s *store[V, P]) point(track int) (P, bool) {
	s.pointsMu.RLock()
	defer s.pointsMu.RUnlock()
	p, ok := s.points[track]
	return p, ok
}

func (s *store[V, P]) allPoints() []P {
	s.pointsMu.RLock()
	defer s.pointsMu.RUnlock()
	tracks := make([]int, 0, len(s.points))
	for t := range s.points {
		tracks = append(tracks, t)
	}
	slices.Sort(tracks)
	out := make([]P, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, s.points[t])
	}
	return out
}

func (s *store[V, P]) removePoint(track int) {
	s.pointsMu.Lock()
	defer s.pointsMu.Unlock()
	delete(s.points, track)
}

func (s *store[V, P]) numPoints() int {
	s.pointsMu.RLock()
	defer s.pointsMu.RUnlock()
	return len(s.points)
}
