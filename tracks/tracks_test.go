package tracks

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

var sortMarkers = cmpopts.SortSlices(func(a, b Marker) bool {
	if a.Camera != b.Camera {
		return a.Camera < b.Camera
	}
	if a.Image != b.Image {
		return a.Image < b.Image
	}
	return a.Track < b.Track
})

func assertSameMarkers(t *testing.T, actual, expected []Marker) {
	t.Helper()
	diff := cmp.Diff(expected, actual, sortMarkers, cmpopts.EquateEmpty())
	test.That(t, diff, test.ShouldBeEmpty)
}

func TestInsertReplacesDuplicateKeys(t *testing.T) {
	tr := NewTracks()
	tr.Insert(0, 1, 5, 10, 20)
	tr.Insert(0, 1, 5, 11, 21)
	tr.Insert(0, 2, 5, 30, 40)
	tr.Insert(1, 1, 5, 50, 60)
	tr.Insert(0, 1, 5, 12, 22)

	test.That(t, tr.NumMarkers(), test.ShouldEqual, 3)
	assertSameMarkers(t, tr.AllMarkers(), []Marker{
		{Camera: 0, Image: 1, Track: 5, X: 12, Y: 22},
		{Camera: 0, Image: 2, Track: 5, X: 30, Y: 40},
		{Camera: 1, Image: 1, Track: 5, X: 50, Y: 60},
	})

	m, err := tr.MarkerInImageForTrack(0, 1, 5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Point().X, test.ShouldEqual, 12.)
	test.That(t, m.Point().Y, test.ShouldEqual, 22.)
}

func TestUniquenessOverManyInserts(t *testing.T) {
	tr := NewTracks()
	last := map[markerKey]Marker{}
	for i := 0; i < 200; i++ {
		m := Marker{Camera: i % 2, Image: i % 5, Track: i % 7, X: float64(i), Y: float64(-i)}
		tr.Insert(m.Camera, m.Image, m.Track, m.X, m.Y)
		last[m.key()] = m
	}
	expected := make([]Marker, 0, len(last))
	for _, m := range last {
		expected = append(expected, m)
	}
	test.That(t, tr.NumMarkers(), test.ShouldEqual, len(last))
	assertSameMarkers(t, tr.AllMarkers(), expected)
}

func TestNewTracksFromMarkers(t *testing.T) {
	tr := NewTracks(
		Marker{Camera: 0, Image: 0, Track: 1, X: 1, Y: 1},
		Marker{Camera: 0, Image: 0, Track: 1, X: 2, Y: 2},
	)
	test.That(t, tr.NumMarkers(), test.ShouldEqual, 1)
	m, err := tr.MarkerInImageForTrack(0, 0, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.X, test.ShouldEqual, 2.)

	clone := tr.Clone()
	clone.Insert(0, 0, 2, 3, 3)
	test.That(t, clone.NumMarkers(), test.ShouldEqual, 2)
	test.That(t, tr.NumMarkers(), test.ShouldEqual, 1)

	var zero Tracks
	zero.Insert(1, 1, 1, 0, 0)
	test.That(t, zero.NumMarkers(), test.ShouldEqual, 1)
}

func newQueryFixture() *Tracks {
	tr := NewTracks()
	// track 1 (A) in images 0 and 1, track 2 (B) only in image 0, track 3 in image 1 only.
	tr.Insert(0, 0, 1, 1, 1)
	tr.Insert(0, 1, 1, 2, 2)
	tr.Insert(0, 0, 2, 3, 3)
	tr.Insert(0, 1, 3, 4, 4)
	// A second camera sees track 1 in image 0 as well.
	tr.Insert(1, 0, 1, 5, 5)
	tr.Insert(0, 2, 1, 6, 6)
	return tr
}

func TestQueries(t *testing.T) {
	tr := newQueryFixture()

	assertSameMarkers(t, tr.MarkersForTrack(1), []Marker{
		{Camera: 0, Image: 0, Track: 1, X: 1, Y: 1},
		{Camera: 0, Image: 1, Track: 1, X: 2, Y: 2},
		{Camera: 1, Image: 0, Track: 1, X: 5, Y: 5},
		{Camera: 0, Image: 2, Track: 1, X: 6, Y: 6},
	})
	test.That(t, tr.MarkersForTrack(42), test.ShouldBeEmpty)

	assertSameMarkers(t, tr.MarkersInImage(0, 0), []Marker{
		{Camera: 0, Image: 0, Track: 1, X: 1, Y: 1},
		{Camera: 0, Image: 0, Track: 2, X: 3, Y: 3},
	})
	assertSameMarkers(t, tr.MarkersInCamera(1), []Marker{
		{Camera: 1, Image: 0, Track: 1, X: 5, Y: 5},
	})
	assertSameMarkers(t, tr.MarkersInBothImages(0, 0, 1), []Marker{
		{Camera: 0, Image: 0, Track: 1, X: 1, Y: 1},
		{Camera: 0, Image: 1, Track: 1, X: 2, Y: 2},
		{Camera: 0, Image: 0, Track: 2, X: 3, Y: 3},
		{Camera: 0, Image: 1, Track: 3, X: 4, Y: 4},
	})

	test.That(t, tr.MaxCamera(), test.ShouldEqual, 1)
	test.That(t, tr.MaxImage(), test.ShouldEqual, 2)
	test.That(t, tr.MaxTrack(), test.ShouldEqual, 3)
	test.That(t, tr.TrackIDs(), test.ShouldResemble, []int{1, 2, 3})
}

func TestMarkersForTracksInBothImagesIsAJoin(t *testing.T) {
	tr := newQueryFixture()

	// Only track 1 is in both images; track 2 (image 0 only) and track 3 (image 1 only) are
	// excluded, as is the camera 1 marker and the image 2 marker of track 1.
	assertSameMarkers(t, tr.MarkersForTracksInBothImages(0, 0, 1), []Marker{
		{Camera: 0, Image: 0, Track: 1, X: 1, Y: 1},
		{Camera: 0, Image: 1, Track: 1, X: 2, Y: 2},
	})
	assertSameMarkers(t, tr.MarkersForTracksInBothImages(0, 1, 0), []Marker{
		{Camera: 0, Image: 0, Track: 1, X: 1, Y: 1},
		{Camera: 0, Image: 1, Track: 1, X: 2, Y: 2},
	})
	test.That(t, tr.MarkersForTracksInBothImages(1, 0, 1), test.ShouldBeEmpty)
	test.That(t, tr.MarkersForTracksInBothImages(0, 1, 7), test.ShouldBeEmpty)
}

func TestMarkerInImageForTrackNotFound(t *testing.T) {
	tr := newQueryFixture()
	_, err := tr.MarkerInImageForTrack(0, 0, 3)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrMarkerNotFound), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "camera 0 image 0 track 3")
}

func TestRemoval(t *testing.T) {
	tr := newQueryFixture()
	capacity := cap(tr.markers)

	tr.RemoveMarker(0, 0, 2)
	tr.RemoveMarker(0, 0, 2)
	tr.RemoveMarker(9, 9, 9)
	test.That(t, tr.NumMarkers(), test.ShouldEqual, 5)
	_, err := tr.MarkerInImageForTrack(0, 0, 2)
	test.That(t, errors.Is(err, ErrMarkerNotFound), test.ShouldBeTrue)

	tr.RemoveMarkersForCamera(1)
	test.That(t, tr.MarkersInCamera(1), test.ShouldBeEmpty)
	test.That(t, tr.NumMarkers(), test.ShouldEqual, 4)

	tr.RemoveMarkersForTrack(1)
	assertSameMarkers(t, tr.AllMarkers(), []Marker{{Camera: 0, Image: 1, Track: 3, X: 4, Y: 4}})
	test.That(t, cap(tr.markers), test.ShouldEqual, capacity)

	// The index must still point at the right slots after compaction.
	m, err := tr.MarkerInImageForTrack(0, 1, 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.X, test.ShouldEqual, 4.)
	tr.Insert(0, 1, 3, 8, 8)
	test.That(t, tr.NumMarkers(), test.ShouldEqual, 1)

	tr.RemoveMarkersForTrack(3)
	test.That(t, tr.NumMarkers(), test.ShouldEqual, 0)
	test.That(t, tr.MaxCamera(), test.ShouldEqual, -1)
	test.That(t, tr.MaxImage(), test.ShouldEqual, -1)
	test.That(t, tr.MaxTrack(), test.ShouldEqual, -1)
}

func TestCoordinatesForMarkersInImage(t *testing.T) {
	tr := newQueryFixture()
	coords := CoordinatesForMarkersInImage(tr.MarkersForTrack(1), 0, 1)
	test.That(t, coords, test.ShouldNotBeNil)
	rows, cols := coords.Dims()
	test.That(t, rows, test.ShouldEqual, 2)
	test.That(t, cols, test.ShouldEqual, 1)
	test.That(t, coords.At(0, 0), test.ShouldEqual, 2.)
	test.That(t, coords.At(1, 0), test.ShouldEqual, 2.)

	test.That(t, CoordinatesForMarkersInImage(tr.MarkersForTrack(2), 0, 1), test.ShouldBeNil)
}

func TestConcurrentInsertAndQuery(t *testing.T) {
	tr := NewTracks()
	var wg sync.WaitGroup
	for track := 0; track < 8; track++ {
		wg.Add(1)
		go func(track int) {
			defer wg.Done()
			for image := 0; image < 50; image++ {
				tr.Insert(0, image, track, float64(image), float64(track))
				tr.MarkersForTrack(track)
			}
		}(track)
	}
	wg.Wait()
	test.That(t, tr.NumMarkers(), test.ShouldEqual, 8*50)
	test.That(t, tr.MarkersForTrack(3), test.ShouldHaveLength, 50)
}
