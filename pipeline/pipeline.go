// Package pipeline triangulates the tracks of a Tracks store into a reconstruction, one track at a
// time or as a bounded parallel batch.
package pipeline

import (
	"context"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/tazjel/blender-sub001/intersect"
	"github.com/tazjel/blender-sub001/logging"
	"github.com/tazjel/blender-sub001/tracks"
)

// ParallelFactor is the default number of tracks triangulated at once.
var ParallelFactor = runtime.GOMAXPROCS(0)

// A Triangulator intersects the markers of one track. *intersect.Intersector is one.
type Triangulator interface {
	Intersect(ctx context.Context, markers []tracks.Marker) (*intersect.Summary, error)
}

// Options bounds a batch.
type Options struct {
	// Parallelism is the number of tracks in flight. Zero means ParallelFactor.
	Parallelism int
	// Timeout bounds each track. Zero means no bound beyond the caller's context.
	Timeout time.Duration
}

// Pipeline reads markers from a Tracks store and hands them to a Triangulator. The views of the
// reconstruction behind the Triangulator must not change while a batch runs.
type Pipeline struct {
	tracks       *tracks.Tracks
	triangulator Triangulator
	logger       logging.Logger
	opts         Options
}

// New returns a Pipeline.
func New(t *tracks.Tracks, triangulator Triangulator, logger logging.Logger, opts Options) *Pipeline {
	if opts.Parallelism <= 0 {
		opts.Parallelism = ParallelFactor
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	return &Pipeline{tracks: t, triangulator: triangulator, logger: logger, opts: opts}
}

// IntersectTrack triangulates every marker of track.
func (p *Pipeline) IntersectTrack(ctx context.Context, track int) (*intersect.Summary, error) {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}
	return p.triangulator.Intersect(ctx, p.tracks.MarkersForTrack(track))
}

// Outcome is the result of one track in a batch.
type Outcome struct {
	Track   int
	Summary *intersect.Summary
	Err     error
}

// IntersectAll triangulates the given tracks, or every track of the store when trackIDs is nil.
// A track that fails is recorded in the report and does not stop the batch; only the cancellation
// of ctx does, in which case the partial report is returned with the error.
func (p *Pipeline) IntersectAll(ctx context.Context, trackIDs []int) (*Report, error) {
	if trackIDs == nil {
		trackIDs = p.tracks.TrackIDs()
	}
	start := time.Now()
	report := &Report{Outcomes: make([]Outcome, len(trackIDs))}

	errs, gctx := errgroup.WithContext(ctx)
	errs.SetLimit(p.opts.Parallelism)
	for i, track := range trackIDs {
		errs.Go(func() error {
			if err := gctx.Err(); err != nil {
				report.Outcomes[i] = Outcome{Track: track, Err: err}
				return err
			}
			summary, err := p.IntersectTrack(gctx, track)
			report.Outcomes[i] = Outcome{Track: track, Summary: summary, Err: err}
			if err != nil {
				p.logger.CDebugw(ctx, "track not triangulated", "track", track, "error", err)
			}
			return nil
		})
	}
	waitErr := errs.Wait()
	report.Duration = time.Since(start)
	if err := ctx.Err(); err != nil {
		return report, errors.Wrap(err, "batch interrupted")
	}
	if waitErr != nil {
		return report, waitErr
	}

	stats := report.Stats()
	p.logger.Infow("triangulated tracks",
		"tracks", stats.Tracks,
		"committed", stats.Committed,
		"rejected", stats.Rejected,
		"duration", report.Duration)
	return report, nil
}
