package pipeline

import (
	"math"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"github.com/tazjel/blender-sub001/intersect"
)

// Report collects the outcomes of a batch in the order the tracks were given.
type Report struct {
	Outcomes []Outcome
	Duration time.Duration
}

// Committed returns the outcomes whose point was committed.
func (r *Report) Committed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err == nil && o.Summary != nil && o.Summary.State == intersect.Committed {
			out = append(out, o)
		}
	}
	return out
}

// Failed returns the outcomes that ended in an error.
func (r *Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Count returns the number of failed outcomes whose error matches target.
func (r *Report) Count(target error) int {
	var n int
	for _, o := range r.Outcomes {
		if o.Err != nil && errors.Is(o.Err, target) {
			n++
		}
	}
	return n
}

// ReprojectionErrors returns the RMS reprojection error in pixels of every committed track.
func (r *Report) ReprojectionErrors() []float64 {
	committed := r.Committed()
	out := make([]float64, 0, len(committed))
	for _, o := range committed {
		out = append(out, o.Summary.RMS())
	}
	return out
}

// Stats summarizes a Report. RMS fields are NaN when nothing was committed.
type Stats struct {
	Tracks    int
	Committed int
	Rejected  int
	// Warnings counts committed tracks that were seen behind a camera.
	Warnings int

	MeanRMS   float64
	MedianRMS float64
	P95RMS    float64
	MaxRMS    float64
	// MeanIterations is the mean number of solver iterations of committed tracks.
	MeanIterations float64
}

// Stats computes the summary statistics of the report.
func (r *Report) Stats() Stats {
	committed := r.Committed()
	s := Stats{
		Tracks:         len(r.Outcomes),
		Committed:      len(committed),
		Rejected:       len(r.Outcomes) - len(committed),
		MeanRMS:        math.NaN(),
		MedianRMS:      math.NaN(),
		P95RMS:         math.NaN(),
		MaxRMS:         math.NaN(),
		MeanIterations: math.NaN(),
	}
	if len(committed) == 0 {
		return s
	}

	iterations := make(stats.Float64Data, 0, len(committed))
	for _, o := range committed {
		if len(o.Summary.BehindCamera) > 0 {
			s.Warnings++
		}
		if o.Summary.Solver != nil {
			iterations = append(iterations, float64(len(o.Summary.Solver.Iterations)))
		}
	}
	rms := stats.Float64Data(r.ReprojectionErrors())
	// The inputs are non-empty, so these only fail on empty data.
	s.MeanRMS, _ = rms.Mean()
	s.MedianRMS, _ = rms.Median()
	s.P95RMS, _ = rms.Percentile(95)
	s.MaxRMS, _ = rms.Max()
	if len(iterations) > 0 {
		s.MeanIterations, _ = iterations.Mean()
	}
	return s
}
