package main

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/tazjel/blender-sub001/config"
	"github.com/tazjel/blender-sub001/intersect"
	"github.com/tazjel/blender-sub001/logging"
	"github.com/tazjel/blender-sub001/numeric"
	"github.com/tazjel/blender-sub001/pipeline"
	"github.com/tazjel/blender-sub001/synth"
)

// newLogger logs at level unless --debug is set.
func newLogger(c *cli.Context, level logging.Level) logging.Logger {
	if c.Bool(flagDebug) {
		level = logging.DEBUG
	}
	return logging.NewStderrLogger("intersect", level)
}

func runAction(c *cli.Context) error {
	scene, err := config.Read(c.Path(flagScene))
	if err != nil {
		return err
	}
	logger := newLogger(c, scene.Level())
	if c.IsSet(flagModel) {
		scene.Model = config.Model(c.String(flagModel))
		if err := scene.Validate("scene"); err != nil {
			return err
		}
	}
	solverOpts := scene.SolverOptions()
	if c.IsSet(flagMaxIter) {
		solverOpts.MaxIterations = c.Int(flagMaxIter)
	}
	pipelineOpts := scene.PipelineOptions()
	if c.IsSet(flagParallel) {
		pipelineOpts.Parallelism = c.Int(flagParallel)
	}
	if c.IsSet(flagTimeout) {
		pipelineOpts.Timeout = c.Duration(flagTimeout)
	}

	triangulator, err := newTriangulator(scene, logger, solverOpts)
	if err != nil {
		return err
	}
	logger.Infow("loaded scene",
		"path", scene.ConfigFilePath,
		"model", scene.Model,
		"markers", len(scene.Markers))

	report, err := pipeline.New(scene.Tracks(), triangulator, logger, pipelineOpts).IntersectAll(c.Context, nil)
	if report != nil {
		printReport(c.App.Writer, report)
	}
	if err != nil {
		return err
	}

	if path := c.Path(flagPlot); path != "" {
		if err := saveHistogram(path, report.ReprojectionErrors(), c.Int(flagPlotBuckets)); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "saved reprojection error histogram to %s\n", path)
	}
	return nil
}

func newTriangulator(scene *config.Scene, logger logging.Logger, opts numeric.Options) (pipeline.Triangulator, error) {
	switch scene.Model {
	case config.ModelEuclidean:
		rec, err := scene.EuclideanReconstruction()
		if err != nil {
			return nil, err
		}
		return intersect.NewEuclidean(rec, logger, opts), nil
	case config.ModelProjective:
		rec, err := scene.ProjectiveReconstruction()
		if err != nil {
			return nil, err
		}
		return intersect.NewProjective(rec, logger, opts), nil
	default:
		return nil, errors.Errorf("unknown model %q", scene.Model)
	}
}

func printReport(w io.Writer, report *pipeline.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Track", "State", "X", "Y", "Z", "RMS px", "Iterations", "Note"})
	for _, o := range report.Outcomes {
		row := table.Row{o.Track, "", "", "", "", "", "", ""}
		if s := o.Summary; s != nil {
			row[1] = s.State.String()
			if x, y, z, ok := s.Euclidean(); ok && s.State == intersect.Committed {
				row[2] = fmt.Sprintf("%.4f", x)
				row[3] = fmt.Sprintf("%.4f", y)
				row[4] = fmt.Sprintf("%.4f", z)
			}
			if rms := s.RMS(); !math.IsNaN(rms) {
				row[5] = fmt.Sprintf("%.3f", rms)
			}
			if s.Solver != nil {
				row[6] = len(s.Solver.Iterations)
			}
			if len(s.BehindCamera) > 0 && o.Err == nil {
				row[7] = fmt.Sprintf("behind %d camera(s)", len(s.BehindCamera))
			}
		}
		if o.Err != nil {
			row[7] = o.Err.Error()
		}
		t.AppendRow(row)
	}
	t.Render()

	stats := report.Stats()
	var sb strings.Builder
	fmt.Fprintf(&sb, "tracks: %d committed: %d rejected: %d warnings: %d\n",
		stats.Tracks, stats.Committed, stats.Rejected, stats.Warnings)
	if stats.Committed > 0 {
		fmt.Fprintf(&sb, "rms px mean: %.3f median: %.3f p95: %.3f max: %.3f\n",
			stats.MeanRMS, stats.MedianRMS, stats.P95RMS, stats.MaxRMS)
		fmt.Fprintf(&sb, "mean iterations: %.1f\n", stats.MeanIterations)
	}
	fmt.Fprintf(&sb, "took %s\n", report.Duration)
	fmt.Fprint(w, sb.String())
}

func saveHistogram(path string, errs []float64, bins int) error {
	if len(errs) == 0 {
		return errors.New("no committed tracks to plot")
	}
	if bins <= 0 {
		bins = 20
	}
	p := plot.New()
	p.Title.Text = "Reprojection error"
	p.X.Label.Text = "RMS (px)"
	p.Y.Label.Text = "tracks"

	hist, err := plotter.NewHist(plotter.Values(errs), bins)
	if err != nil {
		return errors.Wrap(err, "cannot build histogram")
	}
	p.Add(hist)
	return errors.Wrapf(p.Save(6*vg.Inch, 4*vg.Inch, path), "cannot save plot to %q", path)
}

func synthAction(c *cli.Context) error {
	model := config.Model(c.String(flagModel))
	opts := synth.DefaultOptions()
	opts.Views = c.Int(flagViews)
	opts.Points = c.Int(flagPoints)
	opts.Noise = c.Float64(flagNoise)
	opts.Seed = c.Uint64(flagSeed)

	generated, err := synth.Generate(opts)
	if err != nil {
		return err
	}
	scene, err := config.FromSynth(generated, model)
	if err != nil {
		return err
	}
	out := c.Path(flagOut)
	if err := config.Store(out, scene); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %s scene with %d views and %d markers over %d tracks to %s\n",
		model, len(generated.Views), generated.Tracks.NumMarkers(), len(generated.Truth), out)
	return nil
}
