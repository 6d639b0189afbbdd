package main

import (
	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	flagScene       = "scene"
	flagModel       = "model"
	flagParallel    = "parallel"
	flagTimeout     = "timeout"
	flagPlot        = "plot"
	flagDebug       = "debug"
	flagOut         = "out"
	flagViews       = "views"
	flagPoints      = "points"
	flagNoise       = "noise"
	flagSeed        = "seed"
	flagMaxIter     = "max-iterations"
	flagPlotBuckets = "plot-buckets"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "intersect",
		Usage: "triangulate tracked markers into 3D points",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "triangulate every track of a scene",
				UsageText: "intersect run --scene FILE [--model M] [--parallel N] [--timeout D] [--plot FILE]",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     flagScene,
						Aliases:  []string{"s"},
						Required: true,
						Usage:    "load the scene from `FILE`",
					},
					&cli.StringFlag{
						Name:  flagModel,
						Usage: "override the scene model (euclidean or projective)",
					},
					&cli.IntFlag{
						Name:  flagParallel,
						Usage: "number of tracks triangulated at once, overrides the scene",
					},
					&cli.DurationFlag{
						Name:  flagTimeout,
						Usage: "time limit per track, overrides the scene",
					},
					&cli.IntFlag{
						Name:  flagMaxIter,
						Usage: "solver iteration limit, overrides the scene",
					},
					&cli.PathFlag{
						Name:  flagPlot,
						Usage: "save a histogram of the reprojection errors to `FILE` (png, svg or pdf)",
					},
					&cli.IntFlag{
						Name:  flagPlotBuckets,
						Value: 20,
						Usage: "number of histogram bins",
					},
				},
				Action: runAction,
			},
			{
				Name:      "synth",
				Usage:     "generate a synthetic scene",
				UsageText: "intersect synth --out FILE [--views N] [--points N] [--noise PX] [--seed S] [--model M]",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     flagOut,
						Aliases:  []string{"o"},
						Required: true,
						Usage:    "write the scene to `FILE`",
					},
					&cli.StringFlag{
						Name:  flagModel,
						Value: "euclidean",
						Usage: "euclidean or projective",
					},
					&cli.IntFlag{
						Name:  flagViews,
						Value: 4,
						Usage: "number of images",
					},
					&cli.IntFlag{
						Name:  flagPoints,
						Value: 20,
						Usage: "number of tracks",
					},
					&cli.Float64Flag{
						Name:  flagNoise,
						Usage: "standard deviation of the marker noise in pixels",
					},
					&cli.Uint64Flag{
						Name:  flagSeed,
						Value: 1,
						Usage: "random seed",
					},
				},
				Action: synthAction,
			},
		},
	}
}
