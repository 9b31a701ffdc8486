package main

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/viterin/vek"

	"github.com/orneryd/facesort/pkg/facesort"
)

type benchOptions struct {
	models     int
	faces      int
	tier       string
	iterations int
	seed       uint64
	maxWG      int
	quiet      bool
}

func newBenchCmd(configPath *string) *cobra.Command {
	var opts benchOptions
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark the CPU reference sort on a synthetic scene",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			shapes, err := facesort.DeriveShapes(opts.maxWG, cfg.Compositor.LargeFacesCeiling)
			if err != nil {
				return err
			}
			res, err := runBench(cmd, shapes, opts)
			if err != nil {
				return err
			}
			res.print(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.models, "models", 256, "Models per frame")
	cmd.Flags().IntVar(&opts.faces, "faces", 300, "Faces per model")
	cmd.Flags().StringVar(&opts.tier, "tier", "auto", "Tier: auto, unordered, small, large")
	cmd.Flags().IntVar(&opts.iterations, "iterations", 100, "Frames to run")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "Scene seed")
	cmd.Flags().IntVar(&opts.maxWG, "max-work-group", 1024, "Work-group limit to size the tiers for")
	cmd.Flags().BoolVar(&opts.quiet, "quiet", false, "Hide the progress bar")
	return cmd
}

type benchResult struct {
	tier   facesort.Tier
	shape  facesort.Shape
	models int
	faces  int
	frames []float64 // milliseconds
}

func runBench(cmd *cobra.Command, shapes facesort.Shapes, opts benchOptions) (*benchResult, error) {
	if opts.models <= 0 || opts.iterations <= 0 {
		return nil, fmt.Errorf("models and iterations must be positive")
	}

	var tier facesort.Tier
	if opts.tier == "auto" {
		t, ok := shapes.Classify(opts.faces)
		if !ok {
			return nil, fmt.Errorf("%d faces exceed the large tier (%d)", opts.faces, shapes.Of(facesort.TierLarge).Faces)
		}
		tier = t
	} else {
		t, err := facesort.ParseTier(opts.tier)
		if err != nil {
			return nil, err
		}
		tier = t
	}
	shape := shapes.Of(tier)
	faces := min(opts.faces, shape.Faces)

	sc := newScene(opts.seed, opts.models, faces)
	res := &benchResult{tier: tier, shape: shape, models: opts.models, faces: faces}

	var bar *progressbar.ProgressBar
	if !opts.quiet {
		bar = progressbar.Default(int64(opts.iterations), "sorting")
	}
	ctx := cmd.Context()
	for i := 0; i < opts.iterations; i++ {
		start := time.Now()
		if err := facesort.Run(ctx, tier, shape, sc.models, &sc.in, sc.uni, &sc.out); err != nil {
			return nil, err
		}
		res.frames = append(res.frames, float64(time.Since(start).Microseconds())/1000)
		// rotate the camera so every frame sorts a different view
		sc.uni.CameraYaw = (sc.uni.CameraYaw + 7) % facesort.SinCosTableSize
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return res, nil
}

func (r *benchResult) print(w io.Writer) {
	fmt.Fprintf(w, "tier=%s faces=%d stride=%d models=%d faces/model=%d frames=%d\n",
		r.tier, r.shape.Faces, r.shape.Stride, r.models, r.faces, len(r.frames))
	fmt.Fprintf(w, "frame ms: mean=%.3f median=%.3f min=%.3f max=%.3f\n",
		vek.Mean(r.frames), vek.Median(r.frames), vek.Min(r.frames), vek.Max(r.frames))
	facesPerSec := float64(r.models*r.faces) / (vek.Mean(r.frames) / 1000)
	fmt.Fprintf(w, "throughput: %.0f faces/s\n", facesPerSec)
}
