package main

import (
	"context"
	"fmt"
	"io"

	"planarar/board"
	"planarar/calibration"
	"planarar/config"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// CalibrateOptions holds flags for the calibrate command.
type CalibrateOptions struct {
	*RootOptions
	Images  string
	Profile string
	Sample  string
	Result  string
	Workers int
	Strict  bool
}

// NewCalibrateCommand creates the calibrate command.
func NewCalibrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CalibrateOptions{RootOptions: rootOpts}
	defaults := config.DefaultConfig().Calibration

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Recover camera intrinsics from checkerboard photographs",
		Long: `Detect the checkerboard in every image matching --images, calibrate the
camera, print the camera matrix, distortion and per-view rotation and
translation vectors, save them as a JSON profile and write an undistorted,
cropped sample image.

A failed calibration is reported and the command still succeeds, unless
--strict is set.

Example:
  planarar calibrate --images 'shots/*.JPG' --profile cam.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalibrate(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Images, "images", defaults.Images, "glob of checkerboard photographs")
	cmd.Flags().StringVarP(&opts.Profile, "profile", "o", defaults.Profile, "where to save the calibration profile")
	cmd.Flags().StringVar(&opts.Sample, "sample", defaults.Sample, "image to undistort (default: last usable view)")
	cmd.Flags().StringVar(&opts.Result, "result", defaults.ResultImage, "undistorted sample output path")
	cmd.Flags().IntVar(&opts.Workers, "workers", defaults.Workers, "images decoded in parallel")
	cmd.Flags().BoolVar(&opts.Strict, "strict", defaults.Strict, "exit non-zero when calibration fails")

	return cmd
}

func runCalibrate(ctx context.Context, cmd *cobra.Command, opts *CalibrateOptions) error {
	cfg := opts.Config
	override(cmd, "images", &cfg.Calibration.Images, opts.Images)
	override(cmd, "profile", &cfg.Calibration.Profile, opts.Profile)
	override(cmd, "sample", &cfg.Calibration.Sample, opts.Sample)
	override(cmd, "result", &cfg.Calibration.ResultImage, opts.Result)
	override(cmd, "workers", &cfg.Calibration.Workers, opts.Workers)
	override(cmd, "strict", &cfg.Calibration.Strict, opts.Strict)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	out := stdout(cmd)
	err := guard(func() error {
		return calibrate(ctx, out, opts.pattern(), cfg.Calibration)
	})
	if err == nil {
		return nil
	}

	debugMsg("ERROR", fmt.Sprintf("Calibration failed: %v", err))
	fmt.Fprintf(out, "❌ Calibration failed: %v\n", err)
	if cfg.Calibration.Strict {
		return err
	}
	return nil
}

func calibrate(ctx context.Context, out io.Writer, pattern board.Pattern, cfg config.CalibrationConfig) error {
	paths, err := calibration.Glob(cfg.Images)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.Wrapf(calibration.ErrNoViews, "no images match %s", cfg.Images)
	}
	fmt.Fprintf(out, "🔍 Calibrating from %d images (%dx%d inner corners)\n", len(paths), pattern.Columns, pattern.Rows)

	result, err := calibration.NewCalibrator(calibration.Options{
		Pattern: pattern,
		Workers: cfg.Workers,
	}).Calibrate(ctx, paths)
	if err != nil {
		return err
	}

	result.Report(out)

	if err := result.Save(cfg.Profile); err != nil {
		return err
	}
	fmt.Fprintf(out, "✅ Saved calibration profile to %s\n", cfg.Profile)

	sample := cfg.Sample
	if sample == "" {
		sample = result.Images[len(result.Images)-1]
	}
	if err := calibration.UndistortFile(result, sample, cfg.ResultImage); err != nil {
		return errors.Wrap(err, "failed to undistort sample")
	}
	fmt.Fprintf(out, "✅ Wrote undistorted %s to %s\n", sample, cfg.ResultImage)
	return nil
}
