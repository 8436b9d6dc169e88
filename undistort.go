package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"planarar/calibration"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// UndistortOptions holds flags for the undistort command.
type UndistortOptions struct {
	*RootOptions
	Profile string
	OutDir  string
}

// NewUndistortCommand creates the undistort command.
func NewUndistortCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UndistortOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "undistort <image>...",
		Short: "Remove lens distortion from images using a saved profile",
		Long: `Undistort each image with the camera matrix and distortion coefficients of
a calibration profile and crop it to the valid region. Output files are
named <name>_undistorted<ext> in --out-dir.

Example:
  planarar undistort --profile cam.json --out-dir fixed shots/*.JPG`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("profile") {
				opts.Profile = opts.Config.Calibration.Profile
			}
			return runUndistort(stdout(cmd), opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Profile, "profile", "", "calibration profile (default: calibration.profile from config)")
	cmd.Flags().StringVar(&opts.OutDir, "out-dir", ".", "directory for undistorted images")

	return cmd
}

func runUndistort(out io.Writer, opts *UndistortOptions, paths []string) error {
	profile, err := calibration.LoadProfile(opts.Profile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(opts.OutDir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create %s", opts.OutDir)
	}

	// Keep going past bad images and report them together
	var errs error
	for _, src := range paths {
		dst := undistortedName(opts.OutDir, src)
		if err := calibration.UndistortFile(profile, src, dst); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, src))
			continue
		}
		fmt.Fprintf(out, "✅ %s -> %s\n", src, dst)
	}
	return errs
}

// undistortedName maps shots/a.JPG to <dir>/a_undistorted.JPG
func undistortedName(dir, src string) string {
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	return filepath.Join(dir, strings.TrimSuffix(base, ext)+"_undistorted"+ext)
}
