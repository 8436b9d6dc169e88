package main

import (
	"fmt"
	"io"

	"planarar/board"
	"planarar/calibration"
	"planarar/homography"
	"planarar/overlay"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gocv.io/x/gocv"
)

// HomographyOptions holds flags for the homography command.
type HomographyOptions struct {
	*RootOptions
	Profile     string
	Replacement string
	Output      string
}

// NewHomographyCommand creates the homography command.
func NewHomographyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HomographyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "homography <image>",
		Short: "Compute the board-to-image homography for one photograph",
		Long: `Find the checkerboard in an image (undistorted first when --profile is
given), fit the 3x3 homography mapping board coordinates to image pixels
over every inner corner with the direct linear transform, and print it
with its reprojection error.

With --replacement and --output the replacement image is warped onto the
board with the fitted homography and the result is written out.

Example:
  planarar homography left12.jpg --profile cam.json
  planarar homography left12.jpg --replacement AR.JPG --output ar.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHomography(stdout(cmd), opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Profile, "profile", "", "calibration profile used to undistort the image first")
	cmd.Flags().StringVarP(&opts.Replacement, "replacement", "r", "", "image to warp onto the board")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "where to write the composited image")

	return cmd
}

func runHomography(out io.Writer, opts *HomographyOptions, path string) error {
	pattern := opts.pattern()
	if err := pattern.Validate(); err != nil {
		return err
	}
	if (opts.Replacement == "") != (opts.Output == "") {
		return errors.New("--replacement and --output must be given together")
	}

	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return fmt.Errorf("could not read image %s", path)
	}

	if opts.Profile != "" {
		profile, err := calibration.LoadProfile(opts.Profile)
		if err != nil {
			return err
		}
		u, err := calibration.NewUndistorter(profile, 1)
		if err != nil {
			return err
		}
		fixed := gocv.NewMat()
		err = u.Apply(img, &fixed)
		u.Close()
		if err != nil {
			fixed.Close()
			return err
		}
		img.Close()
		img = fixed
	}

	gray := board.Grayscale(img)
	det, err := board.NewCalibrationManager(pattern).Detect(gray)
	gray.Close()
	if err != nil {
		return errors.Wrapf(err, "%s", path)
	}

	from := pattern.PlanePoints()
	to := det.Points()
	h, err := homography.Solve(from, to)
	if err != nil {
		return err
	}
	rms, err := homography.ReprojectionError(h, from, to)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Homography (board -> image), %d correspondences:\n", len(from))
	for _, row := range h {
		writeMatrixRow(out, row[:])
	}
	fmt.Fprintf(out, "RMS reprojection error: %.6f px\n", rms)

	if opts.Replacement == "" {
		return nil
	}
	return compositeStill(out, &img, pattern, det, opts.Replacement, opts.Output)
}

// compositeStill warps replacement onto the detected board in img with a
// homography fitted over all corners and writes the result
func compositeStill(out io.Writer, img *gocv.Mat, pattern board.Pattern, det *board.Detection, replacement, output string) error {
	c, err := overlay.LoadCompositor(replacement, overlay.DefaultMaskThreshold)
	if err != nil {
		return err
	}
	defer c.Close()

	size := c.Size()
	h, err := homography.Solve(pattern.ReferencePoints(size.X, size.Y), det.Points())
	if err != nil {
		return err
	}
	m := overlay.MatrixToMat(h)
	defer m.Close()

	if err := c.Composite(img, m); err != nil {
		return err
	}
	if !gocv.IMWrite(output, *img) {
		return fmt.Errorf("failed to write %s", output)
	}
	fmt.Fprintf(out, "✅ Wrote %s\n", output)
	return nil
}

func writeMatrixRow(w io.Writer, values []float64) {
	for _, v := range values {
		fmt.Fprintf(w, "%14.6f", v)
	}
	fmt.Fprintln(w)
}
