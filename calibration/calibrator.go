package calibration

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"planarar/board"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"
)

// ErrNoViews is returned when no input image contained the full pattern
var ErrNoViews = errors.New("no usable calibration views")

// Global debug function for calibration package
var debugMsgFunc func(string, string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(string, string)) {
	debugMsgFunc = fn
}

// debugMsg is a wrapper that handles nil checks
func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

// Options configures a calibration run
type Options struct {
	Pattern board.Pattern
	Workers int // Concurrent image decoders; 0 means GOMAXPROCS
}

// Calibrator recovers camera intrinsics from checkerboard photographs
type Calibrator struct {
	opts Options
	now  func() time.Time
}

// view is one photograph in which the full pattern was found
type view struct {
	path    string
	size    image.Point
	corners []gocv.Point2f
}

// NewCalibrator creates a calibrator
func NewCalibrator(opts Options) *Calibrator {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Calibrator{opts: opts, now: time.Now}
}

// Glob expands pattern into a sorted list of image paths
func Glob(pattern string) ([]string, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "bad image pattern %q", pattern)
	}
	sort.Strings(paths)
	return paths, nil
}

// Calibrate detects the pattern in every image and solves for the camera
// matrix and distortion coefficients. Images that cannot be read, do not
// show the whole pattern, or differ in size from the first usable view are
// skipped and listed in the result.
func (c *Calibrator) Calibrate(ctx context.Context, paths []string) (*Result, error) {
	if err := c.opts.Pattern.Validate(); err != nil {
		return nil, err
	}

	views, skipped, err := c.collectViews(ctx, paths)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return &Result{Skipped: skipped}, ErrNoViews
	}

	size := views[0].size
	var used []view
	for _, v := range views {
		if v.size != size {
			skipped = append(skipped, SkippedImage{
				Path:   v.path,
				Reason: fmt.Sprintf("size %dx%d differs from %dx%d", v.size.X, v.size.Y, size.X, size.Y),
			})
			continue
		}
		used = append(used, v)
	}

	debugMsg("CALIBRATION", fmt.Sprintf("Calibrating from %d views (%d skipped), image size %dx%d", len(used), len(skipped), size.X, size.Y))

	result, err := c.solve(used, size)
	if err != nil {
		return nil, err
	}
	result.Skipped = skipped
	return result, nil
}

// collectViews loads and detects images concurrently, preserving input order
func (c *Calibrator) collectViews(ctx context.Context, paths []string) ([]view, []SkippedImage, error) {
	found := make([]*view, len(paths))
	reasons := make([]string, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, reason := c.detectView(path)
			found[i] = v
			reasons[i] = reason
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, errors.Wrap(err, "calibration interrupted")
	}

	var views []view
	var skipped []SkippedImage
	for i, path := range paths {
		if found[i] == nil {
			skipped = append(skipped, SkippedImage{Path: path, Reason: reasons[i]})
			debugMsg("CALIBRATION", fmt.Sprintf("Skipping %s: %s", path, reasons[i]))
			continue
		}
		views = append(views, *found[i])
	}
	return views, skipped, nil
}

// detectView returns the refined corners of path, or a reason it is unusable
func (c *Calibrator) detectView(path string) (*view, string) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return nil, "unreadable image"
	}

	gray := board.Grayscale(img)
	defer gray.Close()

	// Managers hold per-call state, so each worker gets its own
	det, err := board.NewCalibrationManager(c.opts.Pattern).Detect(gray)
	if err != nil {
		return nil, err.Error()
	}

	return &view{
		path:    path,
		size:    image.Pt(img.Cols(), img.Rows()),
		corners: det.Corners,
	}, ""
}

// solve runs CalibrateCamera over views
func (c *Calibrator) solve(views []view, size image.Point) (*Result, error) {
	objectPoints := gocv.NewPoints3fVector()
	defer objectPoints.Close()
	imagePoints := gocv.NewPoints2fVector()
	defer imagePoints.Close()

	obj := c.opts.Pattern.ObjectPoints()
	for _, v := range views {
		ov := gocv.NewPoint3fVectorFromPoints(obj)
		objectPoints.Append(ov)
		ov.Close()

		iv := gocv.NewPoint2fVectorFromPoints(v.corners)
		imagePoints.Append(iv)
		iv.Close()
	}

	cameraMatrix := gocv.NewMat()
	defer cameraMatrix.Close()
	distCoeffs := gocv.NewMat()
	defer distCoeffs.Close()
	rvecs := gocv.NewMat()
	defer rvecs.Close()
	tvecs := gocv.NewMat()
	defer tvecs.Close()

	rms := gocv.CalibrateCamera(objectPoints, imagePoints, size, &cameraMatrix, &distCoeffs, &rvecs, &tvecs, gocv.CalibFlag(0))
	if cameraMatrix.Empty() {
		return nil, errors.New("calibrateCamera returned an empty camera matrix")
	}

	result := &Result{
		SessionID:      uuid.NewString(),
		CreatedAt:      c.now(),
		PatternColumns: c.opts.Pattern.Columns,
		PatternRows:    c.opts.Pattern.Rows,
		SquareSize:     c.opts.Pattern.SquareSize,
		ImageWidth:     size.X,
		ImageHeight:    size.Y,
		RMSError:       rms,
	}
	for r := 0; r < 3; r++ {
		for col := 0; col < 3; col++ {
			result.CameraMatrix[r][col] = cameraMatrix.GetDoubleAt(r, col)
		}
	}
	result.Distortion = flatten(distCoeffs)
	result.RotationVectors = vectors3(rvecs)
	result.TranslationVectors = vectors3(tvecs)
	for _, v := range views {
		result.Images = append(result.Images, v.path)
	}

	debugMsg("CALIBRATION", fmt.Sprintf("RMS reprojection error %.4f px over %d views", rms, len(views)))
	return result, nil
}

// flatten reads a single-row or single-column CV_64F Mat
func flatten(m gocv.Mat) []float64 {
	out := make([]float64, 0, m.Total())
	if m.Rows() == 1 {
		for i := 0; i < m.Cols(); i++ {
			out = append(out, m.GetDoubleAt(0, i))
		}
		return out
	}
	for i := 0; i < m.Rows(); i++ {
		out = append(out, m.GetDoubleAt(i, 0))
	}
	return out
}

// vectors3 reads an Nx1 CV_64FC3 Mat of per-view vectors
func vectors3(m gocv.Mat) [][3]float64 {
	out := make([][3]float64, 0, m.Rows())
	for i := 0; i < m.Rows(); i++ {
		if m.Channels() == 3 {
			v := m.GetVecdAt(i, 0)
			out = append(out, [3]float64{v[0], v[1], v[2]})
			continue
		}
		out = append(out, [3]float64{m.GetDoubleAt(i, 0), m.GetDoubleAt(i, 1), m.GetDoubleAt(i, 2)})
	}
	return out
}
