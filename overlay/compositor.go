package overlay

import (
	"fmt"
	"image"
	"sync"

	"planarar/homography"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// Global debug function for overlay package
var debugMsgFunc func(component, message string)

// SetDebugFunction allows main package to provide the debug logger
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

// debugMsg is a wrapper that handles nil checks
func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

// DefaultMaskThreshold keys out warped pixels whose gray level is at or
// below this value, which removes the black border the warp leaves behind
const DefaultMaskThreshold = 10

// Compositor warps a replacement image onto a quadrilateral of the live
// frame. Warped pixels darker than the mask threshold let the frame show
// through; all others replace it.
type Compositor struct {
	mu            sync.Mutex
	replacement   gocv.Mat
	maskThreshold float32
	kernel        gocv.Mat

	// Scratch buffers reused between frames
	warped gocv.Mat
	gray   gocv.Mat
	mask   gocv.Mat
	clean  gocv.Mat
	fg     gocv.Mat
}

// NewCompositor takes ownership of replacement
func NewCompositor(replacement gocv.Mat, maskThreshold float32) (*Compositor, error) {
	if replacement.Empty() {
		return nil, errors.New("replacement image is empty")
	}
	if replacement.Channels() != 3 {
		return nil, fmt.Errorf("replacement image must be 3-channel BGR, got %d channels", replacement.Channels())
	}
	return &Compositor{
		replacement:   replacement,
		maskThreshold: maskThreshold,
		kernel:        gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
		warped:        gocv.NewMat(),
		gray:          gocv.NewMat(),
		mask:          gocv.NewMat(),
		clean:         gocv.NewMat(),
		fg:            gocv.NewMat(),
	}, nil
}

// LoadCompositor reads the replacement image from path
func LoadCompositor(path string, maskThreshold float32) (*Compositor, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return nil, fmt.Errorf("could not read replacement image %s", path)
	}
	c, err := NewCompositor(img, maskThreshold)
	if err != nil {
		img.Close()
		return nil, err
	}
	debugMsg("OVERLAY", fmt.Sprintf("Loaded replacement image %s (%dx%d)", path, img.Cols(), img.Rows()))
	return c, nil
}

// Reload swaps in a new replacement image read from path. The previous
// image is kept if the new one cannot be read.
func (c *Compositor) Reload(path string) error {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return fmt.Errorf("could not read replacement image %s", path)
	}

	c.mu.Lock()
	old := c.replacement
	c.replacement = img
	c.mu.Unlock()

	old.Close()
	debugMsg("OVERLAY", fmt.Sprintf("Reloaded replacement image %s (%dx%d)", path, img.Cols(), img.Rows()))
	return nil
}

// Size returns the replacement image size
func (c *Compositor) Size() image.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return image.Pt(c.replacement.Cols(), c.replacement.Rows())
}

// SourceQuad returns the replacement image corners in the same order as
// board.Pattern.OuterIndices: (0,0), (cols,0), (cols,rows), (0,rows)
func (c *Compositor) SourceQuad() [4]gocv.Point2f {
	return QuadOf(c.Size())
}

// QuadOf returns the corners of an image of the given size in
// board.Pattern.OuterIndices order
func QuadOf(size image.Point) [4]gocv.Point2f {
	w, h := float32(size.X), float32(size.Y)
	return [4]gocv.Point2f{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}}
}

// QuadTransform maps the corners of an image of the given size onto dst.
// The returned Mat is owned by the caller.
func QuadTransform(size image.Point, dst [4]gocv.Point2f) gocv.Mat {
	srcQuad := QuadOf(size)
	src := gocv.NewPoint2fVectorFromPoints(srcQuad[:])
	defer src.Close()
	dv := gocv.NewPoint2fVectorFromPoints(dst[:])
	defer dv.Close()
	return gocv.GetPerspectiveTransform2f(src, dv)
}

// TransformFunc builds the 3x3 transform for a replacement image of the
// given size. The returned Mat is closed by the caller of the func.
type TransformFunc func(size image.Point) (gocv.Mat, error)

// Composite warps the replacement image through m to the size of frame
// and blends it into frame in place
func (c *Compositor) Composite(frame *gocv.Mat, m gocv.Mat) error {
	if err := checkFrame(*frame); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.composite(frame, m)
}

// CompositeFunc builds the transform and composites while holding the
// replacement image, so a concurrent Reload cannot change its size in
// between
func (c *Compositor) CompositeFunc(frame *gocv.Mat, build TransformFunc) error {
	if err := checkFrame(*frame); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := build(image.Pt(c.replacement.Cols(), c.replacement.Rows()))
	if err != nil {
		m.Close()
		return err
	}
	defer m.Close()
	return c.composite(frame, m)
}

// CompositeQuad composites using the four-point perspective transform onto dst
func (c *Compositor) CompositeQuad(frame *gocv.Mat, dst [4]gocv.Point2f) error {
	return c.CompositeFunc(frame, func(size image.Point) (gocv.Mat, error) {
		return QuadTransform(size, dst), nil
	})
}

func checkFrame(frame gocv.Mat) error {
	if frame.Empty() {
		return errors.New("cannot composite onto an empty frame")
	}
	return nil
}

func (c *Compositor) composite(frame *gocv.Mat, m gocv.Mat) error {
	if m.Rows() != 3 || m.Cols() != 3 {
		return fmt.Errorf("transform must be 3x3, got %dx%d", m.Rows(), m.Cols())
	}
	if frame.Channels() != c.replacement.Channels() {
		return fmt.Errorf("frame has %d channels, replacement has %d", frame.Channels(), c.replacement.Channels())
	}

	gocv.WarpPerspective(c.replacement, &c.warped, m, image.Pt(frame.Cols(), frame.Rows()))
	gocv.CvtColor(c.warped, &c.gray, gocv.ColorBGRToGray)

	// mask is set where the frame must show through
	gocv.Threshold(c.gray, &c.mask, c.maskThreshold, 255, gocv.ThresholdBinaryInv)

	// Erode and dilate remove speckle noise from the mask
	gocv.Erode(c.mask, &c.clean, c.kernel)
	gocv.Dilate(c.clean, &c.mask, c.kernel)

	gocv.BitwiseNot(c.mask, &c.fg)
	c.warped.CopyToWithMask(frame, c.fg)
	return nil
}

// Close releases all Mats held by the compositor
func (c *Compositor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for _, m := range []*gocv.Mat{&c.replacement, &c.kernel, &c.warped, &c.gray, &c.mask, &c.clean, &c.fg} {
		err = multierr.Append(err, m.Close())
	}
	return err
}

// MatrixToMat converts a homography into a 3x3 CV_64F Mat owned by the caller
func MatrixToMat(h homography.Matrix) gocv.Mat {
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for r := 0; r < 3; r++ {
		for col := 0; col < 3; col++ {
			m.SetDoubleAt(r, col, h[r][col])
		}
	}
	return m
}
