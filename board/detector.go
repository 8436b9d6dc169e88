package board

import (
	"fmt"
	"image"
	"time"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrNotFound is returned when no complete checkerboard is visible
var ErrNotFound = errors.New("checkerboard not found")

// Global debug function for board package
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

// Detection is one located checkerboard
type Detection struct {
	Pattern Pattern
	Corners []gocv.Point2f
}

// Outer returns the four outer corners in Pattern.OuterIndices order
func (d *Detection) Outer() [4]gocv.Point2f {
	var out [4]gocv.Point2f
	for i, idx := range d.Pattern.OuterIndices() {
		out[i] = d.Corners[idx]
	}
	return out
}

// Quad returns the outer corners as plane points
func (d *Detection) Quad() [4]r2.Point {
	var out [4]r2.Point
	for i, c := range d.Outer() {
		out[i] = r2.Point{X: float64(c.X), Y: float64(c.Y)}
	}
	return out
}

// Points returns all corners as plane points
func (d *Detection) Points() []r2.Point {
	pts := make([]r2.Point, len(d.Corners))
	for i, c := range d.Corners {
		pts[i] = r2.Point{X: float64(c.X), Y: float64(c.Y)}
	}
	return pts
}

// Detector finds a checkerboard in a single-channel image
type Detector interface {
	Detect(gray gocv.Mat) (*Detection, error)
	Info() DetectorInfo
}

// DetectorInfo describes a detector configuration
type DetectorInfo struct {
	Name     string
	Flags    gocv.CalibCBFlag
	SubPixel bool
}

// ChessboardDetector wraps FindChessboardCorners with optional sub-pixel refinement
type ChessboardDetector struct {
	name     string
	pattern  Pattern
	flags    gocv.CalibCBFlag
	subPixel bool
	window   image.Point
	criteria gocv.TermCriteria
}

// DefaultFlags matches OpenCV's own defaults for chessboard detection
const DefaultFlags = gocv.CalibCBAdaptiveThresh | gocv.CalibCBNormalizeImage

// NewChessboardDetector creates a detector for pattern
func NewChessboardDetector(name string, pattern Pattern, flags gocv.CalibCBFlag, subPixel bool) *ChessboardDetector {
	return &ChessboardDetector{
		name:     name,
		pattern:  pattern,
		flags:    flags,
		subPixel: subPixel,
		window:   image.Pt(11, 11),
		criteria: gocv.NewTermCriteria(gocv.Count+gocv.EPS, 30, 0.001),
	}
}

// Detect locates the pattern in gray
func (cd *ChessboardDetector) Detect(gray gocv.Mat) (*Detection, error) {
	if gray.Empty() {
		return nil, errors.New("empty image")
	}
	if gray.Channels() != 1 {
		return nil, fmt.Errorf("detector expects a single-channel image, got %d channels", gray.Channels())
	}

	corners := gocv.NewMat()
	defer corners.Close()

	if !gocv.FindChessboardCorners(gray, cd.pattern.Size(), &corners, cd.flags) {
		return nil, ErrNotFound
	}

	if cd.subPixel {
		gocv.CornerSubPix(gray, &corners, cd.window, image.Pt(-1, -1), cd.criteria)
	}

	pv := gocv.NewPoint2fVectorFromMat(corners)
	defer pv.Close()
	pts := pv.ToPoints()
	if len(pts) != cd.pattern.Count() {
		return nil, fmt.Errorf("expected %d corners, got %d", cd.pattern.Count(), len(pts))
	}

	return &Detection{Pattern: cd.pattern, Corners: pts}, nil
}

// Info describes the detector
func (cd *ChessboardDetector) Info() DetectorInfo {
	return DetectorInfo{Name: cd.name, Flags: cd.flags, SubPixel: cd.subPixel}
}

// Manager tries detectors in order and remembers which one last succeeded
type Manager struct {
	detectors []Detector
	lastUsed  string
	lastTime  time.Duration
}

// NewManager creates a manager over detectors, tried in the given order
func NewManager(detectors ...Detector) *Manager {
	return &Manager{detectors: detectors}
}

// NewLiveManager is the detector chain used by the capture loop: a fast
// check rejects frames without a board cheaply, the full pass runs otherwise.
func NewLiveManager(pattern Pattern, subPixel bool) *Manager {
	return NewManager(
		NewChessboardDetector("fast", pattern, DefaultFlags|gocv.CalibCBFastCheck, subPixel),
	)
}

// NewCalibrationManager is the detector chain for still photographs
func NewCalibrationManager(pattern Pattern) *Manager {
	return NewManager(
		NewChessboardDetector("default", pattern, DefaultFlags, true),
		NewChessboardDetector("filtered", pattern, DefaultFlags|gocv.CalibCBFilterQuads, true),
	)
}

// Detect runs each detector until one finds the board
func (m *Manager) Detect(gray gocv.Mat) (*Detection, error) {
	if len(m.detectors) == 0 {
		return nil, errors.New("no detectors configured")
	}

	start := time.Now()
	var lastErr error
	for _, d := range m.detectors {
		det, err := d.Detect(gray)
		if err == nil {
			m.lastUsed = d.Info().Name
			m.lastTime = time.Since(start)
			return det, nil
		}
		if !errors.Is(err, ErrNotFound) {
			debugMsg("BOARD", fmt.Sprintf("Detector %s failed: %v", d.Info().Name, err))
		}
		lastErr = err
	}
	m.lastTime = time.Since(start)
	return nil, lastErr
}

// LastUsed returns the name of the detector that last found the board
func (m *Manager) LastUsed() string {
	return m.lastUsed
}

// LastDuration returns how long the most recent Detect call took
func (m *Manager) LastDuration() time.Duration {
	return m.lastTime
}

// Grayscale converts a BGR frame to a new single-channel Mat. Single-channel
// input is cloned.
func Grayscale(frame gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if frame.Channels() == 1 {
		frame.CopyTo(&gray)
		return gray
	}
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	return gray
}
