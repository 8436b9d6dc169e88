package main

import (
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"planarar/board"
	"planarar/calibration"
	"planarar/capture"
	"planarar/homography"
	"planarar/overlay"
	"planarar/session"
	"planarar/smoothing"

	"github.com/golang/geo/r2"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// Display shows frames and reports key presses
type Display interface {
	Show(frame gocv.Mat)
	// WaitKey waits up to delay milliseconds and returns the key code or -1
	WaitKey(delay int) int
	Close() error
}

type windowDisplay struct {
	window *gocv.Window
}

func newWindowDisplay(name string) *windowDisplay {
	return &windowDisplay{window: gocv.NewWindow(name)}
}

func (w *windowDisplay) Show(frame gocv.Mat)   { w.window.IMShow(frame) }
func (w *windowDisplay) WaitKey(delay int) int { return w.window.WaitKey(delay) }
func (w *windowDisplay) Close() error          { return w.window.Close() }

// headlessDisplay shows nothing and plays back a fixed key sequence, then
// reports no key
type headlessDisplay struct {
	keys  []int
	shown int
}

func (h *headlessDisplay) Show(gocv.Mat) { h.shown++ }

func (h *headlessDisplay) WaitKey(int) int {
	if len(h.keys) == 0 {
		return -1
	}
	k := h.keys[0]
	h.keys = h.keys[1:]
	return k
}

func (h *headlessDisplay) Close() error { return nil }

// liveLoop is the capture, detect, composite and display cycle
type liveLoop struct {
	source      capture.Source
	display     Display
	detector    *board.Manager
	pattern     board.Pattern
	compositor  *overlay.Compositor
	undistorter *calibration.Undistorter
	smoother    *smoothing.CornerSmoother
	hud         *overlay.HUD
	controller  *session.Controller
	stats       *capture.Stats
	buffer      *capture.FrameBuffer
	recorder    *capture.Recorder

	solver        string
	recordPath    string
	recordFPS     float64
	snapshotDir   string
	statsInterval time.Duration
	maxFrames     int
	maxReadErrors int
	out           io.Writer
	now           func() time.Time
	unsubscribe   func()
}

// run loops until the user quits, ctx is cancelled, maxFrames frames
// have been shown or the source stops producing frames
func (l *liveLoop) run(ctx context.Context) error {
	frame := gocv.NewMat()
	defer frame.Close()
	corrected := gocv.NewMat()
	defer corrected.Close()

	frames := 0
	failedReads := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if l.maxFrames > 0 && frames >= l.maxFrames {
			return nil
		}

		readStart := time.Now()
		if !l.source.Read(&frame) {
			failedReads++
			if failedReads > l.maxReadErrors {
				debugMsg("CAPTURE", fmt.Sprintf("%s stopped producing frames", l.source.Name()))
				return nil
			}
		} else {
			failedReads = 0
		}
		l.stats.Observe(capture.StageRead, time.Since(readStart))

		view, ok := l.buffer.Process(frame)
		if !ok {
			view.Close()
			continue
		}
		recovered := view.Ptr() != frame.Ptr()

		img := view
		if l.undistorter != nil {
			if err := l.undistorter.Apply(view, &corrected); err == nil {
				img = corrected
			}
		}

		detected := false
		if l.controller.Processing() {
			detected = l.process(&img)
		}

		if l.hud != nil {
			l.hud.Draw(&img, overlay.Status{
				Processing: l.controller.Processing(),
				Detected:   detected,
				Solver:     l.solver,
				FPS:        l.stats.FPS(),
			})
		}

		displayStart := time.Now()
		l.display.Show(img)
		l.record(img)
		key := l.display.WaitKey(1)
		l.stats.Observe(capture.StageDisplay, time.Since(displayStart))

		quit := l.handleKey(key, img)
		if recovered {
			view.Close()
		}
		frames++
		l.stats.Frame(detected)
		if l.stats.Due(l.statsInterval) {
			debugMsg("STATS", l.stats.Report().String())
		}
		if quit {
			return nil
		}
	}
}

// process detects the board in img and composites the replacement image
// onto it. It reports whether a quad was composited.
func (l *liveLoop) process(img *gocv.Mat) bool {
	gray := board.Grayscale(*img)
	det, err := l.detector.Detect(gray)
	gray.Close()
	l.stats.Observe(capture.StageDetect, l.detector.LastDuration())

	var quad [4]r2.Point
	switch {
	case err == nil:
		quad = det.Quad()
		if l.smoother != nil {
			quad = l.smoother.Update(quad)
		}
	case l.smoother != nil:
		predicted, ok := l.smoother.Miss()
		if !ok {
			return false
		}
		quad = predicted
		det = nil
	default:
		return false
	}

	start := time.Now()
	err = l.compositor.CompositeFunc(img, func(size image.Point) (gocv.Mat, error) {
		return l.transform(size, det, quad)
	})
	if err != nil {
		debugMsg("OVERLAY", fmt.Sprintf("Composite failed: %v", err))
		return false
	}
	l.stats.Observe(capture.StageComposite, time.Since(start))

	if l.hud != nil && det != nil {
		l.hud.DrawCorners(img, det)
	}
	return true
}

// transform maps a replacement image of the given size onto the detected
// board. The dlt solver fits every inner corner when a fresh detection is
// available and falls back to the four outer corners otherwise.
func (l *liveLoop) transform(size image.Point, det *board.Detection, quad [4]r2.Point) (gocv.Mat, error) {
	if l.solver != "dlt" {
		var dst [4]gocv.Point2f
		for i, p := range quad {
			dst[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
		}
		return overlay.QuadTransform(size, dst), nil
	}

	var from, to []r2.Point
	if det != nil && l.smoother == nil {
		from = l.pattern.ReferencePoints(size.X, size.Y)
		to = det.Points()
	} else {
		for _, p := range overlay.QuadOf(size) {
			from = append(from, r2.Point{X: float64(p.X), Y: float64(p.Y)})
		}
		to = quad[:]
	}

	h, err := homography.Solve(from, to)
	if err != nil {
		return gocv.NewMat(), err
	}
	return overlay.MatrixToMat(h), nil
}

// record appends img to the recording, opening it at the first frame's size
func (l *liveLoop) record(img gocv.Mat) {
	if l.recordPath == "" {
		return
	}
	if l.recorder == nil {
		rec, err := capture.NewRecorder(l.recordPath, l.recordFPS, img.Cols(), img.Rows())
		if err != nil {
			debugMsg("RECORD", fmt.Sprintf("Recording disabled: %v", err))
			l.recordPath = ""
			return
		}
		l.recorder = rec
	}
	if err := l.recorder.Write(img); err != nil {
		debugMsg("RECORD", err.Error())
	}
}

// handleKey applies a key press and reports whether the loop should stop
func (l *liveLoop) handleKey(key int, img gocv.Mat) bool {
	switch l.controller.HandleKey(key) {
	case session.Quit:
		return true
	case session.Snapshot:
		path, err := capture.SaveSnapshot(img, l.snapshotDir, "planarar", l.now())
		if err != nil {
			debugMsg("SNAPSHOT", err.Error())
			return false
		}
		fmt.Fprintf(l.out, "📸 Saved %s\n", path)
		if l.hud != nil {
			l.hud.Log("Saved snapshot")
		}
	}
	return false
}

// Close releases everything the loop owns
func (l *liveLoop) Close() error {
	if l.unsubscribe != nil {
		l.unsubscribe()
	}
	var err error
	if l.recorder != nil {
		err = multierr.Append(err, l.recorder.Close())
	}
	if l.undistorter != nil {
		err = multierr.Append(err, l.undistorter.Close())
	}
	err = multierr.Append(err, l.buffer.Close())
	err = multierr.Append(err, l.compositor.Close())
	err = multierr.Append(err, l.display.Close())
	// Release the camera last
	err = multierr.Append(err, l.source.Close())
	return err
}
