package capture

import (
	"sync"

	"gocv.io/x/gocv"
)

// DefaultMaxErrors is the number of consecutive bad reads tolerated before
// the last good frame is repeated
const DefaultMaxErrors = 5

// FrameBuffer remembers the last good frame and stands in with it once
// reads keep failing
type FrameBuffer struct {
	lastGoodFrame gocv.Mat
	errorCount    int
	maxErrors     int
	recovered     int
	mu            sync.Mutex
}

// NewFrameBuffer creates a new frame buffer
func NewFrameBuffer(maxErrors int) *FrameBuffer {
	if maxErrors < 1 {
		maxErrors = DefaultMaxErrors
	}
	return &FrameBuffer{lastGoodFrame: gocv.NewMat(), maxErrors: maxErrors}
}

// isValidFrame checks the frame has pixels
func isValidFrame(frame gocv.Mat) bool {
	if frame.Ptr() == nil {
		return false
	}
	return frame.Rows() > 0 && frame.Cols() > 0 && frame.Channels() > 0
}

// Process records the outcome of a read. A valid frame is returned as is.
// After maxErrors consecutive invalid frames a clone of the last good
// frame is returned instead, which the caller must close. The second
// result is false when there is nothing to show.
func (fb *FrameBuffer) Process(frame gocv.Mat) (gocv.Mat, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if !isValidFrame(frame) {
		fb.errorCount++
		if fb.errorCount >= fb.maxErrors && isValidFrame(fb.lastGoodFrame) {
			fb.recovered++
			if fb.errorCount == fb.maxErrors {
				debugMsg("RECOVERY", "Using last good frame due to invalid capture")
			}
			return fb.lastGoodFrame.Clone(), true
		}
		return gocv.NewMat(), false
	}

	frame.CopyTo(&fb.lastGoodFrame)
	fb.errorCount = 0
	return frame, true
}

// ErrorCount returns the number of consecutive invalid frames seen
func (fb *FrameBuffer) ErrorCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.errorCount
}

// Recovered returns how many times the last good frame was substituted
func (fb *FrameBuffer) Recovered() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.recovered
}

// MaxErrors returns the consecutive invalid frames tolerated before the
// last good frame stands in
func (fb *FrameBuffer) MaxErrors() int {
	return fb.maxErrors
}

// Close releases resources
func (fb *FrameBuffer) Close() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.lastGoodFrame.Close()
}
