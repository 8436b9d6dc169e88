// Package smoothing stabilises the detected board quad between frames.
package smoothing

import (
	"fmt"
	"time"

	"github.com/golang/geo/r2"
)

// Global debug function for smoothing package
var debugMsgFunc func(component, message string)

// SetDebugFunction allows main package to provide the debug logger
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

// Options configures a CornerSmoother
type Options struct {
	ProcessNoise     float64
	MeasurementNoise float64
	// MaxMissed is how many frames without a detection are bridged with a
	// prediction before the filters reset
	MaxMissed int
}

// DefaultOptions returns settings that damp jitter without visible lag at 30 fps
func DefaultOptions() Options {
	return Options{ProcessNoise: 5000, MeasurementNoise: 4, MaxMissed: 5}
}

// CornerSmoother runs one Kalman filter per outer corner
type CornerSmoother struct {
	filters  [4]*KalmanFilter
	opts     Options
	missed   int
	lastSeen time.Time
	now      func() time.Time
}

// NewCornerSmoother creates a smoother for a four-corner quad
func NewCornerSmoother(opts Options) *CornerSmoother {
	s := &CornerSmoother{opts: opts, now: time.Now}
	for i := range s.filters {
		s.filters[i] = NewKalmanFilter(opts.ProcessNoise, opts.MeasurementNoise)
	}
	return s
}

// setClock replaces the time source of the smoother and all its filters
func (s *CornerSmoother) setClock(now func() time.Time) {
	s.now = now
	for _, f := range s.filters {
		f.now = now
	}
}

// Update filters a freshly detected quad
func (s *CornerSmoother) Update(quad [4]r2.Point) [4]r2.Point {
	var out [4]r2.Point
	for i, p := range quad {
		out[i] = s.filters[i].Update(p)
	}
	s.missed = 0
	s.lastSeen = s.now()
	return out
}

// Miss records a frame without a detection. It returns a predicted quad and
// true while the gap is shorter than MaxMissed, otherwise it resets and
// returns false.
func (s *CornerSmoother) Miss() ([4]r2.Point, bool) {
	var out [4]r2.Point
	if !s.filters[0].Initialized() {
		return out, false
	}

	s.missed++
	if s.missed > s.opts.MaxMissed {
		debugMsg("SMOOTH", fmt.Sprintf("Board lost for %d frames, resetting filters", s.missed))
		s.Reset()
		return out, false
	}

	dt := s.now().Sub(s.lastSeen).Seconds()
	for i, f := range s.filters {
		out[i] = f.Predict(dt)
	}
	return out, true
}

// Missed returns the number of consecutive frames without a detection
func (s *CornerSmoother) Missed() int {
	return s.missed
}

// Reset drops all filter state
func (s *CornerSmoother) Reset() {
	for _, f := range s.filters {
		f.Reset()
	}
	s.missed = 0
}
