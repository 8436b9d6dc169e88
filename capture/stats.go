package capture

import (
	"fmt"
	"sync"
	"time"
)

// Stage names a timed part of the per-frame pipeline
type Stage int

const (
	StageRead Stage = iota
	StageDetect
	StageComposite
	StageDisplay
	numStages
)

func (s Stage) String() string {
	switch s {
	case StageRead:
		return "read"
	case StageDetect:
		return "detect"
	case StageComposite:
		return "composite"
	case StageDisplay:
		return "display"
	default:
		return "unknown"
	}
}

// Stats tracks frame rate and average stage timings
type Stats struct {
	mu             sync.Mutex
	frameCount     int64
	detectedCount  int64
	lastReportTime time.Time
	lastFPSUpdate  time.Time
	fpsCount       int64
	fps            float64

	stageTotal [numStages]time.Duration
	stageCount [numStages]int64

	now func() time.Time
}

// Snapshot is one reporting window of Stats
type Snapshot struct {
	FPS        float64
	Frames     int64
	DetectRate float64
	Average    map[Stage]time.Duration
}

// String renders the window on one line
func (s Snapshot) String() string {
	return fmt.Sprintf("%.1f fps, %d frames, board in %.0f%%, read %v, detect %v, composite %v, display %v",
		s.FPS, s.Frames, s.DetectRate*100,
		s.Average[StageRead], s.Average[StageDetect], s.Average[StageComposite], s.Average[StageDisplay])
}

// NewStats creates a new statistics tracker
func NewStats() *Stats {
	return newStatsWithClock(time.Now)
}

func newStatsWithClock(now func() time.Time) *Stats {
	t := now()
	return &Stats{lastReportTime: t, lastFPSUpdate: t, now: now}
}

// Observe adds one timing for stage
func (ps *Stats) Observe(stage Stage, d time.Duration) {
	if stage < 0 || stage >= numStages {
		return
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.stageTotal[stage] += d
	ps.stageCount[stage]++
}

// Frame counts one displayed frame and returns the current FPS estimate,
// recalculated over one-second windows
func (ps *Stats) Frame(detected bool) float64 {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.now()
	ps.frameCount++
	ps.fpsCount++
	if detected {
		ps.detectedCount++
	}

	elapsed := now.Sub(ps.lastFPSUpdate)
	if elapsed >= time.Second {
		ps.fps = float64(ps.fpsCount) / elapsed.Seconds()
		ps.fpsCount = 0
		ps.lastFPSUpdate = now
	}
	return ps.fps
}

// FPS returns the last computed frame rate
func (ps *Stats) FPS() float64 {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.fps
}

// Report returns the stats gathered since the previous report and resets counters
func (ps *Stats) Report() Snapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.now()
	window := now.Sub(ps.lastReportTime).Seconds()
	if window <= 0 {
		window = 1.0 // Prevent division by zero
	}

	snap := Snapshot{
		FPS:     float64(ps.frameCount) / window,
		Frames:  ps.frameCount,
		Average: make(map[Stage]time.Duration, numStages),
	}
	if ps.frameCount > 0 {
		snap.DetectRate = float64(ps.detectedCount) / float64(ps.frameCount)
	}
	for s := Stage(0); s < numStages; s++ {
		if ps.stageCount[s] > 0 {
			snap.Average[s] = ps.stageTotal[s] / time.Duration(ps.stageCount[s])
		}
	}

	ps.frameCount = 0
	ps.detectedCount = 0
	ps.stageTotal = [numStages]time.Duration{}
	ps.stageCount = [numStages]int64{}
	ps.lastReportTime = now
	return snap
}

// Due reports whether interval has passed since the last report
func (ps *Stats) Due(interval time.Duration) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return interval > 0 && ps.now().Sub(ps.lastReportTime) >= interval
}
