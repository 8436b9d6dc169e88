package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"
	"time"

	"planarar/board"

	"gocv.io/x/gocv"
	"gopkg.in/go-playground/colors.v1"
)

// MessageRing keeps the most recent event lines for on-screen display
type MessageRing struct {
	lines    []string
	maxLines int
	index    int
	full     bool
	mutex    sync.RWMutex
	now      func() time.Time
}

// NewMessageRing creates a circular buffer holding maxLines lines
func NewMessageRing(maxLines int) *MessageRing {
	if maxLines < 1 {
		maxLines = 1
	}
	return &MessageRing{
		lines:    make([]string, maxLines),
		maxLines: maxLines,
		now:      time.Now,
	}
}

// Add stores a new line, overwriting the oldest when full
func (mr *MessageRing) Add(line string) {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()

	mr.lines[mr.index] = fmt.Sprintf("[%s] %s", mr.now().Format("15:04:05"), line)
	mr.index = (mr.index + 1) % mr.maxLines
	if mr.index == 0 {
		mr.full = true
	}
}

// Recent returns the stored lines, oldest first
func (mr *MessageRing) Recent() []string {
	mr.mutex.RLock()
	defer mr.mutex.RUnlock()

	var result []string
	if mr.full {
		for i := 0; i < mr.maxLines; i++ {
			result = append(result, mr.lines[(mr.index+i)%mr.maxLines])
		}
		return result
	}
	for i := 0; i < mr.index; i++ {
		result = append(result, mr.lines[i])
	}
	return result
}

// ParseColor converts "#rrggbb" or "rrggbb" into an opaque colour
func ParseColor(hex string) (color.RGBA, error) {
	hex = strings.TrimSpace(hex)
	if !strings.HasPrefix(hex, "#") {
		hex = "#" + hex
	}
	c, err := colors.ParseHEX(hex)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: %v", hex, err)
	}
	rgb := c.ToRGB()
	return color.RGBA{R: rgb.R, G: rgb.G, B: rgb.B, A: 255}, nil
}

// Status is the per-frame state shown by the HUD
type Status struct {
	Processing bool
	Detected   bool
	Solver     string
	FPS        float64
}

// String renders the status line
func (s Status) String() string {
	state := "OFF"
	if s.Processing {
		state = "ON"
	}
	seen := "no board"
	if s.Detected {
		seen = "board"
	}
	return fmt.Sprintf("AR %s | %s | %s | %.1f fps", state, seen, s.Solver, s.FPS)
}

// HUD draws status text, recent events and detected corners onto frames
type HUD struct {
	Messages    *MessageRing
	textColor   color.RGBA
	cornerColor color.RGBA
	showStatus  bool
	showCorners bool
}

// HUDOptions configures a HUD
type HUDOptions struct {
	ShowStatus  bool
	ShowCorners bool
	TextColor   string // hex
	CornerColor string // hex
	MaxMessages int
}

// NewHUD creates a HUD, parsing colours from opts
func NewHUD(opts HUDOptions) (*HUD, error) {
	text, err := ParseColor(opts.TextColor)
	if err != nil {
		return nil, err
	}
	corner, err := ParseColor(opts.CornerColor)
	if err != nil {
		return nil, err
	}
	return &HUD{
		Messages:    NewMessageRing(opts.MaxMessages),
		textColor:   text,
		cornerColor: corner,
		showStatus:  opts.ShowStatus,
		showCorners: opts.ShowCorners,
	}, nil
}

// Log records an event for display
func (h *HUD) Log(message string) {
	h.Messages.Add(message)
}

// Draw renders the status line and recent messages in the lower-left corner
func (h *HUD) Draw(frame *gocv.Mat, status Status) {
	if !h.showStatus || frame.Empty() {
		return
	}

	lines := append(h.Messages.Recent(), status.String())
	y := frame.Rows() - 10 - 22*(len(lines)-1)
	for _, line := range lines {
		// Dark outline keeps text readable on bright frames
		gocv.PutText(frame, line, image.Pt(10, y), gocv.FontHersheySimplex, 0.55, color.RGBA{0, 0, 0, 255}, 3)
		gocv.PutText(frame, line, image.Pt(10, y), gocv.FontHersheySimplex, 0.55, h.textColor, 1)
		y += 22
	}
}

// DrawCorners draws the detected corner grid and outlines the outer quad
func (h *HUD) DrawCorners(frame *gocv.Mat, det *board.Detection) {
	if !h.showCorners || det == nil || len(det.Corners) == 0 {
		return
	}

	pv := gocv.NewPoint2fVectorFromPoints(det.Corners)
	defer pv.Close()
	corners := gocv.NewMatFromPoint2fVector(pv, true)
	defer corners.Close()
	gocv.DrawChessboardCorners(frame, det.Pattern.Size(), corners, true)

	outer := det.Outer()
	for i := range outer {
		a, b := outer[i], outer[(i+1)%4]
		gocv.Line(frame,
			image.Pt(int(a.X+0.5), int(a.Y+0.5)),
			image.Pt(int(b.X+0.5), int(b.Y+0.5)),
			h.cornerColor, 2)
	}
}
