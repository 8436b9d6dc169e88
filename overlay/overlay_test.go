package overlay

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"planarar/board"
	"planarar/homography"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gocv.io/x/gocv"
)

var (
	blue = gocv.NewScalar(255, 0, 0, 0)
	red  = gocv.NewScalar(0, 0, 255, 0)
)

func solid(rows, cols int, s gocv.Scalar) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(s, rows, cols, gocv.MatTypeCV8UC3)
}

func pixel(m gocv.Mat, x, y int) [3]uint8 {
	return [3]uint8{m.GetUCharAt(y, x*3), m.GetUCharAt(y, x*3+1), m.GetUCharAt(y, x*3+2)}
}

var centreQuad = [4]gocv.Point2f{{X: 50, Y: 50}, {X: 150, Y: 50}, {X: 150, Y: 150}, {X: 50, Y: 150}}

func TestCompositeQuadReplacesInterior(t *testing.T) {
	c, err := NewCompositor(solid(100, 100, red), DefaultMaskThreshold)
	require.NoError(t, err)
	defer c.Close()

	frame := solid(200, 200, blue)
	defer frame.Close()

	require.NoError(t, c.CompositeQuad(&frame, centreQuad))

	assert.Equal(t, [3]uint8{0, 0, 255}, pixel(frame, 100, 100))
	assert.Equal(t, [3]uint8{0, 0, 255}, pixel(frame, 60, 140))
	assert.Equal(t, [3]uint8{255, 0, 0}, pixel(frame, 10, 10))
	assert.Equal(t, [3]uint8{255, 0, 0}, pixel(frame, 190, 100))
}

func TestCompositeKeysOutBlackPixels(t *testing.T) {
	img := solid(100, 100, red)
	gocv.Rectangle(&img, image.Rect(0, 0, 50, 100), color.RGBA{0, 0, 0, 255}, -1)

	c, err := NewCompositor(img, DefaultMaskThreshold)
	require.NoError(t, err)
	defer c.Close()

	frame := solid(200, 200, blue)
	defer frame.Close()

	require.NoError(t, c.CompositeQuad(&frame, centreQuad))

	// Left half of the replacement is black, so the frame shows through there
	assert.Equal(t, [3]uint8{255, 0, 0}, pixel(frame, 70, 100))
	assert.Equal(t, [3]uint8{0, 0, 255}, pixel(frame, 130, 100))
}

func TestCompositeWithHomographyMatrix(t *testing.T) {
	c, err := NewCompositor(solid(100, 100, red), DefaultMaskThreshold)
	require.NoError(t, err)
	defer c.Close()

	src := c.SourceQuad()
	from := make([]r2.Point, 0, 4)
	to := make([]r2.Point, 0, 4)
	for i := range src {
		from = append(from, r2.Point{X: float64(src[i].X), Y: float64(src[i].Y)})
		to = append(to, r2.Point{X: float64(centreQuad[i].X), Y: float64(centreQuad[i].Y)})
	}
	h, err := homography.Solve(from, to)
	require.NoError(t, err)

	m := MatrixToMat(h)
	defer m.Close()
	assert.InDelta(t, 1.0, m.GetDoubleAt(2, 2), 1e-9)

	frame := solid(200, 200, blue)
	defer frame.Close()
	require.NoError(t, c.Composite(&frame, m))

	assert.Equal(t, [3]uint8{0, 0, 255}, pixel(frame, 100, 100))
	assert.Equal(t, [3]uint8{255, 0, 0}, pixel(frame, 20, 20))
}

func TestCompositeRejectsBadInput(t *testing.T) {
	c, err := NewCompositor(solid(10, 10, red), DefaultMaskThreshold)
	require.NoError(t, err)
	defer c.Close()

	empty := gocv.NewMat()
	defer empty.Close()
	id := MatrixToMat(homography.Identity())
	defer id.Close()
	assert.Error(t, c.Composite(&empty, id))

	frame := solid(20, 20, blue)
	defer frame.Close()
	bad := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer bad.Close()
	assert.Error(t, c.Composite(&frame, bad))

	gray := gocv.NewMatWithSize(20, 20, gocv.MatTypeCV8UC1)
	defer gray.Close()
	assert.Error(t, c.Composite(&gray, id))
}

func TestNewCompositorRejectsGray(t *testing.T) {
	gray := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC1)
	defer gray.Close()
	_, err := NewCompositor(gray, DefaultMaskThreshold)
	assert.Error(t, err)

	_, err = NewCompositor(gocv.NewMat(), DefaultMaskThreshold)
	assert.Error(t, err)
}

func TestLoadAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "replacement.png")

	small := solid(40, 60, red)
	require.True(t, gocv.IMWrite(path, small))
	small.Close()

	c, err := LoadCompositor(path, DefaultMaskThreshold)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, image.Pt(60, 40), c.Size())
	assert.Equal(t, gocv.Point2f{X: 60, Y: 40}, c.SourceQuad()[2])

	big := solid(80, 120, blue)
	require.True(t, gocv.IMWrite(path, big))
	big.Close()

	require.NoError(t, c.Reload(path))
	assert.Equal(t, image.Pt(120, 80), c.Size())

	// A failed reload keeps the current image
	assert.Error(t, c.Reload(filepath.Join(dir, "missing.png")))
	assert.Equal(t, image.Pt(120, 80), c.Size())

	_, err = LoadCompositor(filepath.Join(dir, "missing.png"), DefaultMaskThreshold)
	assert.Error(t, err)
}

func TestMessageRingWrapsAround(t *testing.T) {
	ring := NewMessageRing(3)
	ring.now = func() time.Time { return time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC) }

	assert.Empty(t, ring.Recent())

	ring.Add("one")
	ring.Add("two")
	assert.Equal(t, []string{"[12:30:00] one", "[12:30:00] two"}, ring.Recent())

	ring.Add("three")
	ring.Add("four")
	assert.Equal(t, []string{"[12:30:00] two", "[12:30:00] three", "[12:30:00] four"}, ring.Recent())
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#00ff80")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0, G: 255, B: 128, A: 255}, c)

	c, err = ParseColor("ff0000")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, c)

	_, err = ParseColor("#zzzzzz")
	assert.Error(t, err)
}

func TestStatusString(t *testing.T) {
	s := Status{Processing: true, Detected: true, Solver: "perspective", FPS: 29.94}
	assert.Equal(t, "AR ON | board | perspective | 29.9 fps", s.String())

	s = Status{Solver: "dlt"}
	assert.Equal(t, "AR OFF | no board | dlt | 0.0 fps", s.String())
}

func TestHUDDrawLeavesEmptyFrameAlone(t *testing.T) {
	hud, err := NewHUD(HUDOptions{ShowStatus: true, ShowCorners: true, TextColor: "#ffffff", CornerColor: "#00ff00", MaxMessages: 2})
	require.NoError(t, err)

	empty := gocv.NewMat()
	defer empty.Close()
	hud.Draw(&empty, Status{})
	assert.True(t, empty.Empty())

	frame := solid(120, 320, gocv.NewScalar(0, 0, 0, 0))
	defer frame.Close()
	hud.Log("Activated image processing")
	hud.Draw(&frame, Status{Processing: true})
	assert.Len(t, hud.Messages.Recent(), 1)

	// Text is drawn near the bottom-left corner
	bottom := frame.Region(image.Rect(0, 60, 320, 120))
	defer bottom.Close()
	assert.Greater(t, gocv.CountNonZero(grayOf(t, bottom)), 0)

	_, err = NewHUD(HUDOptions{TextColor: "nope", CornerColor: "#000000"})
	assert.Error(t, err)
}

func grayOf(t *testing.T, m gocv.Mat) gocv.Mat {
	t.Helper()
	g := gocv.NewMat()
	gocv.CvtColor(m, &g, gocv.ColorBGRToGray)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	path := filepath.Join(dir, "replacement.png")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	changed := make(chan string, 4)
	w, err := NewWatcher(path, 20*time.Millisecond, func(p string) error {
		changed <- p
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	// Unrelated files in the same directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.png"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0644))

	select {
	case got := <-changed:
		abs, _ := filepath.Abs(path)
		assert.Equal(t, abs, got)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the change")
	}

	require.Eventually(t, func() bool { return w.Reloads() >= 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, w.Stop())
}

func TestWatcherStopWithoutStart(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w, err := NewWatcher(filepath.Join(t.TempDir(), "x.png"), time.Millisecond, func(string) error { return nil })
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
}

func TestCompositeFuncBuildsForCurrentImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "replacement.png")
	small := solid(40, 60, red)
	require.True(t, gocv.IMWrite(path, small))
	small.Close()

	c, err := LoadCompositor(path, DefaultMaskThreshold)
	require.NoError(t, err)
	defer c.Close()

	big := solid(80, 120, blue)
	require.True(t, gocv.IMWrite(path, big))
	big.Close()
	require.NoError(t, c.Reload(path))

	frame := solid(200, 200, red)
	defer frame.Close()

	var seen image.Point
	require.NoError(t, c.CompositeFunc(&frame, func(size image.Point) (gocv.Mat, error) {
		seen = size
		return QuadTransform(size, centreQuad), nil
	}))
	assert.Equal(t, image.Pt(120, 80), seen)
	assert.Equal(t, [3]uint8{255, 0, 0}, pixel(frame, 100, 100))
	assert.Equal(t, [3]uint8{0, 0, 255}, pixel(frame, 10, 10))

	boom := assert.AnError
	assert.ErrorIs(t, c.CompositeFunc(&frame, func(image.Point) (gocv.Mat, error) {
		return gocv.NewMat(), boom
	}), boom)
}

func TestHUDDrawCornersGrid(t *testing.T) {
	pattern := board.DefaultPattern()
	det := &board.Detection{Pattern: pattern}
	for y := 0; y < pattern.Rows; y++ {
		for x := 0; x < pattern.Columns; x++ {
			det.Corners = append(det.Corners, gocv.Point2f{X: float32(70 + 30*x), Y: float32(70 + 30*y)})
		}
	}

	hud, err := NewHUD(HUDOptions{ShowCorners: true, TextColor: "#ffffff", CornerColor: "#00ff00", MaxMessages: 1})
	require.NoError(t, err)

	white := gocv.NewScalar(255, 255, 255, 0)
	frame := solid(290, 380, white)
	defer frame.Close()
	hud.DrawCorners(&frame, det)

	// Every inner corner is marked
	assert.NotEqual(t, [3]uint8{255, 255, 255}, pixel(frame, 160, 130))
	// The outer quad is outlined in the corner colour
	assert.Equal(t, [3]uint8{0, 255, 0}, pixel(frame, 175, 70))
	// Away from the grid nothing changes
	assert.Equal(t, [3]uint8{255, 255, 255}, pixel(frame, 10, 10))

	hidden, err := NewHUD(HUDOptions{TextColor: "#ffffff", CornerColor: "#00ff00", MaxMessages: 1})
	require.NoError(t, err)
	plain := solid(290, 380, white)
	defer plain.Close()
	hidden.DrawCorners(&plain, det)
	assert.Equal(t, [3]uint8{255, 255, 255}, pixel(plain, 160, 130))
}
