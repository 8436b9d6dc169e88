package calibration

import (
	"bytes"
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"planarar/board"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func fixtureResult() *Result {
	return &Result{
		SessionID:      "5b3e2b9c-0000-4000-8000-000000000001",
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		PatternColumns: 9,
		PatternRows:    6,
		SquareSize:     1,
		ImageWidth:     640,
		ImageHeight:    480,
		CameraMatrix:   [3][3]float64{{800, 0, 320}, {0, 810.5, 240}, {0, 0, 1}},
		Distortion:     []float64{-0.1, 0.05, 0.001, -0.002, 0},
		RotationVectors: [][3]float64{
			{0.1, -0.2, 0.03},
			{0, 0, 1.5},
		},
		TranslationVectors: [][3]float64{
			{-4, -3, 20},
			{1.25, 2.5, 30},
		},
		RMSError: 0.25,
		Images:   []string{"a.jpg", "b.jpg"},
		Skipped:  []SkippedImage{{Path: "c.jpg", Reason: "checkerboard not found"}},
	}
}

func TestReportGolden(t *testing.T) {
	var buf bytes.Buffer
	fixtureResult().Report(&buf)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "report", buf.Bytes())
}

func TestProfileSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles", "camera.json")
	want := fixtureResult()
	require.NoError(t, want.Save(path))

	got, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, want.CameraMatrix, got.CameraMatrix)
	assert.Equal(t, want.Distortion, got.Distortion)
	assert.Equal(t, image.Pt(640, 480), got.ImageSize())
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))

	fx, fy := got.FocalLength()
	assert.Equal(t, 800.0, fx)
	assert.Equal(t, 810.5, fy)
}

func TestLoadProfileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadProfile(filepath.Join(dir, "missing.json"))
	assert.ErrorContains(t, err, "not found")

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("{not json"), 0644))
	_, err = LoadProfile(garbage)
	assert.ErrorContains(t, err, "parse")

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, (&Result{}).Save(empty))
	_, err = LoadProfile(empty)
	assert.ErrorContains(t, err, "invalid")
}

// writeView renders the pattern, warps it onto a canvas so the board's
// outer image corners land on quad, and writes it to path
func writeView(t *testing.T, p board.Pattern, path string, canvas image.Point, quad []gocv.Point2f) {
	t.Helper()
	flat := board.Render(p, 30, 40)
	defer flat.Close()

	w, h := float32(flat.Cols()), float32(flat.Rows())
	src := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}})
	defer src.Close()
	dst := gocv.NewPoint2fVectorFromPoints(quad)
	defer dst.Close()

	m := gocv.GetPerspectiveTransform2f(src, dst)
	defer m.Close()

	warped := gocv.NewMat()
	defer warped.Close()
	gocv.WarpPerspective(flat, &warped, m, canvas)
	require.True(t, gocv.IMWrite(path, warped))
}

func TestCalibrateSyntheticViews(t *testing.T) {
	dir := t.TempDir()
	p := board.DefaultPattern()
	canvas := image.Pt(640, 480)

	quads := [][]gocv.Point2f{
		{{X: 100, Y: 80}, {X: 520, Y: 60}, {X: 540, Y: 420}, {X: 90, Y: 400}},
		{{X: 130, Y: 50}, {X: 500, Y: 100}, {X: 480, Y: 400}, {X: 120, Y: 440}},
		{{X: 80, Y: 120}, {X: 560, Y: 90}, {X: 500, Y: 380}, {X: 140, Y: 430}},
		{{X: 150, Y: 70}, {X: 540, Y: 70}, {X: 580, Y: 430}, {X: 110, Y: 410}},
	}
	for i, q := range quads {
		writeView(t, p, filepath.Join(dir, "view_"+string(rune('0'+i))+".png"), canvas, q)
	}

	// A view at another resolution, a blank frame and a corrupt file are skipped
	writeView(t, p, filepath.Join(dir, "z_small.png"), image.Pt(400, 300),
		[]gocv.Point2f{{X: 20, Y: 20}, {X: 380, Y: 20}, {X: 380, Y: 280}, {X: 20, Y: 280}})

	blank := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC1)
	blank.SetTo(gocv.NewScalar(255, 255, 255, 0))
	require.True(t, gocv.IMWrite(filepath.Join(dir, "blank.png"), blank))
	blank.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.png"), []byte("not an image"), 0644))

	paths, err := Glob(filepath.Join(dir, "*.png"))
	require.NoError(t, err)
	require.Len(t, paths, 7)

	result, err := NewCalibrator(Options{Pattern: p, Workers: 2}).Calibrate(context.Background(), paths)
	require.NoError(t, err)

	assert.Len(t, result.Images, 4)
	assert.Len(t, result.Skipped, 3)
	assert.Len(t, result.RotationVectors, 4)
	assert.Len(t, result.TranslationVectors, 4)
	assert.Equal(t, 640, result.ImageWidth)
	assert.NotEmpty(t, result.SessionID)
	assert.GreaterOrEqual(t, len(result.Distortion), 5)

	fx, fy := result.FocalLength()
	assert.Greater(t, fx, 0.0)
	assert.Greater(t, fy, 0.0)
	assert.Equal(t, 1.0, result.CameraMatrix[2][2])

	reasons := map[string]string{}
	for _, s := range result.Skipped {
		reasons[filepath.Base(s.Path)] = s.Reason
	}
	assert.Equal(t, "unreadable image", reasons["corrupt.png"])
	assert.Equal(t, board.ErrNotFound.Error(), reasons["blank.png"])
	assert.Contains(t, reasons["z_small.png"], "differs")
}

func TestCalibrateNoViews(t *testing.T) {
	_, err := NewCalibrator(Options{Pattern: board.DefaultPattern()}).Calibrate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoViews)
}

func TestCalibrateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCalibrator(Options{Pattern: board.DefaultPattern()}).Calibrate(ctx, []string{"a.png"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUndistortFileWithoutDistortionKeepsSize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.png")
	dst := filepath.Join(dir, "Calibresult.jpg")

	img := board.Render(board.DefaultPattern(), 20, 20)
	require.True(t, gocv.IMWrite(src, img))
	size := image.Pt(img.Cols(), img.Rows())
	img.Close()

	r := &Result{
		ImageWidth:   size.X,
		ImageHeight:  size.Y,
		CameraMatrix: [3][3]float64{{500, 0, float64(size.X) / 2}, {0, 500, float64(size.Y) / 2}, {0, 0, 1}},
		Distortion:   []float64{0, 0, 0, 0, 0},
	}
	require.NoError(t, UndistortFile(r, src, dst))

	out := gocv.IMRead(dst, gocv.IMReadColor)
	defer out.Close()
	require.False(t, out.Empty())
	assert.InDelta(t, size.X, out.Cols(), 2)
	assert.InDelta(t, size.Y, out.Rows(), 2)
}
