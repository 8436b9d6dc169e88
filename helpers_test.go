package main

import (
	"bytes"
	"image"
	"path/filepath"
	"testing"

	"planarar/board"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Rendered board geometry used across tests: inner corner (x, y) sits at
// (40+(x+1)*30, 40+(y+1)*30)
const (
	testSquare = 30
	testMargin = 40
)

// executeCommand runs the CLI with args and a silent logger, returning stdout
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(&RootOptions{Logger: newDebugLoggerWith(zap.NewNop())})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// writeBoard writes the default rendered board to path and returns its size
func writeBoard(t *testing.T, path string) image.Point {
	t.Helper()
	img := board.Render(board.DefaultPattern(), testSquare, testMargin)
	defer img.Close()
	require.True(t, gocv.IMWrite(path, img))
	return image.Pt(img.Cols(), img.Rows())
}

// writeSolid writes a rows x cols BGR image filled with s
func writeSolid(t *testing.T, path string, rows, cols int, s gocv.Scalar) {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(s, rows, cols, gocv.MatTypeCV8UC3)
	defer img.Close()
	require.True(t, gocv.IMWrite(path, img))
}

// writeView warps the rendered board onto quad in a canvas-sized image
func writeView(t *testing.T, path string, canvas image.Point, quad []gocv.Point2f) {
	t.Helper()
	flat := board.Render(board.DefaultPattern(), testSquare, testMargin)
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

// bgrAt reads one pixel of a BGR image
func bgrAt(m gocv.Mat, x, y int) [3]uint8 {
	return [3]uint8{m.GetUCharAt(y, x*3), m.GetUCharAt(y, x*3+1), m.GetUCharAt(y, x*3+2)}
}

var (
	red  = gocv.NewScalar(0, 0, 255, 0)
	blue = gocv.NewScalar(255, 0, 0, 0)
)
