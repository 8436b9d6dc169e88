package main

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"planarar/calibration"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "planarar", cmd.Use)
	assert.Contains(t, cmd.Long, "checkerboard")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"calibrate", "run", "homography", "undistort", "pattern"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	columns := cmd.PersistentFlags().Lookup("columns")
	require.NotNil(t, columns)
	assert.Equal(t, "9", columns.DefValue)

	rows := cmd.PersistentFlags().Lookup("rows")
	require.NotNil(t, rows)
	assert.Equal(t, "6", rows.DefValue)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	assert.Equal(t, "10", runCmd.Flags().Lookup("mask-threshold").DefValue)
	assert.Equal(t, "perspective", runCmd.Flags().Lookup("solver").DefValue)
	assert.Equal(t, "AR.JPG", runCmd.Flags().Lookup("replacement").DefValue)
	assert.Equal(t, "0", runCmd.Flags().Lookup("source").DefValue)
}

func TestGuardRecoversPanics(t *testing.T) {
	err := guard(func() error { panic("boom") })
	assert.EqualError(t, err, "panic: boom")

	sentinel := errors.New("plain")
	assert.Equal(t, sentinel, guard(func() error { return sentinel }))
	assert.NoError(t, guard(func() error { return nil }))
}

func TestPatternCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.png")
	out, err := executeCommand(t, "pattern", path, "--square", "20", "--margin", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 9x6 board (220x160 px)")

	img := gocv.IMRead(path, gocv.IMReadGrayScale)
	defer img.Close()
	assert.Equal(t, 220, img.Cols())
	assert.Equal(t, 160, img.Rows())

	_, err = executeCommand(t, "pattern", path, "--square", "2")
	assert.Error(t, err)
}

func TestCalibrateFailureIsReported(t *testing.T) {
	dir := t.TempDir()
	images := filepath.Join(dir, "*.JPG")

	out, err := executeCommand(t, "calibrate", "--images", images, "--profile", filepath.Join(dir, "cam.json"))
	require.NoError(t, err, "failures are reported, not returned")
	assert.Contains(t, out, "Calibration failed")
	assert.Contains(t, out, calibration.ErrNoViews.Error())

	_, err = executeCommand(t, "calibrate", "--images", images, "--strict")
	assert.ErrorIs(t, err, calibration.ErrNoViews)
}

func TestCalibrateCommandWritesProfileAndSample(t *testing.T) {
	dir := t.TempDir()
	canvas := image.Pt(640, 480)
	quads := [][]gocv.Point2f{
		{{X: 100, Y: 80}, {X: 520, Y: 60}, {X: 540, Y: 420}, {X: 90, Y: 400}},
		{{X: 130, Y: 50}, {X: 500, Y: 100}, {X: 480, Y: 400}, {X: 120, Y: 440}},
		{{X: 80, Y: 120}, {X: 560, Y: 90}, {X: 500, Y: 380}, {X: 140, Y: 430}},
		{{X: 150, Y: 70}, {X: 540, Y: 70}, {X: 580, Y: 430}, {X: 110, Y: 410}},
	}
	for i, q := range quads {
		writeView(t, filepath.Join(dir, "view_"+string(rune('a'+i))+".png"), canvas, q)
	}

	profile := filepath.Join(dir, "cam.json")
	result := filepath.Join(dir, "Calibresult.jpg")
	out, err := executeCommand(t, "calibrate",
		"--images", filepath.Join(dir, "*.png"),
		"--profile", profile,
		"--result", result,
		"--workers", "2",
		"--strict")
	require.NoError(t, err)

	assert.Contains(t, out, "Camera Matrix:")
	assert.Contains(t, out, "Distortion:")
	assert.Contains(t, out, "Rotation Vector :")
	assert.Contains(t, out, "Translation Vector:")
	assert.Contains(t, out, "Views used: 4, skipped: 0")
	assert.Contains(t, out, "view_d.png")

	saved, err := calibration.LoadProfile(profile)
	require.NoError(t, err)
	assert.Len(t, saved.Images, 4)

	_, err = os.Stat(result)
	assert.NoError(t, err)
}

func TestUndistortCommand(t *testing.T) {
	dir := t.TempDir()
	size := writeBoard(t, filepath.Join(dir, "board.png"))

	profile := filepath.Join(dir, "cam.json")
	r := &calibration.Result{
		ImageWidth:   size.X,
		ImageHeight:  size.Y,
		CameraMatrix: [3][3]float64{{400, 0, float64(size.X) / 2}, {0, 400, float64(size.Y) / 2}, {0, 0, 1}},
		Distortion:   []float64{0, 0, 0, 0, 0},
	}
	require.NoError(t, r.Save(profile))

	outDir := filepath.Join(dir, "fixed")
	out, err := executeCommand(t, "undistort", "--profile", profile, "--out-dir", outDir, filepath.Join(dir, "board.png"))
	require.NoError(t, err)
	assert.Contains(t, out, "board_undistorted.png")
	_, err = os.Stat(filepath.Join(outDir, "board_undistorted.png"))
	assert.NoError(t, err)

	_, err = executeCommand(t, "undistort", "--profile", profile, "--out-dir", outDir, filepath.Join(dir, "missing.png"))
	assert.ErrorContains(t, err, "missing.png")

	_, err = executeCommand(t, "undistort", "--profile", filepath.Join(dir, "nope.json"), filepath.Join(dir, "board.png"))
	assert.ErrorContains(t, err, "not found")
}

func TestUndistortedName(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "left12_undistorted.JPG"), undistortedName("out", "shots/left12.JPG"))
}

func TestHomographyCommand(t *testing.T) {
	dir := t.TempDir()
	boardPath := filepath.Join(dir, "board.png")
	writeBoard(t, boardPath)

	out, err := executeCommand(t, "homography", boardPath)
	require.NoError(t, err)
	assert.Contains(t, out, "54 correspondences")
	assert.Contains(t, out, "RMS reprojection error")

	replacement := filepath.Join(dir, "red.png")
	writeSolid(t, replacement, 50, 80, red)
	composited := filepath.Join(dir, "ar.png")
	out, err = executeCommand(t, "homography", boardPath, "--replacement", replacement, "--output", composited)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	img := gocv.IMRead(composited, gocv.IMReadColor)
	defer img.Close()
	require.False(t, img.Empty())
	// Centre of the inner corner grid is covered, the white margin is not
	assert.Equal(t, [3]uint8{0, 0, 255}, bgrAt(img, 190, 145))
	assert.Equal(t, [3]uint8{255, 255, 255}, bgrAt(img, 10, 10))

	_, err = executeCommand(t, "homography", boardPath, "--replacement", replacement)
	assert.Error(t, err)
}

func TestHomographyCommandWithoutBoard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blank.png")
	writeSolid(t, path, 120, 160, blue)
	_, err := executeCommand(t, "homography", path)
	assert.ErrorContains(t, err, "checkerboard not found")
}
