package calibration

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Result holds the intrinsic and extrinsic parameters recovered by a calibration session
type Result struct {
	SessionID          string         `json:"session_id"`
	CreatedAt          time.Time      `json:"created_at"`
	PatternColumns     int            `json:"pattern_columns"`
	PatternRows        int            `json:"pattern_rows"`
	SquareSize         float64        `json:"square_size"`
	ImageWidth         int            `json:"image_width"`
	ImageHeight        int            `json:"image_height"`
	CameraMatrix       [3][3]float64  `json:"camera_matrix"`
	Distortion         []float64      `json:"distortion"`
	RotationVectors    [][3]float64   `json:"rotation_vectors"`
	TranslationVectors [][3]float64   `json:"translation_vectors"`
	RMSError           float64        `json:"rms_error"`
	Images             []string       `json:"images"`
	Skipped            []SkippedImage `json:"skipped,omitempty"`
}

// SkippedImage records why an input photograph was not used
type SkippedImage struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ImageSize returns the calibrated image size
func (r *Result) ImageSize() image.Point {
	return image.Pt(r.ImageWidth, r.ImageHeight)
}

// FocalLength returns (fx, fy)
func (r *Result) FocalLength() (float64, float64) {
	return r.CameraMatrix[0][0], r.CameraMatrix[1][1]
}

// PrincipalPoint returns (cx, cy)
func (r *Result) PrincipalPoint() (float64, float64) {
	return r.CameraMatrix[0][2], r.CameraMatrix[1][2]
}

// CameraMat returns the camera matrix as a new 3x3 CV_64F Mat
func (r *Result) CameraMat() gocv.Mat {
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			m.SetDoubleAt(row, col, r.CameraMatrix[row][col])
		}
	}
	return m
}

// DistortionMat returns the distortion coefficients as a new 1xN CV_64F Mat
func (r *Result) DistortionMat() gocv.Mat {
	m := gocv.NewMatWithSize(1, len(r.Distortion), gocv.MatTypeCV64F)
	for i, v := range r.Distortion {
		m.SetDoubleAt(0, i, v)
	}
	return m
}

// Validate checks that the profile can be used for undistortion
func (r *Result) Validate() error {
	if r.ImageWidth <= 0 || r.ImageHeight <= 0 {
		return fmt.Errorf("invalid image size %dx%d", r.ImageWidth, r.ImageHeight)
	}
	if r.CameraMatrix[2][2] == 0 {
		return errors.New("camera matrix is empty")
	}
	if len(r.Distortion) == 0 {
		return errors.New("no distortion coefficients")
	}
	return nil
}

// Save writes the result as indented JSON
func (r *Result) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create profile directory %s", dir)
		}
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal calibration profile")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write calibration profile %s", path)
	}
	return nil
}

// LoadProfile reads a result previously written by Save
func LoadProfile(path string) (*Result, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("calibration file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read calibration file")
	}

	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, "failed to parse calibration JSON")
	}
	if err := r.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid calibration profile %s", path)
	}

	debugMsg("CALIBRATION", fmt.Sprintf("Loaded calibration profile %s (session %s, %d views)", path, r.SessionID, len(r.Images)))
	return &r, nil
}
