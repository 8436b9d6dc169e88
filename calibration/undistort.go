package calibration

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Undistorter removes lens distortion using a calibration result. The
// optimal new camera matrix is computed once per input size.
type Undistorter struct {
	cameraMatrix gocv.Mat
	distortion   gocv.Mat
	alpha        float64

	size      image.Point
	newCamera gocv.Mat
	roi       image.Rectangle
}

// NewUndistorter creates an undistorter. alpha=1 keeps every source pixel,
// alpha=0 keeps only valid ones.
func NewUndistorter(r *Result, alpha float64) (*Undistorter, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &Undistorter{
		cameraMatrix: r.CameraMat(),
		distortion:   r.DistortionMat(),
		alpha:        alpha,
		newCamera:    gocv.NewMat(),
	}, nil
}

// prepare recomputes the new camera matrix when the frame size changes
func (u *Undistorter) prepare(size image.Point) {
	if size == u.size && !u.newCamera.Empty() {
		return
	}
	u.newCamera.Close()
	u.newCamera, u.roi = gocv.GetOptimalNewCameraMatrixWithParams(u.cameraMatrix, u.distortion, size, u.alpha, size, false)
	u.size = size
	debugMsg("UNDISTORT", fmt.Sprintf("New camera matrix for %dx%d, valid region %v", size.X, size.Y, u.roi))
}

// Apply undistorts src into dst at the same size
func (u *Undistorter) Apply(src gocv.Mat, dst *gocv.Mat) error {
	if src.Empty() {
		return errors.New("cannot undistort an empty image")
	}
	u.prepare(image.Pt(src.Cols(), src.Rows()))
	gocv.Undistort(src, dst, u.cameraMatrix, u.distortion, u.newCamera)
	return nil
}

// ApplyCropped undistorts src and crops the result to the valid region.
// The returned Mat is owned by the caller.
func (u *Undistorter) ApplyCropped(src gocv.Mat) (gocv.Mat, error) {
	full := gocv.NewMat()
	defer full.Close()
	if err := u.Apply(src, &full); err != nil {
		return gocv.NewMat(), err
	}

	roi := u.roi.Intersect(image.Rect(0, 0, full.Cols(), full.Rows()))
	if roi.Empty() {
		return full.Clone(), nil
	}
	region := full.Region(roi)
	defer region.Close()
	return region.Clone(), nil
}

// Close releases the Mats held by the undistorter
func (u *Undistorter) Close() error {
	u.cameraMatrix.Close()
	u.distortion.Close()
	u.newCamera.Close()
	return nil
}

// UndistortFile reads src, writes the undistorted and cropped image to dst
func UndistortFile(r *Result, src, dst string) error {
	u, err := NewUndistorter(r, 1)
	if err != nil {
		return err
	}
	defer u.Close()

	img := gocv.IMRead(src, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return fmt.Errorf("could not read image %s", src)
	}

	out, err := u.ApplyCropped(img)
	if err != nil {
		return err
	}
	defer out.Close()

	if !gocv.IMWrite(dst, out) {
		return fmt.Errorf("failed to write %s", dst)
	}
	debugMsg("UNDISTORT", fmt.Sprintf("Wrote %s (%dx%d)", dst, out.Cols(), out.Rows()))
	return nil
}
