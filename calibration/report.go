package calibration

import (
	"fmt"
	"io"
)

// Report prints the calibration output in the traditional
// matrix / distortion / rotation / translation layout
func (r *Result) Report(w io.Writer) {
	fmt.Fprintf(w, "Session: %s\n", r.SessionID)
	fmt.Fprintf(w, "Image size: %dx%d\n", r.ImageWidth, r.ImageHeight)
	fmt.Fprintf(w, "Views used: %d, skipped: %d\n", len(r.Images), len(r.Skipped))
	fmt.Fprintf(w, "RMS reprojection error: %.6f\n", r.RMSError)

	fmt.Fprintln(w, "Camera Matrix:")
	for _, row := range r.CameraMatrix {
		writeRow(w, row[:])
	}

	fx, fy := r.FocalLength()
	cx, cy := r.PrincipalPoint()
	fmt.Fprintf(w, "Focal length (px): %.6f %.6f\n", fx, fy)
	fmt.Fprintf(w, "Principal point (px): %.6f %.6f\n", cx, cy)

	fmt.Fprintln(w, "Distortion:")
	writeRow(w, r.Distortion)

	fmt.Fprintln(w, "Rotation Vector :")
	for i, v := range r.RotationVectors {
		fmt.Fprintf(w, "view %d:", i)
		writeRow(w, v[:])
	}

	fmt.Fprintln(w, "Translation Vector:")
	for i, v := range r.TranslationVectors {
		fmt.Fprintf(w, "view %d:", i)
		writeRow(w, v[:])
	}

	if len(r.Skipped) > 0 {
		fmt.Fprintln(w, "Skipped images:")
		for _, s := range r.Skipped {
			fmt.Fprintf(w, "  %s: %s\n", s.Path, s.Reason)
		}
	}
}

func writeRow(w io.Writer, values []float64) {
	for _, v := range values {
		fmt.Fprintf(w, "%12.6f", v)
	}
	fmt.Fprintln(w)
}
