package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// SaveSnapshot writes frame as a JPEG under directory, grouped into
// date-and-hour subdirectories such as 2025-01-01_03PM. It returns the
// written path.
func SaveSnapshot(frame gocv.Mat, directory, prefix string, at time.Time) (string, error) {
	if directory == "" {
		return "", errors.New("snapshot directory not set")
	}
	if frame.Empty() {
		return "", errors.New("cannot save an empty frame")
	}

	hour := at.Hour()
	hour12 := hour % 12
	if hour12 == 0 {
		hour12 = 12
	}
	ampm := "AM"
	if hour >= 12 {
		ampm = "PM"
	}
	subdir := filepath.Join(directory, fmt.Sprintf("%s_%02d%s", at.Format("2006-01-02"), hour12, ampm))

	if err := os.MkdirAll(subdir, 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create subdirectory %s", subdir)
	}

	name := fmt.Sprintf("%s_%s.jpg", at.Format("20060102_150405.000"), prefix)
	path := filepath.Join(subdir, name)
	if !gocv.IMWrite(path, frame) {
		return "", fmt.Errorf("failed to save %s frame: %s", prefix, name)
	}
	debugMsg("SNAPSHOT", fmt.Sprintf("Saved %s", path))
	return path, nil
}

// Recorder writes displayed frames to a video file
type Recorder struct {
	writer *gocv.VideoWriter
	path   string
	frames int
}

// NewRecorder opens path for MJPG video at the given size and frame rate
func NewRecorder(path string, fps float64, width, height int) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "failed to create directory for %s", path)
		}
	}
	w, err := gocv.VideoWriterFile(path, "MJPG", fps, width, height, true)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open video writer %s", path)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("video writer for %s did not open", path)
	}
	debugMsg("RECORD", fmt.Sprintf("Recording %dx%d @ %.1f fps to %s", width, height, fps, path))
	return &Recorder{writer: w, path: path}, nil
}

// Write appends one frame
func (r *Recorder) Write(frame gocv.Mat) error {
	if err := r.writer.Write(frame); err != nil {
		return errors.Wrapf(err, "failed to write frame to %s", r.path)
	}
	r.frames++
	return nil
}

// Frames returns the number of frames written
func (r *Recorder) Frames() int { return r.frames }

// Close finishes the file
func (r *Recorder) Close() error {
	debugMsg("RECORD", fmt.Sprintf("Closing %s after %d frames", r.path, r.frames))
	return r.writer.Close()
}
