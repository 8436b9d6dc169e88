// Package capture reads frames from cameras, video files and still images
// and keeps the loop alive across bad reads.
package capture

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Global debug function for capture package
var debugMsgFunc func(component, message string)

// SetDebugFunction allows main package to provide the debug logger
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

// Source produces frames for the live loop
type Source interface {
	// Read fills frame with the next image and reports success
	Read(frame *gocv.Mat) bool
	Name() string
	Close() error
}

// Open picks a source for target: a bare integer is a camera device index,
// an image path is a still source, anything else is handed to the video
// backend as a file or stream URL
func Open(target string) (Source, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		target = "0"
	}

	if id, err := strconv.Atoi(target); err == nil {
		cam, err := gocv.VideoCaptureDevice(id)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open camera %d", id)
		}
		debugMsg("CAPTURE", fmt.Sprintf("Opened camera device %d", id))
		return &videoSource{cap: cam, name: fmt.Sprintf("camera %d", id)}, nil
	}

	if isStillImage(target) {
		return OpenStill(target)
	}

	vc, err := gocv.VideoCaptureFile(target)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open video source %s", target)
	}
	if isStream(target) {
		// Keep latency low on network streams
		vc.Set(gocv.VideoCaptureBufferSize, 1)
	}
	debugMsg("CAPTURE", fmt.Sprintf("Opened video source %s", target))
	return &videoSource{cap: vc, name: target}, nil
}

func isStillImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}

func isStream(target string) bool {
	for _, prefix := range []string{"rtsp://", "rtmp://", "http://", "https://", "udp://"} {
		if strings.HasPrefix(target, prefix) {
			return true
		}
	}
	return false
}

type videoSource struct {
	cap  *gocv.VideoCapture
	name string
}

func (v *videoSource) Read(frame *gocv.Mat) bool {
	return v.cap.Read(frame)
}

func (v *videoSource) Name() string { return v.name }

func (v *videoSource) Close() error {
	debugMsg("CAPTURE", fmt.Sprintf("Releasing %s", v.name))
	return v.cap.Close()
}

// StillSource returns the same image on every read
type StillSource struct {
	img  gocv.Mat
	path string
}

// OpenStill loads path as a colour image
func OpenStill(path string) (*StillSource, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return nil, fmt.Errorf("could not read image %s", path)
	}
	return &StillSource{img: img, path: path}, nil
}

func (s *StillSource) Read(frame *gocv.Mat) bool {
	if s.img.Empty() {
		return false
	}
	s.img.CopyTo(frame)
	return true
}

func (s *StillSource) Name() string { return s.path }

func (s *StillSource) Close() error {
	return s.img.Close()
}
