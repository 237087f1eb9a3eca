// Package capture - Video sources and the loop that feeds frames to the mailbox.
package capture

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Source yields one decoded frame per blocking Read. Read returns false at
// end of stream. *gocv.VideoCapture satisfies Source.
type Source interface {
	Read(dst *gocv.Mat) bool
	Close() error
}

// SourceConfig selects where frames come from. Exactly one of Pipeline, File
// and Directory may be set; when none is, Device is opened.
type SourceConfig struct {
	// Device is the index of a local camera.
	Device int `yaml:"device"`
	// File is a path to a video file.
	File string `yaml:"file"`
	// Pipeline is a GStreamer pipeline ending in an appsink.
	Pipeline string `yaml:"pipeline"`
	// Directory holds numbered frame images (frame-0001.jpg, ...).
	Directory string `yaml:"directory"`
	// FrameRate paces directory playback in frames per second. Zero reads as fast as possible.
	FrameRate float64 `yaml:"frame_rate"`
	// Width and Height request a capture size from devices. Zero keeps the default.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Open opens the source described by cfg.
//
// Arguments:
//   - cfg: The source configuration.
//
// Returns:
//   - Source: The opened source.
//   - error: An error if the source cannot be opened.
func Open(cfg SourceConfig) (Source, error) {
	switch {
	case cfg.Directory != "":
		return NewDirectorySource(cfg.Directory, cfg.FrameRate)
	case cfg.Pipeline != "":
		vc, err := gocv.OpenVideoCaptureWithAPI(cfg.Pipeline, gocv.VideoCaptureGstreamer)
		if err != nil {
			return nil, errors.Wrap(err, "connect to GStreamer pipeline")
		}
		return vc, nil
	case cfg.File != "":
		vc, err := gocv.VideoCaptureFile(cfg.File)
		if err != nil {
			return nil, errors.Wrapf(err, "open video file %s", cfg.File)
		}
		return vc, nil
	default:
		vc, err := gocv.VideoCaptureDevice(cfg.Device)
		if err != nil {
			return nil, errors.Wrapf(err, "open capture device %d", cfg.Device)
		}
		if cfg.Width > 0 && cfg.Height > 0 {
			vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
			vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
		}
		return vc, nil
	}
}
