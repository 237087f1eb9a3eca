package capture

import (
	"time"

	"github.com/nvr-ai/go-vision-relay/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// DirectorySource replays a directory of numbered frame images.
type DirectorySource struct {
	files    []util.ImageFile
	next     int
	interval time.Duration
	last     time.Time
	log      *logrus.Entry
}

// NewDirectorySource lists the frames of dir.
//
// Arguments:
//   - dir: Directory of numbered frame images.
//   - frameRate: Playback rate in frames per second; zero reads without pacing.
//
// Returns:
//   - *DirectorySource: The source positioned at the first frame.
//   - error: An error if the directory cannot be listed or holds no frames.
func NewDirectorySource(dir string, frameRate float64) (*DirectorySource, error) {
	files, err := util.ListDirectoryImageFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no frame images in %s", dir)
	}

	s := &DirectorySource{
		files: files,
		log:   logrus.WithField("component", "directory-source"),
	}
	if frameRate > 0 {
		s.interval = time.Duration(float64(time.Second) / frameRate)
	}
	return s, nil
}

// Read decodes the next frame into dst. Files that cannot be decoded are
// skipped. It returns false once every file has been read.
func (s *DirectorySource) Read(dst *gocv.Mat) bool {
	for s.next < len(s.files) {
		file := s.files[s.next]
		s.next++

		s.pace()

		data, err := file.Read()
		if err != nil {
			s.log.WithError(err).WithField("path", file.Path).Warn("skipping unreadable frame")
			continue
		}
		img, err := gocv.IMDecode(data, gocv.IMReadColor)
		if err != nil || img.Empty() {
			img.Close()
			s.log.WithField("path", file.Path).Warn("skipping undecodable frame")
			continue
		}
		img.CopyTo(dst)
		img.Close()
		return true
	}
	return false
}

func (s *DirectorySource) pace() {
	if s.interval <= 0 {
		return
	}
	if !s.last.IsZero() {
		if wait := s.interval - time.Since(s.last); wait > 0 {
			time.Sleep(wait)
		}
	}
	s.last = time.Now()
}

// Close is a no-op; files are read one at a time.
func (s *DirectorySource) Close() error {
	return nil
}
