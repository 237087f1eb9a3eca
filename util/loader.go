package util

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ImageFile represents a numbered image file of a recorded frame sequence.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Frame is the frame number parsed from the file name.
	Frame int
}

// Read returns the raw bytes of the image file.
func (f ImageFile) Read() ([]byte, error) {
	return os.ReadFile(f.Path)
}

// ListDirectoryImageFiles lists the numbered image files of a directory.
//
// File names are expected to look like "frame-0001.jpg" or "frame_0001.jpg";
// files with other names or extensions are skipped.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: The image files sorted by frame number.
// - error: Error if the directory cannot be read.
func ListDirectoryImageFiles(dir string) ([]ImageFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read frame directory")
	}

	var images []ImageFile
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(file.Name()))
		switch ext {
		case ".jpg", ".jpeg", ".png", ".bmp":
			frame, ok := frameNumber(file.Name())
			if !ok {
				continue
			}
			images = append(images, ImageFile{
				Path:  filepath.Join(dir, file.Name()),
				Frame: frame,
			})
		}
	}

	sort.Slice(images, func(i, j int) bool {
		return images[i].Frame < images[j].Frame
	})

	return images, nil
}

func frameNumber(name string) (int, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.TrimPrefix(base, "frame")
	base = strings.TrimLeft(base, "-_")
	n, err := strconv.Atoi(base)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
