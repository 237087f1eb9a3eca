package inference

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// PrepareInput resizes img to the network input size and writes it into dst
// as planar RGB scaled to [0,1].
//
// Arguments:
//   - img: The image to prepare.
//   - size: The network input width and height.
//   - dst: The destination tensor data, at least 3*size.X*size.Y floats.
//
// Returns:
//   - error: An error if dst is too small.
func PrepareInput(img image.Image, size image.Point, dst []float32) error {
	channelSize := size.X * size.Y
	if len(dst) < channelSize*3 {
		return errors.Errorf("destination tensor only holds %d floats, needs %d",
			len(dst), channelSize*3)
	}
	red := dst[0:channelSize]
	green := dst[channelSize : channelSize*2]
	blue := dst[channelSize*2 : channelSize*3]

	b := img.Bounds()
	if b.Dx() != size.X || b.Dy() != size.Y {
		img = resize.Resize(uint(size.X), uint(size.Y), img, resize.Bilinear)
		b = img.Bounds()
	}

	i := 0
	for y := b.Min.Y; y < b.Min.Y+size.Y; y++ {
		for x := b.Min.X; x < b.Min.X+size.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(bl>>8) / 255.0
			i++
		}
	}
	return nil
}
