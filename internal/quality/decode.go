package quality

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"

	"github.com/photosift/photosift/internal/common"
)

// Decoder turns an image file into pixels.
type Decoder interface {
	Decode(path string) (image.Image, error)
}

// FileDecoder reads JPEG, PNG and BMP files from disk.
type FileDecoder struct{}

func (FileDecoder) Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, common.Decode(fmt.Sprintf("open %s", path), err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, common.Decode(fmt.Sprintf("decode %s", path), err)
	}
	return img, nil
}

// toGray converts img to 8-bit luma using the ITU-R 601 weights.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// fitToBudget shrinks g by scale when its area exceeds maxPixels. The blur
// score of a downsampled image is an approximation of the full-size one.
func fitToBudget(g *image.Gray, maxPixels int, scale float64) (*image.Gray, bool) {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w*h <= maxPixels {
		return g, false
	}
	nw, nh := max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
	dst := image.NewGray(image.Rect(0, 0, nw, nh))
	draw.BiLinear.Scale(dst, dst.Bounds(), g, b, draw.Src, nil)
	return dst, true
}
