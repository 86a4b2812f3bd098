package ocr

import (
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp" // phones and browsers may send webp
)

// Decode reads an uploaded or captured image. Camera photos carry their
// rotation in EXIF, so orientation is applied before anything else.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// FitMaxSide downscales img so that its longer side is at most max pixels.
// Smaller images are returned untouched.
func FitMaxSide(img image.Image, max int) image.Image {
	if max <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= max && b.Dy() <= max {
		return img
	}
	return imaging.Fit(img, max, max, imaging.Linear)
}

// cloneGray copies g into a new image with its origin at (0,0).
func cloneGray(g *image.Gray) *image.Gray {
	b := g.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+b.Dx()], g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):])
	}
	return out
}

func atOrigin(g *image.Gray) *image.Gray {
	if g.Bounds().Min == (image.Point{}) {
		return g
	}
	return cloneGray(g)
}
