//go:build cgo && !notesseract

package ocr

import (
	"errors"
	"image"
	"image/draw"

	"gocv.io/x/gocv"
)

var errEmptyImage = errors.New("empty image")

// Grayscale converts img to 8-bit luminance (BT.601 weights) with the origin
// moved to (0,0).
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return cloneGray(g)
	}
	b := img.Bounds()
	if b.Empty() {
		return image.NewGray(image.Rect(0, 0, 0, 0))
	}
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return drawGray(img)
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.CvtColor(src, &dst, gocv.ColorBGRToGray)
	return matToGray(dst)
}

// Bilateral is OpenCV's edge-preserving smoothing filter. A non-positive d
// derives the diameter from sigmaSpace.
func Bilateral(g *image.Gray, d int, sigmaColor, sigmaSpace float64) *image.Gray {
	src, err := grayToMat(g)
	if err != nil {
		return cloneGray(g)
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.BilateralFilter(src, &dst, d, sigmaColor, sigmaSpace)
	return matToGray(dst)
}

// OtsuLevel returns the global threshold that maximises the between-class
// variance of the luminance histogram.
func OtsuLevel(g *image.Gray) uint8 {
	level, _ := otsu(g)
	return level
}

// Otsu binarizes g with its Otsu level.
func Otsu(g *image.Gray) *image.Gray {
	_, out := otsu(g)
	return out
}

func otsu(g *image.Gray) (uint8, *image.Gray) {
	src, err := grayToMat(g)
	if err != nil {
		return 0, cloneGray(g)
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	level := gocv.Threshold(src, &dst, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	return uint8(level), matToGray(dst)
}

// Threshold sets pixels strictly above level to white and the rest to black.
func Threshold(g *image.Gray, level uint8) *image.Gray {
	src, err := grayToMat(g)
	if err != nil {
		return cloneGray(g)
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Threshold(src, &dst, float32(level), 255, gocv.ThresholdBinary)
	return matToGray(dst)
}

// AdaptiveGaussian binarizes g against a Gaussian-weighted local mean: a
// pixel turns white when it is strictly brighter than the mean of its
// block x block neighbourhood minus c. block is forced odd and at least 3.
func AdaptiveGaussian(g *image.Gray, block int, c float64) *image.Gray {
	if block < 3 {
		block = 3
	}
	if block%2 == 0 {
		block++
	}
	src, err := grayToMat(g)
	if err != nil {
		return cloneGray(g)
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.AdaptiveThreshold(src, &dst, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary, block, float32(c))
	return matToGray(dst)
}

func grayToMat(g *image.Gray) (gocv.Mat, error) {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return gocv.Mat{}, errEmptyImage
	}
	pix := make([]byte, w*h)
	for y := 0; y < h; y++ {
		copy(pix[y*w:(y+1)*w], g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):])
	}
	return gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, pix)
}

func matToGray(m gocv.Mat) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, m.Cols(), m.Rows()))
	copy(out.Pix, m.ToBytes())
	return out
}

func drawGray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
