//go:build !cgo || notesseract

package ocr

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/segment"
	"github.com/disintegration/imaging"
)

// Grayscale converts img to 8-bit luminance with the origin moved to (0,0).
// This file mirrors the OpenCV filters for builds without cgo.
func Grayscale(img image.Image) *image.Gray {
	rgba := effect.Grayscale(img)
	b := rgba.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < b.Dx(); x++ {
			out.Pix[y*out.Stride+x] = row[x*4]
		}
	}
	return out
}

// Bilateral is an edge-preserving smoothing filter. Each output pixel is the
// average of the pixels within a circle of diameter d, weighted by both
// spatial distance (sigmaSpace) and intensity difference (sigmaColor).
// A non-positive d derives the diameter from sigmaSpace.
func Bilateral(g *image.Gray, d int, sigmaColor, sigmaSpace float64) *image.Gray {
	g = atOrigin(g)
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if d <= 0 {
		d = int(math.Round(sigmaSpace*1.5))*2 + 1
	}
	radius := d / 2
	if radius < 1 || sigmaColor <= 0 || sigmaSpace <= 0 {
		for y := 0; y < h; y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+w], g.Pix[y*g.Stride:y*g.Stride+w])
		}
		return out
	}

	var colorWeight [256]float64
	cc := -0.5 / (sigmaColor * sigmaColor)
	for i := range colorWeight {
		colorWeight[i] = math.Exp(float64(i*i) * cc)
	}
	type tap struct {
		dx, dy int
		w      float64
	}
	sc := -0.5 / (sigmaSpace * sigmaSpace)
	var taps []tap
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			r2 := dx*dx + dy*dy
			if r2 > radius*radius {
				continue
			}
			taps = append(taps, tap{dx: dx, dy: dy, w: math.Exp(float64(r2) * sc)})
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			center := int(g.Pix[y*g.Stride+x])
			var sum, norm float64
			for _, t := range taps {
				xx := reflect101(x+t.dx, w)
				yy := reflect101(y+t.dy, h)
				v := int(g.Pix[yy*g.Stride+xx])
				diff := v - center
				if diff < 0 {
					diff = -diff
				}
				wt := t.w * colorWeight[diff]
				sum += wt * float64(v)
				norm += wt
			}
			out.Pix[y*out.Stride+x] = uint8(clamp(int(math.Round(sum/norm)), 0, 255))
		}
	}
	return out
}

// OtsuLevel returns the global threshold that maximises the between-class
// variance of the luminance histogram.
func OtsuLevel(g *image.Gray) uint8 {
	g = atOrigin(g)
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	var hist [256]float64
	for y := 0; y < h; y++ {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			hist[v]++
		}
	}
	total := float64(w * h)
	var sumAll float64
	for i, n := range hist {
		sumAll += float64(i) * n
	}

	var sumB, wB, best float64
	level := 0
	best = -1
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * hist[t]
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			level = t
		}
	}
	return uint8(level)
}

// Threshold sets pixels strictly above level to white and the rest to black.
func Threshold(g *image.Gray, level uint8) *image.Gray {
	if level == 255 {
		b := g.Bounds()
		return image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	}
	// segment.Threshold keeps values >= its level, hence the +1.
	return segment.Threshold(g, level+1)
}

// Otsu binarizes g with its Otsu level.
func Otsu(g *image.Gray) *image.Gray {
	return Threshold(g, OtsuLevel(g))
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
	// OpenCV derives this sigma for a Gaussian kernel of the same size.
	g = atOrigin(g)
	sigma := 0.3*(float64(block-1)*0.5-1) + 0.8
	mean := imaging.Blur(g, sigma)

	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(g.Pix[y*g.Stride+x])
			m := float64(mean.Pix[y*mean.Stride+x*4])
			if v > m-c {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// reflect101 mirrors an out-of-range index without repeating the edge pixel
// (gfedcb|abcdefgh|gfedcba), the default border of OpenCV filters.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}
