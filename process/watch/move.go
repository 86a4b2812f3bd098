package watch

import (
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// MoveToProcessed moves src into dir. Files above maxBytes are re-encoded at a
// smaller size; anything that cannot be decoded is moved as is.
func MoveToProcessed(src, dir string, maxBytes int64) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(dir, filepath.Base(src))

	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if maxBytes <= 0 || fi.Size() <= maxBytes {
		return rename(src, dst)
	}
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return rename(src, dst)
	}
	// encoded size roughly follows the pixel count
	scale := math.Sqrt(float64(maxBytes) / float64(fi.Size()))
	scale = math.Max(0.1, math.Min(scale, 0.95))
	w := int(math.Max(1, math.Round(float64(img.Bounds().Dx())*scale)))
	img = imaging.Resize(img, w, 0, imaging.Lanczos)
	if err := imaging.Save(img, dst, imaging.JPEGQuality(85)); err != nil {
		return rename(src, dst)
	}
	if err := os.Remove(src); err != nil {
		return err
	}
	// one more pass when the first estimate was not enough
	if fi2, err := os.Stat(dst); err == nil && fi2.Size() > maxBytes {
		if img2, err := imaging.Open(dst); err == nil {
			img2 = imaging.Resize(img2, int(float64(img2.Bounds().Dx())*0.8), 0, imaging.Lanczos)
			_ = imaging.Save(img2, dst, imaging.JPEGQuality(80))
		}
	}
	return nil
}

func rename(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return copyRemove(src, dst)
}

// copyRemove covers renames across filesystems.
func copyRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
