//go:build cgo && !notesseract

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/otiai10/gosseract/v2"
)

type tesseractEngine struct{}

// NewTesseract returns an Engine backed by the native Tesseract library.
func NewTesseract() Engine {
	return tesseractEngine{}
}

// Version reports the linked Tesseract version.
func Version() string {
	client := gosseract.NewClient()
	defer client.Close()
	return client.Version()
}

// Recognize runs Tesseract on img. A new client is created per call because
// gosseract clients must not be shared between goroutines. A run cannot be
// interrupted once started, so ctx is only checked before it.
func (tesseractEngine) Recognize(ctx context.Context, img image.Image, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	langs := opts.Languages
	if len(langs) == 0 {
		langs = DefaultLanguages
	}

	client := gosseract.NewClient()
	defer client.Close()
	if opts.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(opts.TessdataPrefix); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(langs...); err != nil {
		return "", fmt.Errorf("set language: %w", err)
	}
	if opts.PageSegMode > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(opts.PageSegMode)); err != nil {
			return "", fmt.Errorf("set page seg mode: %w", err)
		}
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return text, nil
}
