//go:build !cgo || notesseract

package ocr

import (
	"context"
	"image"
)

type stubEngine struct{}

// NewTesseract returns an engine that always fails: this binary was built
// without cgo or with the notesseract tag.
func NewTesseract() Engine {
	return stubEngine{}
}

// Version reports that no Tesseract library is linked.
func Version() string {
	return "unavailable"
}

func (stubEngine) Recognize(ctx context.Context, _ image.Image, _ Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", ErrEngineUnavailable
}
