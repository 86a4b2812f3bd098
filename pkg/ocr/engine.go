package ocr

import (
	"context"
	"image"
)

// Page segmentation modes used by the scanner. Values match Tesseract's PSM numbering.
const (
	PSMSingleBlock = 6
	PSMSparseText  = 11
)

// DefaultLanguages are the Tesseract models used for company cards: Turkish first, English as fallback.
var DefaultLanguages = []string{"tur", "eng"}

// Options configures a single recognition call.
type Options struct {
	Languages      []string
	PageSegMode    int
	TessdataPrefix string
}

// DefaultOptions returns tur+eng with single-block segmentation.
func DefaultOptions() Options {
	return Options{
		Languages:   append([]string(nil), DefaultLanguages...),
		PageSegMode: PSMSingleBlock,
	}
}

// Engine turns an image into text. Recognize must not return before the
// recognition has stopped; the Scanner enforces deadlines around it.
type Engine interface {
	Recognize(ctx context.Context, img image.Image, opts Options) (string, error)
}

// EngineFunc adapts a plain function to Engine.
type EngineFunc func(ctx context.Context, img image.Image, opts Options) (string, error)

// Recognize calls f.
func (f EngineFunc) Recognize(ctx context.Context, img image.Image, opts Options) (string, error) {
	return f(ctx, img, opts)
}
