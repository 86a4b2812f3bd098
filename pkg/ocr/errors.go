package ocr

import "errors"

var (
	// ErrDecode is returned when the uploaded bytes are not a decodable image.
	ErrDecode = errors.New("image could not be decoded")
	// ErrEngineUnavailable is returned by builds without Tesseract support.
	ErrEngineUnavailable = errors.New("ocr engine unavailable in this build")
	// ErrUnknownProfile is returned for a preprocessing profile name that does not exist.
	ErrUnknownProfile = errors.New("unknown preprocessing profile")
)
