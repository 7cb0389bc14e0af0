package ocr

import (
	"context"
	"errors"
)

// Service extracts printed or handwritten text from an image.
type Service interface {
	// ExtractText returns the best-effort text of the image. Failures come back
	// as errors whose message can be shown to the user.
	ExtractText(ctx context.Context, image []byte, mimeType string) (string, error)
}

var (
	// ErrNotConfigured is returned when no vision API key is set.
	ErrNotConfigured = errors.New("⚠️ OCR service not configured")
	// ErrExtraction wraps every failed extraction call.
	ErrExtraction = errors.New("⚠️ OCR Error")
)

// Config holds configuration for the vision model used as OCR.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout bounds one extraction call; zero means 60 seconds.
	TimeoutSeconds int
}
