// Package tesseract recognizes text with a local Tesseract install through
// gosseract. It needs libtesseract and the language data at build and run
// time, so it lives apart from the pure-Go recognizers.
package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/invoice-scanner/internal/recognition"
)

// Tesseract implements recognition.Recognizer
type Tesseract struct {
	language    string
	tessdataDir string
}

// New creates a Tesseract recognizer. language defaults to "por".
func New(language, tessdataDir string) *Tesseract {
	if language == "" {
		language = "por"
	}
	return &Tesseract{language: language, tessdataDir: tessdataDir}
}

// Recognize runs tesseract on the image. A client is created per call
// because gosseract clients are not safe for concurrent use.
func (t *Tesseract) Recognize(ctx context.Context, png []byte) (*recognition.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if t.tessdataDir != "" {
		if err := client.SetTessdataPrefix(t.tessdataDir); err != nil {
			return nil, fmt.Errorf("setting tessdata dir: %w", err)
		}
	}
	if err := client.SetLanguage(t.language); err != nil {
		return nil, fmt.Errorf("setting language: %w", err)
	}
	if err := client.SetWhitelist(recognition.Whitelist); err != nil {
		return nil, fmt.Errorf("setting whitelist: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SPARSE_TEXT); err != nil {
		return nil, fmt.Errorf("setting page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(png); err != nil {
		return nil, fmt.Errorf("loading image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("tesseract: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract word confidence: %w", err)
	}

	confidences := make([]float64, len(boxes))
	for i, b := range boxes {
		confidences[i] = b.Confidence
	}

	return &recognition.Result{
		Text:       text,
		Confidence: recognition.MeanConfidence(confidences),
	}, nil
}

// Close is a no-op; clients are closed after each call
func (t *Tesseract) Close() error {
	return nil
}
