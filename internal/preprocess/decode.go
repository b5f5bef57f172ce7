package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// ErrUnsupportedType is returned for uploads that are not an image or PDF.
var ErrUnsupportedType = errors.New("unsupported file type")

// supportedTypes lists the content types Decode understands
var supportedTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/bmp":       true,
	"image/webp":      true,
	"image/heic":      true,
	"image/heif":      true,
	"application/pdf": true,
}

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".pdf":  "application/pdf",
}

// IsSupported reports whether contentType can be decoded
func IsSupported(contentType string) bool {
	return supportedTypes[normalizeMimeType(contentType)]
}

// DetectContentType resolves the content type of an upload. The declared
// type wins unless it is empty or generic, then the file extension, then
// the file's magic bytes.
func DetectContentType(filename, declared string, data []byte) string {
	mimeType := normalizeMimeType(declared)
	if mimeType != "" && mimeType != "application/octet-stream" {
		return mimeType
	}

	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}

	if isHEICFormat(data) {
		return "image/heic"
	}
	return normalizeMimeType(http.DetectContentType(data))
}

// Decode turns an uploaded file into an image. PDFs are rendered from their
// first page.
func Decode(data []byte, contentType string) (image.Image, error) {
	mimeType := normalizeMimeType(contentType)
	if !supportedTypes[mimeType] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}

	if mimeType == "application/pdf" {
		img, err := pdfToImage(data)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return img, nil
	}

	// HEIC/HEIF is common on iPhones and not handled by the image package
	if isHEICFormat(data) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, BMP, WebP, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// pdfToImage renders the first page of a PDF
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Invoices are nearly always a single page
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// normalizeMimeType lowercases and strips parameters such as charset
func normalizeMimeType(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "image/jpg" {
		mimeType = "image/jpeg"
	}
	return mimeType
}
