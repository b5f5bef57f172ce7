package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/disintegration/imaging"
)

const (
	// DefaultMaxWidth keeps phone photos small enough for the recognizer
	// without losing receipt print detail.
	DefaultMaxWidth = 1600

	contrastPercent  = 20 // contrast x1.2
	brightnessFactor = 1.1
	thresholdRatio   = 0.9
)

var (
	ErrEmptyImage      = errors.New("image has no pixels")
	ErrInvalidMaxWidth = errors.New("max width must be positive")
)

// Options controls Normalize
type Options struct {
	MaxWidth      int
	ContrastBoost bool
}

// DefaultOptions returns the settings used for camera and upload captures
func DefaultOptions() Options {
	return Options{
		MaxWidth:      DefaultMaxWidth,
		ContrastBoost: true,
	}
}

// Normalize downsizes img to at most opts.MaxWidth pixels wide and
// binarizes it against its own mean luminance. Pixels brighter than 90% of
// the mean become white, the rest black. The source image is not modified.
func Normalize(img image.Image, opts Options) (*image.NRGBA, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, ErrEmptyImage
	}
	if opts.MaxWidth <= 0 {
		return nil, ErrInvalidMaxWidth
	}

	width, height := scaledSize(bounds.Dx(), bounds.Dy(), opts.MaxWidth)
	dst := imaging.Resize(img, width, height, imaging.Lanczos)
	if opts.ContrastBoost {
		dst = imaging.AdjustContrast(dst, contrastPercent)
		dst = imaging.AdjustFunc(dst, brighten)
	}

	mean := meanLuminance(dst)
	threshold(dst, mean*thresholdRatio)
	return dst, nil
}

// EncodePNG encodes img losslessly
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// scaledSize shrinks (never enlarges) width to maxWidth, keeping aspect ratio
func scaledSize(width, height, maxWidth int) (int, int) {
	scale := math.Min(1, float64(maxWidth)/float64(width))
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))
	return max(w, 1), max(h, 1)
}

func brighten(c color.NRGBA) color.NRGBA {
	return color.NRGBA{
		R: scaleChannel(c.R, brightnessFactor),
		G: scaleChannel(c.G, brightnessFactor),
		B: scaleChannel(c.B, brightnessFactor),
		A: c.A,
	}
}

func scaleChannel(v uint8, factor float64) uint8 {
	return uint8(math.Min(255, math.Round(float64(v)*factor)))
}

func luminance(r, g, b uint8) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

func meanLuminance(img *image.NRGBA) float64 {
	bounds := img.Bounds()
	var sum float64
	for y := 0; y < bounds.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+bounds.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			sum += luminance(row[i], row[i+1], row[i+2])
		}
	}
	return sum / float64(bounds.Dx()*bounds.Dy())
}

// threshold rewrites img in place to pure black and white
func threshold(img *image.NRGBA, level float64) {
	bounds := img.Bounds()
	for y := 0; y < bounds.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+bounds.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			var v uint8
			if luminance(row[i], row[i+1], row[i+2]) > level {
				v = 255
			}
			row[i], row[i+1], row[i+2], row[i+3] = v, v, v, 255
		}
	}
}
