package embedding

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/timmy/eventgallery/internal/domain"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// defaultMinContrast is the luminance standard deviation (0-255 scale) below
// which an image is treated as blank.
const defaultMinContrast = 4.0

// DefaultMaxPixels bounds the decoded canvas (width*height) of an input image.
const DefaultMaxPixels = 40_000_000

// analysisSize is the side of the square grayscale thumbnail used for analysis.
const analysisSize = 64

// decoded is a decoded image plus its normalized grayscale thumbnail.
type decoded struct {
	img    image.Image
	format string
	gray   *image.Gray
}

// decodeImage decodes data and prepares a fixed-size grayscale thumbnail.
// Undecodable bytes yield unsupported_format. The header is checked before
// decoding so a canvas above maxPixels is rejected without allocating it.
func decodeImage(ctx context.Context, data []byte, maxPixels int64) (*decoded, error) {
	const op = "embedding.decode"
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, domain.E(domain.KindUnsupportedFormat, op, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > maxPixels {
		return nil, domain.Errorf(domain.KindPayloadRejected, op,
			"image of %dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.E(domain.KindUnsupportedFormat, op, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, domain.Errorf(domain.KindUnsupportedFormat, op, "empty image bounds")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gray := image.NewGray(image.Rect(0, 0, analysisSize, analysisSize))
	draw.BiLinear.Scale(gray, gray.Bounds(), img, b, draw.Src, nil)

	return &decoded{img: img, format: format, gray: gray}, nil
}

// checkSubject fails with extraction_failure when the thumbnail is near uniform.
func checkSubject(gray *image.Gray, minContrast float64) error {
	if minContrast <= 0 {
		minContrast = defaultMinContrast
	}
	var sum, sumSq float64
	for _, p := range gray.Pix {
		v := float64(p)
		sum += v
		sumSq += v * v
	}
	n := float64(len(gray.Pix))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	if math.Sqrt(variance) < minContrast {
		return domain.E(domain.KindExtractionFailure, "embedding.checkSubject", ErrNoSubject)
	}
	return nil
}
