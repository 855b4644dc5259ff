package embedding

import (
	"context"
	"image"
	"math"
)

const (
	lumaGrid     = 16 // luminance thumbnail side
	cellGrid     = 4  // gradient cells per side
	orientations = 8  // unsigned orientation bins per cell

	// LocalDimensions is the embedding size of LocalExtractor.
	LocalDimensions = lumaGrid*lumaGrid + cellGrid*cellGrid*orientations

	localModel = "local-appearance-v1"
)

// LocalConfig configures LocalExtractor.
type LocalConfig struct {
	MinContrast float64
	MaxPixels   int64
}

// LocalExtractor computes an appearance descriptor in-process: a mean-centred
// 16x16 luminance thumbnail followed by a 4x4 grid of gradient-orientation
// histograms. It needs no model files and is fully deterministic.
type LocalExtractor struct {
	minContrast float64
	maxPixels   int64
}

// NewLocalExtractor creates a LocalExtractor. A nil cfg uses defaults.
func NewLocalExtractor(cfg *LocalConfig) *LocalExtractor {
	e := &LocalExtractor{minContrast: defaultMinContrast, maxPixels: DefaultMaxPixels}
	if cfg != nil && cfg.MinContrast > 0 {
		e.minContrast = cfg.MinContrast
	}
	if cfg != nil && cfg.MaxPixels > 0 {
		e.maxPixels = cfg.MaxPixels
	}
	return e
}

// Dimensions returns LocalDimensions.
func (e *LocalExtractor) Dimensions() int {
	return LocalDimensions
}

// Model returns the descriptor version.
func (e *LocalExtractor) Model() string {
	return localModel
}

// Extract decodes data and returns its L2-normalized descriptor.
func (e *LocalExtractor) Extract(ctx context.Context, data []byte) ([]float32, error) {
	dec, err := decodeImage(ctx, data, e.maxPixels)
	if err != nil {
		return nil, err
	}
	if err := checkSubject(dec.gray, e.minContrast); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	luma := lumaBlock(dec.gray)
	grad := gradientBlock(dec.gray)

	out := make([]float32, 0, LocalDimensions)
	for _, v := range luma {
		out = append(out, float32(v))
	}
	for _, v := range grad {
		out = append(out, float32(v))
	}
	normalizeInPlace(out)
	return out, nil
}

// lumaBlock averages the thumbnail down to lumaGrid x lumaGrid, subtracts the
// mean and normalizes the block.
func lumaBlock(gray *image.Gray) []float64 {
	size := gray.Bounds().Dx()
	step := size / lumaGrid
	block := make([]float64, lumaGrid*lumaGrid)

	var mean float64
	for gy := 0; gy < lumaGrid; gy++ {
		for gx := 0; gx < lumaGrid; gx++ {
			var sum float64
			for y := gy * step; y < (gy+1)*step; y++ {
				row := gray.Pix[y*gray.Stride:]
				for x := gx * step; x < (gx+1)*step; x++ {
					sum += float64(row[x])
				}
			}
			v := sum / float64(step*step)
			block[gy*lumaGrid+gx] = v
			mean += v
		}
	}
	mean /= float64(len(block))
	for i := range block {
		block[i] -= mean
	}
	normalizeBlock(block)
	return block
}

// gradientBlock builds magnitude-weighted orientation histograms over a
// cellGrid x cellGrid partition of the thumbnail.
func gradientBlock(gray *image.Gray) []float64 {
	size := gray.Bounds().Dx()
	cell := size / cellGrid
	hist := make([]float64, cellGrid*cellGrid*orientations)

	at := func(x, y int) float64 {
		if x < 0 {
			x = 0
		} else if x >= size {
			x = size - 1
		}
		if y < 0 {
			y = 0
		} else if y >= size {
			y = size - 1
		}
		return float64(gray.Pix[y*gray.Stride+x])
	}

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := at(x+1, y) - at(x-1, y)
			dy := at(x, y+1) - at(x, y-1)
			mag := math.Hypot(dx, dy)
			if mag == 0 {
				continue
			}
			theta := math.Atan2(dy, dx)
			if theta < 0 {
				theta += math.Pi
			}
			bin := int(theta / math.Pi * orientations)
			if bin >= orientations {
				bin = orientations - 1
			}
			c := (y/cell)*cellGrid + x/cell
			hist[c*orientations+bin] += mag
		}
	}
	normalizeBlock(hist)
	return hist
}

func normalizeBlock(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
