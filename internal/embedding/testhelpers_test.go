package embedding

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

// pngBytes encodes an RGBA image produced by fill.
func pngBytes(t *testing.T, w, h int, fill func(x, y int) color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill(x, y))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func blankPNG(t *testing.T) []byte {
	return pngBytes(t, 40, 40, func(int, int) color.Color { return color.White })
}

// facePNG draws a crude face: dark disc, two light eyes and a mouth bar.
func facePNG(t *testing.T, shift int) []byte {
	return pngBytes(t, 96, 96, func(x, y int) color.Color {
		cx, cy := 48+shift, 48
		dx, dy := x-cx, y-cy
		switch {
		case (dx+14)*(dx+14)+(dy+10)*(dy+10) < 36, (dx-14)*(dx-14)+(dy+10)*(dy+10) < 36:
			return color.RGBA{250, 250, 250, 255}
		case dy > 12 && dy < 18 && dx > -16 && dx < 16:
			return color.RGBA{120, 20, 20, 255}
		case dx*dx+dy*dy < 35*35:
			return color.RGBA{200, 150, 110, 255}
		default:
			return color.RGBA{30, 60, 120, 255}
		}
	})
}

func stripesPNG(t *testing.T) []byte {
	return pngBytes(t, 80, 80, func(x, _ int) color.Color {
		if (x/8)%2 == 0 {
			return color.Black
		}
		return color.White
	})
}
