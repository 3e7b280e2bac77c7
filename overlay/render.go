package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/unkn0wn-root/voxserve/volume"
)

var contourColor = color.NRGBA{R: 0xff, A: 0xff}

// RenderSlice encodes a normalized slice as a grayscale PNG. Encoding is
// deterministic, so repeated renders of the same slice are byte-identical.
func RenderSlice(s *volume.Slice) ([]byte, error) {
	if s == nil || s.W <= 0 || s.H <= 0 || len(s.Pix) != s.W*s.H {
		return nil, fmt.Errorf("overlay: invalid slice")
	}
	img := image.NewGray(image.Rect(0, 0, s.W, s.H))
	for y := 0; y < s.H; y++ {
		for x := 0; x < s.W; x++ {
			v := s.At(x, y)
			if v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v*255 + 0.5)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("overlay: encode slice png: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderOverlay draws contour polygons in red over a base slice PNG and
// returns the composed PNG. Base and contours are independently cacheable;
// this is the cheap final composition step.
func RenderOverlay(basePNG []byte, contours ContourSet) ([]byte, error) {
	base, err := png.Decode(bytes.NewReader(basePNG))
	if err != nil {
		return nil, fmt.Errorf("overlay: decode base png: %w", err)
	}
	b := base.Bounds()
	img := image.NewNRGBA(b)
	draw.Draw(img, b, base, b.Min, draw.Src)

	for _, poly := range contours {
		n := len(poly)
		if n == 0 {
			continue
		}
		if n == 1 {
			setPixel(img, int(poly[0][0]), int(poly[0][1]))
			continue
		}
		for i := 0; i < n; i++ {
			p, q := poly[i], poly[(i+1)%n]
			drawLine(img, int(p[0]), int(p[1]), int(q[0]), int(q[1]))
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("overlay: encode overlay png: %w", err)
	}
	return buf.Bytes(), nil
}

func setPixel(img *image.NRGBA, x, y int) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetNRGBA(x, y, contourColor)
	}
}

// drawLine rasterizes a segment with Bresenham's algorithm.
func drawLine(img *image.NRGBA, x0, y0, x1, y1 int) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		setPixel(img, x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
