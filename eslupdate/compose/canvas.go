package compose

import (
	"image"
	"image/color"

	"tinygo.org/x/drivers"
)

var (
	paper = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	ink   = color.NRGBA{R: 0, G: 0, B: 0, A: 255}
)

// Canvas is an in-memory framebuffer that satisfies drivers.Displayer, so
// anything written for a TinyGo display can also draw into an image.
type Canvas struct {
	img *image.NRGBA
}

var _ drivers.Displayer = (*Canvas)(nil)

// NewCanvas returns a white canvas of the given size.
func NewCanvas(width, height int) *Canvas {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = paper.R
		img.Pix[i+1] = paper.G
		img.Pix[i+2] = paper.B
		img.Pix[i+3] = paper.A
	}
	return &Canvas{img: img}
}

// NewLabelCanvas returns a blank canvas the size of the full label.
func NewLabelCanvas() *Canvas {
	return NewCanvas(CanvasWidth, CanvasHeight)
}

// Size returns the canvas dimensions.
func (c *Canvas) Size() (x, y int16) {
	b := c.img.Bounds()
	return int16(b.Dx()), int16(b.Dy())
}

// SetPixel paints one pixel. Out of range coordinates are ignored.
func (c *Canvas) SetPixel(x, y int16, col color.RGBA) {
	c.img.Set(int(x), int(y), col)
}

// Display is a no-op; the canvas has no backing device.
func (c *Canvas) Display() error { return nil }

// Image exposes the canvas pixels.
func (c *Canvas) Image() *image.NRGBA { return c.img }
