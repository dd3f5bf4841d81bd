// Package bitmap converts raster regions into the packed monochrome format
// the shelf label's display driver consumes, and back.
//
// The device format is column-major: every byte covers eight vertically
// stacked pixels of one column, most significant bit on top, and all byte-rows
// of a column are emitted before the next column starts. A set bit is ink.
package bitmap

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"tinygo.org/x/drivers"
)

// Threshold is the luminance below which a pixel becomes ink.
const Threshold = 150

var (
	black = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Bitmap is an encoded device framebuffer region.
type Bitmap struct {
	Width  int
	Height int
	Data   []byte
}

// ByteRows returns the number of bytes per column for a region height.
func ByteRows(height int) int {
	return (height + 7) / 8
}

// Size returns the payload length for a width x height region.
func Size(width, height int) int {
	if width <= 0 || height <= 0 {
		return 0
	}
	return width * ByteRows(height)
}

// FromBytes wraps a raw payload received for a region of known dimensions.
func FromBytes(width, height int, data []byte) (Bitmap, error) {
	if width < 0 || height < 0 {
		return Bitmap{}, errors.New("bitmap: negative dimensions")
	}
	if want := Size(width, height); len(data) != want {
		return Bitmap{}, fmt.Errorf("bitmap: payload is %d bytes, want %d for %dx%d", len(data), want, width, height)
	}
	return Bitmap{Width: width, Height: height, Data: data}, nil
}

// Encode binarizes img and packs it in device order. Alpha is ignored; the
// average of the straight (non-premultiplied) red, green and blue channels
// decides whether a pixel is ink. Bits below the last image row stay clear.
func Encode(img image.Image) Bitmap {
	r := img.Bounds()
	w, h := r.Dx(), r.Dy()
	out := Bitmap{Width: w, Height: h, Data: make([]byte, 0, Size(w, h))}
	if w <= 0 || h <= 0 {
		return out
	}

	rows := ByteRows(h)
	for x := 0; x < w; x++ {
		for b := 0; b < rows; b++ {
			var v byte
			for k := 0; k < 8; k++ {
				y := b*8 + k
				if y >= h {
					break
				}
				if isInk(img, r.Min.X+x, r.Min.Y+y) {
					v |= 1 << (7 - k)
				}
			}
			out.Data = append(out.Data, v)
		}
	}
	return out
}

func isInk(img image.Image, x, y int) bool {
	var c color.NRGBA
	if n, ok := img.(*image.NRGBA); ok {
		c = n.NRGBAAt(x, y)
	} else {
		c = color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	}
	avg := (int(c.R) + int(c.G) + int(c.B)) / 3
	return avg < Threshold
}

// At reports whether the pixel at (x, y) of the region is ink.
func (b Bitmap) At(x, y int) bool {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return false
	}
	i := x*ByteRows(b.Height) + y/8
	if i >= len(b.Data) {
		return false
	}
	return b.Data[i]&(1<<(7-y%8)) != 0
}

// Decode draws b onto dst with its top-left corner at origin, ink as black
// and background as white. Pixels falling outside dst are skipped.
func Decode(b Bitmap, dst drivers.Displayer, origin image.Point) {
	dw, dh := dst.Size()
	for x := 0; x < b.Width; x++ {
		for y := 0; y < b.Height; y++ {
			px, py := origin.X+x, origin.Y+y
			if px < 0 || py < 0 || px >= int(dw) || py >= int(dh) {
				continue
			}
			c := white
			if b.At(x, y) {
				c = black
			}
			dst.SetPixel(int16(px), int16(py), c)
		}
	}
}
