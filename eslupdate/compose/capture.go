// Package compose renders the full label composition and cuts it into the
// regions the shelf label updates independently.
package compose

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// Logical size of the full label composition, in device pixels.
const (
	CanvasWidth  = 416
	CanvasHeight = 240
)

// Printable zones of the physical label. These offsets match the firmware's
// draw positions and must not be derived from the layout.
var (
	DescriptionRect = image.Rect(10, 80, 10+215, 80+92)
	PriceRect       = image.Rect(265, 90, 265+121, 90+58)
)

// ErrCanvasSize is returned when a rendered composition does not cover the
// full canvas.
var ErrCanvasSize = errors.New("compose: rendered raster smaller than canvas")

// Renderer produces the full 416x240 label composition.
type Renderer interface {
	Render(ctx context.Context) (image.Image, error)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(ctx context.Context) (image.Image, error)

func (f RenderFunc) Render(ctx context.Context) (image.Image, error) { return f(ctx) }

// Region is an immutable snapshot of part of the composition. Image bounds
// start at (0, 0); Origin locates it on the parent canvas.
type Region struct {
	Name   string
	Origin image.Point
	Image  *image.NRGBA
}

// Width returns the region width in pixels.
func (r Region) Width() int { return r.Image.Bounds().Dx() }

// Height returns the region height in pixels.
func (r Region) Height() int { return r.Image.Bounds().Dy() }

// Regions holds both captured zones of one composition.
type Regions struct {
	Description Region
	Price       Region
}

// Capture renders the composition once and crops the description and price
// zones out of it. Nothing is returned unless both crops succeed.
func Capture(ctx context.Context, r Renderer) (Regions, error) {
	src, err := r.Render(ctx)
	if err != nil {
		return Regions{}, fmt.Errorf("compose: render: %w", err)
	}
	if src == nil {
		return Regions{}, errors.New("compose: renderer returned no raster")
	}
	b := src.Bounds()
	if b.Dx() < CanvasWidth || b.Dy() < CanvasHeight {
		return Regions{}, fmt.Errorf("%w: got %dx%d", ErrCanvasSize, b.Dx(), b.Dy())
	}
	return Regions{
		Description: Crop(src, "description", DescriptionRect),
		Price:       Crop(src, "price", PriceRect),
	}, nil
}

// Crop copies rect, given in canvas coordinates, out of src.
func Crop(src image.Image, name string, rect image.Rectangle) Region {
	off := src.Bounds().Min
	dst := image.NewNRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			dst.Set(x, y, src.At(off.X+rect.Min.X+x, off.Y+rect.Min.Y+y))
		}
	}
	return Region{Name: name, Origin: rect.Min, Image: dst}
}
