package compose

import (
	"context"
	"image"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/harveysanders/esllabel/eslupdate/markup"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Text placement inside the label. Lines sit in the description zone and
// the price in the price zone so the captured regions carry the text.
const (
	lineScale   = 1.5
	linePitch   = 30
	priceScale  = 3.0
	centsScale  = 2.0
	tagIDScale  = 1.0
	zonePadding = 4
	tagIDX      = 70
	tagIDY      = 213
)

// Composer renders label fields onto a white 416x240 canvas using the
// built-in 7x13 bitmap face.
type Composer struct {
	Fields markup.Fields
}

// Render draws the composition. Description lines are cut to their visible
// budget first, and bold spans are overstruck by one pixel.
func (c Composer) Render(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs := c.Fields.Limited()
	canvas := NewLabelCanvas()
	dst := canvas.Image()

	for i, line := range fs.Lines() {
		at := image.Pt(DescriptionRect.Min.X+zonePadding, DescriptionRect.Min.Y+zonePadding+i*linePitch)
		for _, sp := range markup.Parse(line) {
			at.X += drawText(dst, sp.Text, at, lineScale, sp.Bold)
		}
	}

	whole, cents := FormatPrice(fs.Price)
	at := image.Pt(PriceRect.Min.X+zonePadding, PriceRect.Min.Y+zonePadding)
	at.X += drawText(dst, "$"+whole, at, priceScale, true)
	drawText(dst, cents, at, centsScale, true)

	drawText(dst, fs.TagID, image.Pt(tagIDX, tagIDY), tagIDScale, false)

	return dst, nil
}

// numericPrefix matches the leading decimal number of a price, so "3.49 EUR"
// reads as 3.49.
var numericPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// ParsePrice reads the leading number of s. Input with no leading number,
// or one too large to be finite, reads as zero.
func ParsePrice(s string) float64 {
	m := numericPrefix.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}

// FormatPrice splits a price into its whole and two-digit decimal parts.
func FormatPrice(s string) (whole, cents string) {
	v := ParsePrice(s)
	whole, cents, _ = strings.Cut(strconv.FormatFloat(v, 'f', 2, 64), ".")
	return whole, cents
}

// drawText rasterizes s at 1x and scales it onto dst with nearest-neighbour
// sampling so glyph edges stay hard. It returns the drawn width.
func drawText(dst *image.NRGBA, s string, at image.Point, scale float64, bold bool) int {
	if s == "" {
		return 0
	}
	face := basicfont.Face7x13
	m := face.Metrics()
	ascent := m.Ascent.Ceil()
	w := font.MeasureString(face, s).Ceil()
	h := ascent + m.Descent.Ceil()
	if bold {
		w++
	}

	mask := image.NewNRGBA(image.Rect(0, 0, w, h))
	d := font.Drawer{
		Dst:  mask,
		Src:  image.NewUniform(ink),
		Face: face,
		Dot:  fixed.P(0, ascent),
	}
	d.DrawString(s)
	if bold {
		d.Dot = fixed.P(1, ascent)
		d.DrawString(s)
	}

	sw := int(float64(w) * scale)
	sh := int(float64(h) * scale)
	xdraw.NearestNeighbor.Scale(dst, image.Rect(at.X, at.Y, at.X+sw, at.Y+sh), mask, mask.Bounds(), xdraw.Over, nil)
	return sw
}
