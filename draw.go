package photopath

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Card palette.
var (
	colorBackground = color.RGBA{0x0a, 0x0a, 0x0a, 0xff}
	colorDivider    = color.RGBA{0x16, 0x16, 0x16, 0xff}
	colorAccent     = color.RGBA{0xd4, 0x00, 0x00, 0xff}
	colorWhite      = color.RGBA{0xff, 0xff, 0xff, 0xff}
	colorText       = color.RGBA{0xd4, 0xd4, 0xd8, 0xff}
	colorMuted      = color.RGBA{0xa1, 0xa1, 0xaa, 0xff}
	colorSubtle     = color.RGBA{0x71, 0x71, 0x7a, 0xff}
	colorFaint      = color.RGBA{0x52, 0x52, 0x5b, 0xff}
	colorTrack      = color.RGBA{0x27, 0x27, 0x2a, 0xff}
	colorChip       = color.RGBA{0x18, 0x18, 0x1b, 0xff}
	colorCallout    = color.RGBA{0x1e, 0x09, 0x09, 0xff}
	colorCalloutRim = color.RGBA{0x32, 0x08, 0x08, 0xff}
	colorFooter     = color.RGBA{0x11, 0x11, 0x12, 0xff}
)

var (
	builtinFontsOnce sync.Once
	builtinRegular   *opentype.Font
	builtinBold      *opentype.Font
	builtinFontsErr  error
)

func builtinFonts() (*opentype.Font, *opentype.Font, error) {
	builtinFontsOnce.Do(func() {
		builtinRegular, builtinFontsErr = opentype.Parse(goregular.TTF)
		if builtinFontsErr != nil {
			return
		}
		builtinBold, builtinFontsErr = opentype.Parse(gobold.TTF)
	})
	return builtinRegular, builtinBold, builtinFontsErr
}

// cardFaces are the faces one render uses. Faces are not safe for concurrent
// use, so every render builds its own set.
type cardFaces struct {
	brand   font.Face
	caption font.Face
	title   font.Face
	body    font.Face
	label   font.Face
	value   font.Face
	overall font.Face
	small   font.Face
}

func newCardFaces(opts ShareCardOptions) (*cardFaces, error) {
	regular, bold, err := builtinFonts()
	if err != nil {
		return nil, fmt.Errorf("load builtin fonts: %w", err)
	}
	if len(opts.RegularFont) > 0 {
		if regular, err = opentype.Parse(opts.RegularFont); err != nil {
			return nil, fmt.Errorf("parse regular font: %w", err)
		}
	}
	if len(opts.BoldFont) > 0 {
		if bold, err = opentype.Parse(opts.BoldFont); err != nil {
			return nil, fmt.Errorf("parse bold font: %w", err)
		}
	}

	f := &cardFaces{}
	specs := []struct {
		dst  *font.Face
		f    *opentype.Font
		size float64
	}{
		{&f.brand, bold, 22},
		{&f.caption, regular, 16},
		{&f.title, bold, 34},
		{&f.body, regular, 22},
		{&f.label, regular, 18},
		{&f.value, bold, 20},
		{&f.overall, bold, 56},
		{&f.small, regular, 14},
	}
	for _, s := range specs {
		face, err := opentype.NewFace(s.f, &opentype.FaceOptions{Size: s.size, DPI: 72, Hinting: font.HintingNone})
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("build %gpt face: %w", s.size, err)
		}
		*s.dst = face
	}
	return f, nil
}

func (f *cardFaces) Close() {
	for _, face := range []font.Face{f.brand, f.caption, f.title, f.body, f.label, f.value, f.overall, f.small} {
		if face != nil {
			face.Close()
		}
	}
}

func fillRect(dst draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Src)
}

// fillRoundRect fills r with corners of the given radius cut away.
func fillRoundRect(dst *image.RGBA, r image.Rectangle, radius int, c color.RGBA) {
	radius = min(radius, r.Dx()/2, r.Dy()/2)
	if radius <= 0 {
		fillRect(dst, r, c)
		return
	}
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y+radius, r.Max.X, r.Max.Y-radius), c)
	rr := float64(radius * radius)
	for dy := 0; dy < radius; dy++ {
		yc := float64(radius) - float64(dy) - 0.5
		inset := radius - int(math.Round(math.Sqrt(rr-yc*yc)))
		fillRect(dst, image.Rect(r.Min.X+inset, r.Min.Y+dy, r.Max.X-inset, r.Min.Y+dy+1), c)
		fillRect(dst, image.Rect(r.Min.X+inset, r.Max.Y-dy-1, r.Max.X-inset, r.Max.Y-dy), c)
	}
}

// strokeRect draws a 1px outline.
func strokeRect(dst draw.Image, r image.Rectangle, c color.Color) {
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1), c)
	fillRect(dst, image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y), c)
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y), c)
	fillRect(dst, image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y), c)
}

// baseline returns the baseline y that vertically centers face in a line box
// starting at top with height lineHeight.
func baseline(face font.Face, top, lineHeight int) int {
	m := face.Metrics()
	asc, desc := m.Ascent.Round(), m.Descent.Round()
	return top + (lineHeight-(asc+desc))/2 + asc
}

func drawText(dst draw.Image, face font.Face, x, y int, s string, c color.Color) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// drawTextRight draws s so that it ends at right.
func drawTextRight(dst draw.Image, face font.Face, right, y int, s string, c color.Color) {
	w := font.MeasureString(face, s).Round()
	drawText(dst, face, right-w, y, s, c)
}

func textWidth(face font.Face, s string) int {
	return font.MeasureString(face, s).Round()
}
