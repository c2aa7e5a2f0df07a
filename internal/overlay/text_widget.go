package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/bryanchriswhite/ColorChecker/internal/region"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TextWidget draws a line of text produced from the frame state
type TextWidget struct {
	*BaseWidget
	x, y      int
	text      func(st State) string
	textColor color.RGBA
	bgColor   *color.RGBA // Optional background color
	padding   int
}

// NewTextWidget creates a text widget at (x, y). text is called on every
// render.
func NewTextWidget(id string, x, y int, text func(st State) string) *TextWidget {
	return &TextWidget{
		BaseWidget: NewBaseWidget(id, 1.0),
		x:          x,
		y:          y,
		text:       text,
		textColor:  color.RGBA{255, 255, 255, 255},
		bgColor:    &color.RGBA{0, 0, 0, 160},
		padding:    4,
	}
}

func (w *TextWidget) Type() string { return "text" }

// SetBackground sets the background color, nil for none
func (w *TextWidget) SetBackground(c *color.RGBA) { w.bgColor = c }

func (w *TextWidget) Render(img *image.RGBA, st State) error {
	text := w.text(st)
	if !w.IsEnabled() || text == "" {
		return nil
	}

	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil()
	d := &font.Drawer{Face: face}
	textWidthPx := d.MeasureString(text).Ceil()

	if w.bgColor != nil {
		bg := image.NewRGBA(image.Rect(0, 0, textWidthPx+w.padding*2, lineHeight+w.padding*2))
		draw.Draw(bg, bg.Bounds(), &image.Uniform{C: *w.bgColor}, image.Point{}, draw.Src)
		BlendImage(img, bg, w.x, w.y, w.opacity)
	}

	textImg := image.NewRGBA(image.Rect(0, 0, textWidthPx, lineHeight))
	td := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(w.textColor),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: face.Metrics().Ascent},
	}
	td.DrawString(text)
	BlendImage(img, textImg, w.x+w.padding, w.y+w.padding, w.opacity)
	return nil
}

// SwatchWidget draws two filled squares: the reference color and the
// measured average.
type SwatchWidget struct {
	*BaseWidget
	x, y, size int
}

func NewSwatchWidget(id string, x, y, size int) *SwatchWidget {
	return &SwatchWidget{BaseWidget: NewBaseWidget(id, 1.0), x: x, y: y, size: size}
}

func (w *SwatchWidget) Type() string { return "swatch" }

func (w *SwatchWidget) Render(img *image.RGBA, st State) error {
	if !w.IsEnabled() {
		return nil
	}
	for i, c := range []color.RGBA{toRGBA(st.Reference), toRGBA(st.Average)} {
		r := image.Rect(0, 0, w.size, w.size)
		sq := image.NewRGBA(r)
		draw.Draw(sq, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
		BlendImage(img, sq, w.x+i*(w.size+2), w.y, w.opacity)
	}
	return nil
}

func toRGBA(c region.Color) color.RGBA {
	clamp := func(v float64) uint8 {
		switch {
		case v <= 0:
			return 0
		case v >= 255:
			return 255
		}
		return uint8(v + 0.5)
	}
	return color.RGBA{R: clamp(c.R), G: clamp(c.G), B: clamp(c.B), A: 0xff}
}
