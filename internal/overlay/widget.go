package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/bryanchriswhite/ColorChecker/internal/region"
)

// State is what the widgets visualize for one frame.
type State struct {
	Marker    region.Marker
	Within    bool
	Average   region.Color
	Reference region.Color
	Tolerance uint8
}

// Widget represents a renderable overlay widget
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Type returns the widget type name
	Type() string

	// Render draws the widget onto img
	Render(img *image.RGBA, st State) error

	IsEnabled() bool
	SetEnabled(enabled bool)
}

// BaseWidget provides common functionality for all widgets
type BaseWidget struct {
	id      string
	enabled bool
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, opacity float64) *BaseWidget {
	w := &BaseWidget{id: id, enabled: true}
	w.SetOpacity(opacity)
	return w
}

func (w *BaseWidget) ID() string { return w.id }

func (w *BaseWidget) IsEnabled() bool { return w.enabled }

func (w *BaseWidget) SetEnabled(enabled bool) { w.enabled = enabled }

// SetOpacity sets the widget's opacity, clamped to 0.0..1.0
func (w *BaseWidget) SetOpacity(opacity float64) {
	if opacity < 0.0 {
		opacity = 0.0
	}
	if opacity > 1.0 {
		opacity = 1.0
	}
	w.opacity = opacity
}

// BlendImage draws src over dst at (x, y) with the given opacity.
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	if opacity <= 0 {
		return
	}
	r := src.Bounds().Sub(src.Bounds().Min).Add(image.Pt(x, y))
	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	draw.DrawMask(dst, r, src, src.Bounds().Min, mask, image.Point{}, draw.Over)
}

// Verdict colors used by the widgets.
var (
	ColorWithin  = color.RGBA{R: 0x2e, G: 0xcc, B: 0x40, A: 0xff}
	ColorOutside = color.RGBA{R: 0xff, G: 0x41, B: 0x36, A: 0xff}
)

func verdictColor(within bool) color.RGBA {
	if within {
		return ColorWithin
	}
	return ColorOutside
}
