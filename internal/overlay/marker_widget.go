package overlay

import (
	"image"

	"github.com/bryanchriswhite/ColorChecker/internal/region"
	"github.com/fogleman/gg"
)

// MarkerWidget outlines the evaluated region, green when the color is
// within tolerance and red otherwise.
type MarkerWidget struct {
	*BaseWidget
	lineWidth float64
}

// NewMarkerWidget creates a marker outline widget
func NewMarkerWidget(id string) *MarkerWidget {
	return &MarkerWidget{BaseWidget: NewBaseWidget(id, 1.0), lineWidth: 2}
}

func (w *MarkerWidget) Type() string { return "marker" }

func (w *MarkerWidget) Render(img *image.RGBA, st State) error {
	if !w.IsEnabled() {
		return nil
	}

	m := st.Marker
	dc := gg.NewContextForRGBA(img)
	path := func() {
		cx, cy := float64(m.Center.X), float64(m.Center.Y)
		rx, ry := float64(m.Width/2), float64(m.Height/2)
		if m.Shape == region.Rectangle {
			dc.DrawRectangle(cx-rx, cy-ry, 2*rx, 2*ry)
		} else {
			dc.DrawEllipse(cx, cy, rx, ry)
		}
	}

	// dark halo keeps the outline visible on light backgrounds
	path()
	dc.SetRGBA255(0, 0, 0, int(w.opacity*255))
	dc.SetLineWidth(w.lineWidth + 2)
	dc.Stroke()

	c := verdictColor(st.Within)
	path()
	dc.SetRGBA255(int(c.R), int(c.G), int(c.B), int(w.opacity*255))
	dc.SetLineWidth(w.lineWidth)
	dc.Stroke()
	return nil
}
