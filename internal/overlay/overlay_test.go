package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/bryanchriswhite/ColorChecker/internal/region"
	"go.viam.com/test"
)

func grayImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{128, 128, 128, 255}}, image.Point{}, draw.Src)
	return img
}

func state(within bool, shape region.Shape) State {
	return State{
		Marker:    region.Marker{Shape: shape, Center: image.Pt(50, 50), Width: 40, Height: 20},
		Within:    within,
		Average:   region.Color{R: 130, G: 132, B: 150},
		Reference: region.Color{R: 125, G: 130, B: 142},
		Tolerance: 17,
	}
}

func TestMarkerWidgetColor(t *testing.T) {
	for _, shape := range []region.Shape{region.Ellipse, region.Rectangle} {
		for _, within := range []bool{true, false} {
			img := grayImage(100, 100)
			test.That(t, NewMarkerWidget("m").Render(img, state(within, shape)), test.ShouldBeNil)

			want := verdictColor(within)
			// left edge of the outline lies on x = 30 for both shapes
			got := img.RGBAAt(30, 50)
			test.That(t, got, test.ShouldResemble, want)

			// center stays untouched
			test.That(t, img.RGBAAt(50, 50), test.ShouldResemble, color.RGBA{128, 128, 128, 255})
		}
	}
}

func TestDisabledWidgetDrawsNothing(t *testing.T) {
	img := grayImage(100, 100)
	w := NewMarkerWidget("m")
	w.SetEnabled(false)
	test.That(t, w.Render(img, state(true, region.Ellipse)), test.ShouldBeNil)
	test.That(t, img.Pix, test.ShouldResemble, grayImage(100, 100).Pix)
}

func TestSwatchWidget(t *testing.T) {
	img := grayImage(100, 100)
	test.That(t, NewSwatchWidget("s", 0, 0, 10).Render(img, state(true, region.Ellipse)), test.ShouldBeNil)
	test.That(t, img.RGBAAt(5, 5), test.ShouldResemble, color.RGBA{125, 130, 142, 255})
	test.That(t, img.RGBAAt(17, 5), test.ShouldResemble, color.RGBA{130, 132, 150, 255})
}

func TestBlendImageOpacity(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 4, 4))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.RGBA{0, 0, 0, 255}}, image.Point{}, draw.Src)
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	draw.Draw(src, src.Bounds(), &image.Uniform{C: color.RGBA{255, 255, 255, 255}}, image.Point{}, draw.Src)

	BlendImage(dst, src, 1, 1, 1.0)
	test.That(t, dst.RGBAAt(1, 1), test.ShouldResemble, color.RGBA{255, 255, 255, 255})
	test.That(t, dst.RGBAAt(0, 0), test.ShouldResemble, color.RGBA{0, 0, 0, 255})

	BlendImage(dst, src, 3, 3, 0)
	test.That(t, dst.RGBAAt(3, 3), test.ShouldResemble, color.RGBA{0, 0, 0, 255})
}

func TestManagerOrderAndIDs(t *testing.T) {
	m := NewManager()
	test.That(t, m.AddWidget(NewMarkerWidget("a")), test.ShouldBeNil)
	test.That(t, m.AddWidget(NewMarkerWidget("a")), test.ShouldNotBeNil)
	test.That(t, m.AddWidget(NewSwatchWidget("b", 0, 0, 4)), test.ShouldBeNil)

	w, ok := m.GetWidget("b")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, w.Type(), test.ShouldEqual, "swatch")

	test.That(t, m.RemoveWidget("a"), test.ShouldBeNil)
	test.That(t, m.RemoveWidget("a"), test.ShouldNotBeNil)
	_, ok = m.GetWidget("a")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestManagerDisabled(t *testing.T) {
	m := NewDefaultManager()
	m.SetEnabled(false)
	img := grayImage(100, 100)
	test.That(t, m.Render(img, state(false, region.Ellipse)), test.ShouldBeNil)
	test.That(t, img.Pix, test.ShouldResemble, grayImage(100, 100).Pix)

	m.SetEnabled(true)
	test.That(t, m.Render(img, state(false, region.Ellipse)), test.ShouldBeNil)
	test.That(t, img.Pix, test.ShouldNotResemble, grayImage(100, 100).Pix)
}

func TestStatusText(t *testing.T) {
	s := StatusText(state(true, region.Ellipse))
	test.That(t, s, test.ShouldStartWith, "OK ")
	test.That(t, s, test.ShouldContainSubstring, "tol 17")
	test.That(t, StatusText(state(false, region.Ellipse)), test.ShouldStartWith, "OUT ")
}
