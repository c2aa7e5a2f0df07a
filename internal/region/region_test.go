package region

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"go.viam.com/test"
)

func uniform(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func TestAverageColorUniform(t *testing.T) {
	c := color.RGBA{R: 37, G: 201, B: 90, A: 255}
	img := uniform(64, 48, c)

	for _, shape := range []Shape{Ellipse, Rectangle} {
		for _, m := range []Marker{
			{Shape: shape, Center: image.Pt(32, 24), Width: 20, Height: 10},
			{Shape: shape, Center: image.Pt(10, 10), Width: 7, Height: 13},
			{Shape: shape, Center: image.Pt(40, 30), Width: 3, Height: 3},
			{Shape: shape, Center: image.Pt(5, 40), Width: 2, Height: 6},
		} {
			e, err := New(img.Rect.Size(), m, Color{}, 10)
			test.That(t, err, test.ShouldBeNil)
			avg, err := e.AverageColor(img)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, avg.R, test.ShouldAlmostEqual, 37, 1e-9)
			test.That(t, avg.G, test.ShouldAlmostEqual, 201, 1e-9)
			test.That(t, avg.B, test.ShouldAlmostEqual, 90, 1e-9)
		}
	}
}

func TestEllipseMask(t *testing.T) {
	e, err := New(image.Pt(20, 20), Marker{Shape: Ellipse, Center: image.Pt(10, 10), Width: 4, Height: 4}, Color{}, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, e.Crop(), test.ShouldResemble, image.Rect(8, 8, 12, 12))
	test.That(t, e.Center(), test.ShouldResemble, image.Pt(2, 2))
	test.That(t, e.MaskCount(), test.ShouldEqual, 11)

	r, err := New(image.Pt(20, 20), Marker{Shape: Rectangle, Center: image.Pt(10, 10), Width: 4, Height: 4}, Color{}, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.MaskCount(), test.ShouldEqual, 16)
}

func TestClampAtEdges(t *testing.T) {
	img := uniform(20, 20, color.RGBA{R: 100, A: 255})
	draw.Draw(img, image.Rect(10, 0, 20, 20), &image.Uniform{C: color.RGBA{R: 200, A: 255}}, image.Point{}, draw.Src)

	t.Run("right edge", func(t *testing.T) {
		e, err := New(img.Rect.Size(), Marker{Shape: Rectangle, Center: image.Pt(19, 10), Width: 10, Height: 4}, Color{}, 1)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, e.Crop(), test.ShouldResemble, image.Rect(14, 8, 20, 12))
		test.That(t, e.Center(), test.ShouldResemble, image.Pt(5, 2))
		avg, err := e.AverageColor(img)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, avg.R, test.ShouldEqual, 200.0)
	})

	t.Run("top left corner ellipse", func(t *testing.T) {
		e, err := New(img.Rect.Size(), Marker{Shape: Ellipse, Center: image.Pt(0, 0), Width: 10, Height: 10}, Color{}, 1)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, e.Crop(), test.ShouldResemble, image.Rect(0, 0, 5, 5))
		test.That(t, e.Center(), test.ShouldResemble, image.Pt(0, 0))
		avg, err := e.AverageColor(img)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, avg.R, test.ShouldEqual, 100.0)
	})

	t.Run("straddling split", func(t *testing.T) {
		e, err := New(img.Rect.Size(), Marker{Shape: Rectangle, Center: image.Pt(10, 10), Width: 10, Height: 10}, Color{}, 1)
		test.That(t, err, test.ShouldBeNil)
		avg, err := e.AverageColor(img)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, avg.R, test.ShouldAlmostEqual, 150, 1e-9)
	})

	t.Run("outside image", func(t *testing.T) {
		e, err := New(img.Rect.Size(), Marker{Shape: Rectangle, Center: image.Pt(100, 100), Width: 10, Height: 10}, Color{}, 1)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, e.MaskCount(), test.ShouldEqual, 0)
		avg, err := e.AverageColor(img)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, avg, test.ShouldResemble, Color{})
	})
}

func TestWithinTolerance(t *testing.T) {
	ref := Color{R: 125, G: 130, B: 142}
	m := Marker{Shape: Ellipse, Center: image.Pt(32, 32), Width: 16, Height: 16}

	e, err := New(image.Pt(64, 64), m, ref, 17)
	test.That(t, err, test.ShouldBeNil)

	avg, ok, err := e.Evaluate(uniform(64, 64, color.RGBA{R: 130, G: 132, B: 150, A: 255}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, avg, test.ShouldResemble, Color{R: 130, G: 132, B: 150})

	ok, err = e.WithinTolerance(uniform(64, 64, color.RGBA{R: 150, G: 130, B: 142, A: 255}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	// exactly at tolerance is outside
	ok, err = e.WithinTolerance(uniform(64, 64, color.RGBA{R: 142, G: 130, B: 142, A: 255}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	ok, err = e.WithinTolerance(uniform(64, 64, color.RGBA{R: 141, G: 113 + 1, B: 125 + 1, A: 255}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
}

func TestColorWithin(t *testing.T) {
	ref := Color{R: 10, G: 10, B: 10}
	test.That(t, Color{R: 10, G: 10, B: 10}.Within(ref, 1), test.ShouldBeTrue)
	test.That(t, Color{R: 10, G: 10, B: 10}.Within(ref, 0), test.ShouldBeFalse)
	test.That(t, Color{R: 11, G: 10, B: 10}.Within(ref, 1), test.ShouldBeFalse)
	test.That(t, Color{R: 10.5, G: 9.5, B: 10}.Within(ref, 1), test.ShouldBeTrue)
}

func TestErrors(t *testing.T) {
	_, err := New(image.Pt(10, 10), Marker{Shape: Shape(7), Width: 2, Height: 2}, Color{}, 1)
	test.That(t, err, test.ShouldWrap, ErrUnknownShape)

	e, err := New(image.Pt(10, 10), Marker{Shape: Rectangle, Center: image.Pt(5, 5), Width: 2, Height: 2}, Color{}, 1)
	test.That(t, err, test.ShouldBeNil)
	_, err = e.AverageColor(image.NewRGBA(image.Rect(0, 0, 11, 10)))
	test.That(t, err, test.ShouldWrap, ErrSizeMismatch)
	_, err = e.WithinTolerance(image.NewRGBA(image.Rect(0, 0, 10, 9)))
	test.That(t, err, test.ShouldWrap, ErrSizeMismatch)
}

func TestColorHex(t *testing.T) {
	test.That(t, Color{R: 255, G: 0, B: 128}.Hex(), test.ShouldEqual, "#ff0080")
	test.That(t, Shape(1).String(), test.ShouldEqual, "rectangle")
}
