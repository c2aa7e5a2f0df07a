// Package region computes the mean color of a marked area of an image and
// tests it against a reference color with a per-channel tolerance.
package region

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

var (
	// ErrSizeMismatch is returned when an image does not have the size the
	// evaluator was built for.
	ErrSizeMismatch = errors.New("image size does not match evaluator")
	// ErrUnknownShape is returned for shape values other than Ellipse and Rectangle.
	ErrUnknownShape = errors.New("unknown marker shape")
)

// Shape selects the mask geometry.
type Shape int

const (
	Ellipse   Shape = 0
	Rectangle Shape = 1
)

func (s Shape) String() string {
	switch s {
	case Ellipse:
		return "ellipse"
	case Rectangle:
		return "rectangle"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Valid reports whether s is a known shape.
func (s Shape) Valid() bool {
	return s == Ellipse || s == Rectangle
}

// Marker is the configured area of interest in image coordinates.
type Marker struct {
	Shape  Shape       `json:"shape"`
	Center image.Point `json:"center"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
}

// Bounds returns the unclamped rectangle covered by the marker.
func (m Marker) Bounds() image.Rectangle {
	return image.Rect(
		m.Center.X-m.Width/2, m.Center.Y-m.Height/2,
		m.Center.X+m.Width/2, m.Center.Y+m.Height/2,
	)
}

// Color is an RGB triple with real-valued channels in 0..255.
type Color struct {
	R float64 `json:"R"`
	G float64 `json:"G"`
	B float64 `json:"B"`
}

// Hex formats the color as #rrggbb.
func (c Color) Hex() string {
	return colorful.Color{R: c.R / 255, G: c.G / 255, B: c.B / 255}.Clamped().Hex()
}

func (c Color) String() string {
	return fmt.Sprintf("(%.1f, %.1f, %.1f)", c.R, c.G, c.B)
}

// Within reports whether every channel of c differs from ref by strictly
// less than tol.
func (c Color) Within(ref Color, tol uint8) bool {
	t := float64(tol)
	return math.Abs(ref.R-c.R) < t &&
		math.Abs(ref.G-c.G) < t &&
		math.Abs(ref.B-c.B) < t
}

// Evaluator holds the crop window and mask derived from a marker for one
// image size. It is immutable after New and safe for concurrent reads.
type Evaluator struct {
	size      image.Point
	marker    Marker
	crop      image.Rectangle
	center    image.Point
	mask      []bool
	count     int
	reference Color
	tolerance uint8
}

// New builds an evaluator for images of the given size. A marker reaching
// past the image edges is clamped to the visible part.
func New(size image.Point, m Marker, reference Color, tolerance uint8) (*Evaluator, error) {
	if !m.Shape.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownShape, int(m.Shape))
	}
	if m.Width < 0 || m.Height < 0 {
		return nil, fmt.Errorf("invalid marker size %dx%d", m.Width, m.Height)
	}

	crop := m.Bounds().Intersect(image.Rectangle{Max: size})
	e := &Evaluator{
		size:      size,
		marker:    m,
		crop:      crop,
		center:    m.Center.Sub(crop.Min),
		mask:      make([]bool, crop.Dx()*crop.Dy()),
		reference: reference,
		tolerance: tolerance,
	}

	a, b := int64(m.Width/2), int64(m.Height/2)
	w := crop.Dx()
	for y := 0; y < crop.Dy(); y++ {
		for x := 0; x < w; x++ {
			in := true
			if m.Shape == Ellipse {
				in = insideEllipse(int64(x-e.center.X), int64(y-e.center.Y), a, b)
			}
			if in {
				e.mask[y*w+x] = true
				e.count++
			}
		}
	}
	return e, nil
}

// insideEllipse tests (dx/a)^2 + (dy/b)^2 <= 1 in integers. A zero axis
// collapses the ellipse onto a line segment.
func insideEllipse(dx, dy, a, b int64) bool {
	switch {
	case a == 0 && b == 0:
		return dx == 0 && dy == 0
	case a == 0:
		return dx == 0 && dy*dy <= b*b
	case b == 0:
		return dy == 0 && dx*dx <= a*a
	}
	return dx*dx*b*b+dy*dy*a*a <= a*a*b*b
}

// Size returns the image size the evaluator was built for.
func (e *Evaluator) Size() image.Point { return e.size }

// Marker returns the marker the evaluator was built from.
func (e *Evaluator) Marker() Marker { return e.marker }

// Crop returns the clamped crop window in image coordinates.
func (e *Evaluator) Crop() image.Rectangle { return e.crop }

// Center returns the marker center relative to the crop origin.
func (e *Evaluator) Center() image.Point { return e.center }

// MaskCount returns the number of pixels inside the mask.
func (e *Evaluator) MaskCount() int { return e.count }

// Reference returns the reference color.
func (e *Evaluator) Reference() Color { return e.reference }

// Tolerance returns the per-channel tolerance.
func (e *Evaluator) Tolerance() uint8 { return e.tolerance }

// AverageColor returns the mean color of the masked pixels. An empty mask
// yields a zero color.
func (e *Evaluator) AverageColor(img *image.RGBA) (Color, error) {
	if got := img.Rect.Size(); got != e.size {
		return Color{}, fmt.Errorf("%w: got %v, want %v", ErrSizeMismatch, got, e.size)
	}
	if e.count == 0 {
		return Color{}, nil
	}

	var r, g, b uint64
	w := e.crop.Dx()
	for y := 0; y < e.crop.Dy(); y++ {
		off := img.PixOffset(img.Rect.Min.X+e.crop.Min.X, img.Rect.Min.Y+e.crop.Min.Y+y)
		row := img.Pix[off : off+w*4]
		mrow := e.mask[y*w : (y+1)*w]
		for x, in := range mrow {
			if !in {
				continue
			}
			p := row[x*4 : x*4+3]
			r += uint64(p[0])
			g += uint64(p[1])
			b += uint64(p[2])
		}
	}
	n := float64(e.count)
	return Color{R: float64(r) / n, G: float64(g) / n, B: float64(b) / n}, nil
}

// WithinTolerance reports whether the average color of img is within
// tolerance of the reference on all three channels.
func (e *Evaluator) WithinTolerance(img *image.RGBA) (bool, error) {
	_, ok, err := e.Evaluate(img)
	return ok, err
}

// Evaluate returns the average color together with the tolerance verdict.
func (e *Evaluator) Evaluate(img *image.RGBA) (Color, bool, error) {
	avg, err := e.AverageColor(img)
	if err != nil {
		return Color{}, false, err
	}
	return avg, avg.Within(e.reference, e.tolerance), nil
}
