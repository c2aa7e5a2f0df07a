// Package yuv converts between NV12 frame buffers and RGBA images using the
// BT.601 limited-range matrix (the same fixed conversion camera pipelines and
// OpenCV's COLOR_YUV2BGR_NV12 apply).
package yuv

import (
	"fmt"
	"image"
	"image/color"
)

// FrameSize returns the number of bytes an NV12 frame of w x h occupies.
func FrameSize(w, h int) int {
	cw, ch := chromaSize(w, h)
	return w*h + 2*cw*ch
}

func chromaSize(w, h int) (int, int) {
	return (w + 1) / 2, (h + 1) / 2
}

func clamp(v int32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// ToRGB converts a single limited-range YCbCr sample to RGB.
func ToRGB(y, u, v uint8) (uint8, uint8, uint8) {
	c := int32(y) - 16
	if c < 0 {
		c = 0
	}
	d := int32(u) - 128
	e := int32(v) - 128
	r := (298*c + 409*e + 128) >> 8
	g := (298*c - 100*d - 208*e + 128) >> 8
	b := (298*c + 516*d + 128) >> 8
	return clamp(r), clamp(g), clamp(b)
}

// FromRGB converts an RGB sample to limited-range YCbCr.
func FromRGB(r, g, b uint8) (uint8, uint8, uint8) {
	R, G, B := int32(r), int32(g), int32(b)
	y := ((66*R + 129*G + 25*B + 128) >> 8) + 16
	u := ((-38*R - 74*G + 112*B + 128) >> 8) + 128
	v := ((112*R - 94*G - 18*B + 128) >> 8) + 128
	return clamp(y), clamp(u), clamp(v)
}

// ToRGBA decodes the NV12 frame in src into dst. dst must be exactly w x h.
func ToRGBA(dst *image.RGBA, src []byte, w, h int) error {
	if dst.Rect.Dx() != w || dst.Rect.Dy() != h {
		return fmt.Errorf("destination is %dx%d, frame is %dx%d", dst.Rect.Dx(), dst.Rect.Dy(), w, h)
	}
	if len(src) < FrameSize(w, h) {
		return fmt.Errorf("nv12 buffer too short: %d < %d", len(src), FrameSize(w, h))
	}

	cw, _ := chromaSize(w, h)
	uv := src[w*h:]
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		uvRow := uv[(y/2)*cw*2:]
		for x := 0; x < w; x++ {
			ci := (x / 2) * 2
			r, g, b := ToRGB(src[y*w+x], uvRow[ci], uvRow[ci+1])
			o := x * 4
			row[o] = r
			row[o+1] = g
			row[o+2] = b
			row[o+3] = 0xff
		}
	}
	return nil
}

// FromRGBA encodes img into the NV12 buffer dst. Chroma is taken from the
// top-left pixel of each 2x2 block.
func FromRGBA(dst []byte, img *image.RGBA) error {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if len(dst) < FrameSize(w, h) {
		return fmt.Errorf("nv12 buffer too short: %d < %d", len(dst), FrameSize(w, h))
	}

	cw, _ := chromaSize(w, h)
	uv := dst[w*h:]
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			o := x * 4
			Y, U, V := FromRGB(row[o], row[o+1], row[o+2])
			dst[y*w+x] = Y
			if y%2 == 0 && x%2 == 0 {
				ci := (y/2)*cw*2 + x
				uv[ci] = U
				uv[ci+1] = V
			}
		}
	}
	return nil
}

// Fill writes a uniform color frame of w x h into dst.
func Fill(dst []byte, w, h int, c color.RGBA) error {
	n := FrameSize(w, h)
	if len(dst) < n {
		return fmt.Errorf("nv12 buffer too short: %d < %d", len(dst), n)
	}
	Y, U, V := FromRGB(c.R, c.G, c.B)
	for i := 0; i < w*h; i++ {
		dst[i] = Y
	}
	for i := w * h; i+1 < n; i += 2 {
		dst[i] = U
		dst[i+1] = V
	}
	return nil
}
