package capture

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/bryanchriswhite/ColorChecker/internal/logger"
)

// Source names accepted by OpenDevice.
const (
	SourceSynthetic = "synthetic"
	SourceGStreamer = "gstreamer"
	SourceX11       = "x11"
)

// DeviceOptions selects and configures a capture backend.
type DeviceOptions struct {
	Source string
	// Device is the V4L2 node for gstreamer or the X display for x11.
	Device string
	FPS    int
	// Color is the frame color of the synthetic source.
	Color color.RGBA
	// Origin is the top-left corner of the x11 capture area.
	Origin image.Point
}

// OpenDevice routes to the backend named by opts.Source.
func OpenDevice(opts DeviceOptions) (Device, error) {
	log := logger.WithComponent("capture-router")

	switch strings.ToLower(opts.Source) {
	case "", SourceSynthetic:
		log.Info().Int("fps", opts.FPS).Msg("Using synthetic capture source")
		return NewSyntheticDevice(opts.FPS, opts.Color), nil
	case SourceGStreamer:
		dev := opts.Device
		if dev == "" {
			dev = "/dev/video0"
		}
		log.Info().Str("device", dev).Msg("Using GStreamer capture source")
		return NewGStreamerDevice(dev, opts.FPS), nil
	case SourceX11:
		d, err := NewX11Device(opts.Device, opts.Origin, opts.FPS)
		if err != nil {
			return nil, err
		}
		log.Info().Str("display", opts.Device).Msg("Using X11 capture source")
		return d, nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", opts.Source)
	}
}
