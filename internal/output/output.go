package output

import (
	"image"
)

// Output defines the interface for frame output mechanisms.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a frame to the output. The output must not retain
	// frame after returning.
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	// Width scales frames down to this width. Zero keeps the source size.
	Width   int
	FPS     int
	Quality int
}
