package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStreamCreation is returned by Start when the device cannot report
	// its resolutions, configure the stream or allocate buffers.
	ErrStreamCreation = errors.New("stream creation failed")
	// ErrStopped is returned to a consumer waiting on a provider that has
	// been stopped.
	ErrStopped = errors.New("frame provider stopped")
	// ErrNotRunning is returned when stopping a provider twice.
	ErrNotRunning = errors.New("frame provider not running")
	// ErrNoBuffer is returned by Device.Dequeue when a frame was captured but
	// no buffer was enqueued to receive it.
	ErrNoBuffer = errors.New("no buffer enqueued")
	// ErrDeviceClosed is returned by Device.Dequeue once the device is closed
	// or its stream ended.
	ErrDeviceClosed = errors.New("device closed")
)

// PixelFormat of the raw frames. Only NV12 is produced by the devices here.
type PixelFormat string

const FormatNV12 PixelFormat = "NV12"

// Resolution is a frame size supported by a device.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// StreamConfig describes a stream. It is fixed for the lifetime of a Provider.
type StreamConfig struct {
	Width   int         `json:"width"`
	Height  int         `json:"height"`
	Format  PixelFormat `json:"format"`
	Buffers int         `json:"buffers"`
}

// Buffer is a frame buffer owned by exactly one party at a time: the
// device, the provider queues, or the consumer.
type Buffer struct {
	Index     int
	Data      []byte
	Width     int
	Height    int
	Sequence  uint64
	Timestamp time.Time
}

// Device is a video source that fills enqueued buffers with captured frames.
//
// Enqueue and Dequeue are only called from the provider's producer
// goroutine. Close may be called from any goroutine.
type Device interface {
	Name() string
	// Resolutions lists the frame sizes the device can deliver.
	Resolutions(ctx context.Context) ([]Resolution, error)
	// Open configures and starts the stream.
	Open(cfg StreamConfig) error
	// AllocBuffer allocates a buffer sized for the opened stream.
	AllocBuffer() (*Buffer, error)
	// Enqueue hands a buffer to the device for filling.
	Enqueue(b *Buffer) error
	// Dequeue blocks until the next captured frame and returns the buffer
	// holding it.
	Dequeue() (*Buffer, error)
	Close() error
}

// ChooseResolution picks the smallest-area resolution that is at least
// width x height. If none qualifies the request itself is returned.
func ChooseResolution(available []Resolution, width, height int) Resolution {
	best := Resolution{Width: width, Height: height}
	found := false
	for _, r := range available {
		if r.Width < width || r.Height < height {
			continue
		}
		if !found || r.Width*r.Height < best.Width*best.Height {
			best = r
			found = true
		}
	}
	return best
}
