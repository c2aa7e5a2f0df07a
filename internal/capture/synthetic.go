package capture

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/bryanchriswhite/ColorChecker/internal/yuv"
)

var errInjected = errors.New("injected device fault")

// SyntheticDevice produces uniform color frames at a fixed rate. It stands
// in for a camera in demos and tests.
type SyntheticDevice struct {
	resolutions []Resolution
	interval    time.Duration

	mu          sync.Mutex
	color       color.RGBA
	cfg         StreamConfig
	queue       []*Buffer
	allocated   int
	seq         uint64
	failFetch   int
	failEnqueue int
	failRes     error

	closeOnce sync.Once
	closed    chan struct{}
}

// SyntheticResolutions are reported by NewSyntheticDevice.
var SyntheticResolutions = []Resolution{
	{320, 240}, {640, 360}, {640, 480}, {800, 600}, {1280, 720}, {1920, 1080},
}

// NewSyntheticDevice returns a device delivering fps frames per second of
// color c. fps <= 0 delivers frames as fast as they are dequeued.
func NewSyntheticDevice(fps int, c color.RGBA) *SyntheticDevice {
	d := &SyntheticDevice{
		resolutions: SyntheticResolutions,
		color:       c,
		closed:      make(chan struct{}),
	}
	if fps > 0 {
		d.interval = time.Second / time.Duration(fps)
	}
	return d
}

// WithResolutions replaces the reported resolution list.
func (d *SyntheticDevice) WithResolutions(r ...Resolution) *SyntheticDevice {
	d.resolutions = r
	return d
}

func (d *SyntheticDevice) Name() string { return "synthetic" }

func (d *SyntheticDevice) Resolutions(ctx context.Context) ([]Resolution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failRes != nil {
		return nil, d.failRes
	}
	return append([]Resolution(nil), d.resolutions...), nil
}

func (d *SyntheticDevice) Open(cfg StreamConfig) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", cfg.Width, cfg.Height)
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	return nil
}

func (d *SyntheticDevice) AllocBuffer() (*Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.Width == 0 {
		return nil, errors.New("device not opened")
	}
	b := &Buffer{
		Index:  d.allocated,
		Data:   make([]byte, yuv.FrameSize(d.cfg.Width, d.cfg.Height)),
		Width:  d.cfg.Width,
		Height: d.cfg.Height,
	}
	d.allocated++
	return b, nil
}

func (d *SyntheticDevice) Enqueue(b *Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failEnqueue > 0 {
		d.failEnqueue--
		return errInjected
	}
	d.queue = append(d.queue, b)
	return nil
}

func (d *SyntheticDevice) Dequeue() (*Buffer, error) {
	if d.interval > 0 {
		t := time.NewTimer(d.interval)
		select {
		case <-t.C:
		case <-d.closed:
			t.Stop()
			return nil, ErrDeviceClosed
		}
	} else {
		select {
		case <-d.closed:
			return nil, ErrDeviceClosed
		default:
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failFetch > 0 {
		d.failFetch--
		return nil, errInjected
	}
	d.seq++
	if len(d.queue) == 0 {
		return nil, ErrNoBuffer
	}
	b := d.queue[0]
	d.queue = d.queue[1:]
	if err := yuv.Fill(b.Data, b.Width, b.Height, d.color); err != nil {
		return nil, err
	}
	b.Sequence = d.seq
	b.Timestamp = time.Now()
	return b, nil
}

func (d *SyntheticDevice) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

// SetColor changes the color of subsequent frames.
func (d *SyntheticDevice) SetColor(c color.RGBA) {
	d.mu.Lock()
	d.color = c
	d.mu.Unlock()
}

// FailFetches makes the next n Dequeue calls fail.
func (d *SyntheticDevice) FailFetches(n int) {
	d.mu.Lock()
	d.failFetch = n
	d.mu.Unlock()
}

// FailEnqueues makes the next n Enqueue calls fail.
func (d *SyntheticDevice) FailEnqueues(n int) {
	d.mu.Lock()
	d.failEnqueue = n
	d.mu.Unlock()
}

// FailResolutions makes Resolutions return err.
func (d *SyntheticDevice) FailResolutions(err error) {
	d.mu.Lock()
	d.failRes = err
	d.mu.Unlock()
}

// Queued returns the number of buffers currently enqueued.
func (d *SyntheticDevice) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Allocated returns the number of buffers allocated so far.
func (d *SyntheticDevice) Allocated() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated
}
