package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/ColorChecker/internal/logger"
	"github.com/bryanchriswhite/ColorChecker/internal/yuv"
)

// X11Device grabs a region of the X11 root window, e.g. an HMI panel showing
// indicator lamps, and delivers it as NV12 frames.
type X11Device struct {
	display  string
	origin   image.Point
	interval time.Duration

	mu      sync.Mutex
	conn    *xgb.Conn
	root    xproto.Window
	screen  *xproto.ScreenInfo
	cfg     StreamConfig
	rgba    *image.RGBA
	queue   []*Buffer
	nextIdx int
	seq     uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewX11Device connects to display (empty for $DISPLAY) and captures the
// area starting at origin fps times per second.
func NewX11Device(display string, origin image.Point, fps int) (*X11Device, error) {
	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	screen := xproto.Setup(conn).DefaultScreen(conn)

	d := &X11Device{
		display:  display,
		origin:   origin,
		interval: time.Second / 10,
		conn:     conn,
		root:     screen.Root,
		screen:   screen,
		closed:   make(chan struct{}),
	}
	if fps > 0 {
		d.interval = time.Second / time.Duration(fps)
	}
	return d, nil
}

func (d *X11Device) Name() string { return "x11" }

// Resolutions reports the area left of the origin and its halves and quarters.
func (d *X11Device) Resolutions(ctx context.Context) ([]Resolution, error) {
	w := int(d.screen.WidthInPixels) - d.origin.X
	h := int(d.screen.HeightInPixels) - d.origin.Y
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("origin %v outside screen %dx%d", d.origin, d.screen.WidthInPixels, d.screen.HeightInPixels)
	}
	return []Resolution{{w / 4, h / 4}, {w / 2, h / 2}, {w, h}}, nil
}

func (d *X11Device) Open(cfg StreamConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	d.rgba = image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	logger.WithComponent("x11").Info().
		Int("x", d.origin.X).Int("y", d.origin.Y).
		Int("width", cfg.Width).Int("height", cfg.Height).
		Msg("X11 capture area configured")
	return nil
}

func (d *X11Device) AllocBuffer() (*Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rgba == nil {
		return nil, errors.New("device not opened")
	}
	b := &Buffer{
		Index:  d.nextIdx,
		Data:   make([]byte, yuv.FrameSize(d.cfg.Width, d.cfg.Height)),
		Width:  d.cfg.Width,
		Height: d.cfg.Height,
	}
	d.nextIdx++
	return b, nil
}

func (d *X11Device) Enqueue(b *Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, b)
	return nil
}

func (d *X11Device) Dequeue() (*Buffer, error) {
	t := time.NewTimer(d.interval)
	select {
	case <-t.C:
	case <-d.closed:
		t.Stop()
		return nil, ErrDeviceClosed
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	if len(d.queue) == 0 {
		return nil, ErrNoBuffer
	}

	reply, err := xproto.GetImage(
		d.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(d.root),
		int16(d.origin.X), int16(d.origin.Y),
		uint16(d.cfg.Width), uint16(d.cfg.Height),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	bgraToRGBA(d.rgba, reply.Data)

	b := d.queue[0]
	if err := yuv.FromRGBA(b.Data, d.rgba); err != nil {
		return nil, err
	}
	d.queue = d.queue[1:]
	b.Sequence = d.seq
	b.Timestamp = time.Now()
	return b, nil
}

// bgraToRGBA converts ZPixmap data (BGRA, 4 bytes per pixel) into dst.
func bgraToRGBA(dst *image.RGBA, data []byte) {
	n := len(dst.Pix)
	if len(data) < n {
		n = len(data)
	}
	for i := 0; i+3 < n; i += 4 {
		dst.Pix[i] = data[i+2]
		dst.Pix[i+1] = data[i+1]
		dst.Pix[i+2] = data[i]
		dst.Pix[i+3] = 0xff
	}
}

func (d *X11Device) Close() error {
	d.closeOnce.Do(func() {
		close(d.closed)
		d.conn.Close()
	})
	return nil
}
