package output

import (
	"bufio"
	"context"
	"image"
	"image/color"
	"image/draw"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/ColorChecker/internal/analysis"
	"github.com/bryanchriswhite/ColorChecker/internal/overlay"
	"github.com/bryanchriswhite/ColorChecker/internal/region"
	"go.viam.com/test"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

type recordingOutput struct {
	mu     sync.Mutex
	frames []*image.RGBA
	got    chan struct{}
}

func newRecordingOutput() *recordingOutput {
	return &recordingOutput{got: make(chan struct{}, 100)}
}

func (r *recordingOutput) Start() error    { return nil }
func (r *recordingOutput) Stop() error     { return nil }
func (r *recordingOutput) Name() string    { return "recording" }
func (r *recordingOutput) IsRunning() bool { return true }

func (r *recordingOutput) WriteFrame(frame *image.RGBA) error {
	r.mu.Lock()
	r.frames = append(r.frames, copyInto(nil, frame))
	r.mu.Unlock()
	r.got <- struct{}{}
	return nil
}

func snapshot() analysis.Snapshot {
	return analysis.Snapshot{
		Within:    true,
		Marker:    region.Marker{Shape: region.Ellipse, Center: image.Pt(80, 60), Width: 20, Height: 20},
		Reference: region.Color{R: 125, G: 130, B: 142},
		Average:   region.Color{R: 130, G: 132, B: 150},
		Tolerance: 17,
	}
}

func TestPreviewRendersCopy(t *testing.T) {
	out := newRecordingOutput()
	p := NewPreview(out, nil, 0)

	gray := color.RGBA{100, 100, 100, 255}
	src := solid(160, 120, gray)
	p.Show(src, snapshot())
	// the preview owns a copy; later writes by the caller do not leak in
	draw.Draw(src, src.Bounds(), &image.Uniform{C: color.RGBA{0, 0, 0, 255}}, image.Point{}, draw.Src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case <-out.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame rendered")
	}
	cancel()
	test.That(t, <-done, test.ShouldBeNil)

	out.mu.Lock()
	frame := out.frames[0]
	out.mu.Unlock()
	test.That(t, frame.RGBAAt(80, 60), test.ShouldResemble, gray)
	test.That(t, frame.RGBAAt(70, 60), test.ShouldResemble, overlay.ColorWithin)

	st := p.Stats()
	test.That(t, st.Shown, test.ShouldEqual, uint64(1))
	test.That(t, st.Rendered, test.ShouldEqual, uint64(1))
}

func TestPreviewKeepsLatest(t *testing.T) {
	out := newRecordingOutput()
	p := NewPreview(out, overlay.NewManager(), 0)

	for i := 0; i < 3; i++ {
		p.Show(solid(8, 8, color.RGBA{uint8(i), 0, 0, 255}), snapshot())
	}
	test.That(t, p.Stats().Dropped, test.ShouldEqual, uint64(2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	select {
	case <-out.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame rendered")
	}
	out.mu.Lock()
	defer out.mu.Unlock()
	test.That(t, out.frames, test.ShouldHaveLength, 1)
	test.That(t, out.frames[0].RGBAAt(0, 0).R, test.ShouldEqual, uint8(2))
}

func TestPreviewRunStops(t *testing.T) {
	p := NewPreview(newRecordingOutput(), nil, 5)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	// Show after stop is ignored
	p.Show(solid(4, 4, color.RGBA{}), snapshot())
	test.That(t, p.Stats().Shown, test.ShouldEqual, uint64(0))
}

func TestMJPEGNotRunning(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	test.That(t, m.WriteFrame(solid(4, 4, color.RGBA{})), test.ShouldEqual, ErrNotRunning)

	rec := httptest.NewRecorder()
	m.GetHTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusServiceUnavailable)
}

func TestMJPEGStream(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 32, Quality: 50})
	test.That(t, m.Start(), test.ShouldBeNil)
	test.That(t, m.Start(), test.ShouldNotBeNil)
	defer m.Stop()

	srv := httptest.NewServer(m.GetHTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.Header.Get("Content-Type"), test.ShouldStartWith, "multipart/x-mixed-replace")

	deadline := time.Now().Add(2 * time.Second)
	for m.Clients() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	test.That(t, m.Clients(), test.ShouldEqual, 1)

	test.That(t, m.WriteFrame(solid(64, 48, color.RGBA{200, 10, 10, 255})), test.ShouldBeNil)

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.TrimSpace(line), test.ShouldEqual, "--frame")
	line, err = r.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.TrimSpace(line), test.ShouldEqual, "Content-Type: image/jpeg")

	st := m.Stats()
	test.That(t, st.Frames, test.ShouldEqual, uint64(1))
	test.That(t, st.Running, test.ShouldBeTrue)
}
