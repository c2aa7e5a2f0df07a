package analysis

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/ColorChecker/internal/capture"
	"github.com/bryanchriswhite/ColorChecker/internal/logger"
	"github.com/bryanchriswhite/ColorChecker/internal/region"
	"go.viam.com/test"
)

type recorder struct {
	mu     sync.Mutex
	values []bool
	events []bool
	colors []region.Color
	ports  []int
	err    error
}

func (r *recorder) Write(v bool) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *recorder) Send(active bool) {
	r.mu.Lock()
	r.events = append(r.events, active)
	r.mu.Unlock()
}

func (r *recorder) SetColor(red, green, blue float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.colors = append(r.colors, region.Color{R: red, G: green, B: blue})
	return nil
}

func (r *recorder) Restart(port int) error {
	r.mu.Lock()
	r.ports = append(r.ports, port)
	r.mu.Unlock()
	return nil
}

func (r *recorder) Events() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

func (r *recorder) Values() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.values...)
}

var reference = Settings{
	Marker:    region.Marker{Shape: region.Ellipse, Center: image.Pt(32, 24), Width: 20, Height: 16},
	Reference: region.Color{R: 125, G: 130, B: 142},
	Tolerance: 17,
	Port:      4840,
}

func newTestEngine(t *testing.T, c color.RGBA, s Settings) (*Engine, *capture.SyntheticDevice, *recorder) {
	t.Helper()
	dev := capture.NewSyntheticDevice(200, c).WithResolutions(capture.Resolution{Width: 64, Height: 48})
	p, err := capture.Start(context.Background(), dev, capture.StreamConfig{Width: 64, Height: 48}, 2)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { p.Stop() })

	rec := &recorder{}
	e := New(Deps{Source: p, Values: rec, Events: rec, Store: rec, Restarter: rec}, s, image.Pt(64, 48))
	return e, dev, rec
}

func TestWithinToleranceScenario(t *testing.T) {
	e, dev, rec := newTestEngine(t, color.RGBA{R: 130, G: 132, B: 150, A: 255}, reference)

	test.That(t, e.Tick(context.Background()), test.ShouldBeNil)
	test.That(t, e.Within(), test.ShouldBeTrue)
	test.That(t, rec.Values(), test.ShouldResemble, []bool{true})
	test.That(t, rec.Events(), test.ShouldResemble, []bool{true})

	snap := e.Snapshot()
	test.That(t, snap.Average.R, test.ShouldAlmostEqual, 130, 2)
	test.That(t, snap.Average.G, test.ShouldAlmostEqual, 132, 2)
	test.That(t, snap.Average.B, test.ShouldAlmostEqual, 150, 2)
	test.That(t, snap.Ticks, test.ShouldEqual, uint64(1))

	// the value is refreshed every tick, the event only on change
	test.That(t, e.Tick(context.Background()), test.ShouldBeNil)
	test.That(t, rec.Values(), test.ShouldResemble, []bool{true, true})
	test.That(t, rec.Events(), test.ShouldResemble, []bool{true})

	dev.SetColor(color.RGBA{R: 150, G: 130, B: 142, A: 255})
	for i := 0; i < 100 && e.Within(); i++ {
		test.That(t, e.Tick(context.Background()), test.ShouldBeNil)
	}
	test.That(t, e.Within(), test.ShouldBeFalse)
	test.That(t, rec.Events(), test.ShouldResemble, []bool{true, false})
}

func TestInitialStateIsOutside(t *testing.T) {
	e, _, rec := newTestEngine(t, color.RGBA{R: 10, G: 10, B: 10, A: 255}, reference)
	test.That(t, e.Tick(context.Background()), test.ShouldBeNil)
	test.That(t, rec.Values(), test.ShouldResemble, []bool{false})
	test.That(t, rec.Events(), test.ShouldBeEmpty)
}

func TestParameterChangeRebuildsEvaluator(t *testing.T) {
	e, _, rec := newTestEngine(t, color.RGBA{R: 130, G: 132, B: 150, A: 255}, reference)

	test.That(t, e.Tick(context.Background()), test.ShouldBeNil)
	first := e.Evaluator()
	test.That(t, first, test.ShouldNotBeNil)
	test.That(t, first.Marker().Shape, test.ShouldEqual, region.Ellipse)

	e.HandleParameter("MarkerShape", "1")
	test.That(t, e.Evaluator(), test.ShouldBeNil)
	test.That(t, e.Tick(context.Background()), test.ShouldBeNil)
	second := e.Evaluator()
	test.That(t, second, test.ShouldNotEqual, first)
	test.That(t, second.Marker().Shape, test.ShouldEqual, region.Rectangle)

	e.HandleParameter("ColorChecker.Tolerance", "3")
	test.That(t, e.Evaluator(), test.ShouldBeNil)
	test.That(t, e.Settings().Tolerance, test.ShouldEqual, uint8(3))
	test.That(t, e.Tick(context.Background()), test.ShouldBeNil)
	test.That(t, e.Within(), test.ShouldBeFalse)
	test.That(t, rec.Events(), test.ShouldResemble, []bool{true, false})

	// bad values keep the previous setting and the cached evaluator
	cached := e.Evaluator()
	e.HandleParameter("CenterX", "left")
	e.HandleParameter("Tolerance", "300")
	test.That(t, e.Evaluator(), test.ShouldEqual, cached)
	test.That(t, e.Settings().Marker.Center.X, test.ShouldEqual, 32)

	// read-only and port changes leave the evaluator alone
	e.HandleParameter("Width", "1920")
	e.HandleParameter("Port", "5020")
	test.That(t, e.Evaluator(), test.ShouldEqual, cached)
	test.That(t, rec.ports, test.ShouldResemble, []int{5020})
	test.That(t, e.Settings().Port, test.ShouldEqual, 5020)

	e.HandleParameter("ColorG", "99.5")
	test.That(t, e.Settings().Reference.G, test.ShouldEqual, 99.5)
}

func TestPortStoredWithoutServer(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	rec := &recorder{}
	e := New(Deps{Source: failingSource{}, Values: rec, Events: rec}, reference, image.Pt(64, 48))
	e.HandleParameter("Port", "5021")

	test.That(t, e.Settings().Port, test.ShouldEqual, 5021)
	test.That(t, buf.String(), test.ShouldContainSubstring, "protocol server not running")
	test.That(t, buf.String(), test.ShouldNotContainSubstring, "restarted")
}

func TestUnknownShapeIsFatal(t *testing.T) {
	s := reference
	s.Marker.Shape = region.Shape(4)
	e, _, rec := newTestEngine(t, color.RGBA{A: 255}, s)

	err := e.Tick(context.Background())
	test.That(t, err, test.ShouldWrap, region.ErrUnknownShape)
	test.That(t, rec.Values(), test.ShouldBeEmpty)

	err = e.Run(context.Background())
	test.That(t, err, test.ShouldWrap, region.ErrUnknownShape)
}

func TestPickCurrent(t *testing.T) {
	e, _, rec := newTestEngine(t, color.RGBA{R: 60, G: 70, B: 80, A: 255}, reference)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pcancel()
	c, err := e.PickCurrent(pctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.R, test.ShouldAlmostEqual, 60, 2)
	test.That(t, c.G, test.ShouldAlmostEqual, 70, 2)
	test.That(t, c.B, test.ShouldAlmostEqual, 80, 2)

	rec.mu.Lock()
	test.That(t, rec.colors, test.ShouldResemble, []region.Color{c})
	rec.mu.Unlock()
	test.That(t, e.Settings().Reference, test.ShouldResemble, c)

	deadline := time.Now().Add(5 * time.Second)
	for !e.Within() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	test.That(t, e.Within(), test.ShouldBeTrue)

	cancel()
	test.That(t, <-done, test.ShouldBeNil)
}

func TestPickCurrentStoreFailure(t *testing.T) {
	e, _, rec := newTestEngine(t, color.RGBA{R: 60, G: 70, B: 80, A: 255}, reference)
	rec.err = errors.New("disk full")
	test.That(t, e.Tick(context.Background()), test.ShouldBeNil)
	before := e.Evaluator()

	errCh := make(chan error, 1)
	go func() {
		_, err := e.PickCurrent(context.Background())
		errCh <- err
	}()
	for {
		e.mu.Lock()
		n := len(e.picks)
		e.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	test.That(t, e.Tick(context.Background()), test.ShouldBeNil)
	test.That(t, <-errCh, test.ShouldNotBeNil)
	test.That(t, e.Evaluator(), test.ShouldEqual, before)
	test.That(t, e.Settings().Reference, test.ShouldResemble, reference.Reference)
}

func TestPickCurrentTimeout(t *testing.T) {
	e, _, _ := newTestEngine(t, color.RGBA{A: 255}, reference)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := e.PickCurrent(ctx)
	test.That(t, err, test.ShouldWrap, context.DeadlineExceeded)

	e.mu.Lock()
	test.That(t, e.picks, test.ShouldBeEmpty)
	e.mu.Unlock()
}

type failingSource struct{}

func (failingSource) LatestFrame(context.Context) (*capture.Frame, error) {
	return nil, capture.ErrStopped
}

func TestTickWithoutFrame(t *testing.T) {
	rec := &recorder{}
	e := New(Deps{Source: failingSource{}, Values: rec, Events: rec}, reference, image.Pt(64, 48))
	test.That(t, e.Tick(context.Background()), test.ShouldEqual, capture.ErrStopped)
	test.That(t, rec.Values(), test.ShouldBeEmpty)
	test.That(t, e.Run(context.Background()), test.ShouldEqual, capture.ErrStopped)
}

func TestFrameSizeChange(t *testing.T) {
	e, _, _ := newTestEngine(t, color.RGBA{R: 125, G: 130, B: 142, A: 255}, reference)
	e.rgb = image.NewRGBA(image.Rect(0, 0, 10, 10))
	test.That(t, e.Tick(context.Background()), test.ShouldBeNil)
	test.That(t, e.Evaluator().Size(), test.ShouldResemble, image.Pt(64, 48))
	test.That(t, e.Within(), test.ShouldBeTrue)
}
