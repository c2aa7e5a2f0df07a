// Package analysis runs the per-frame color check: it converts the newest
// frame, evaluates the marked region and publishes the verdict.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/ColorChecker/internal/capture"
	"github.com/bryanchriswhite/ColorChecker/internal/config"
	"github.com/bryanchriswhite/ColorChecker/internal/logger"
	"github.com/bryanchriswhite/ColorChecker/internal/region"
	"github.com/bryanchriswhite/ColorChecker/internal/yuv"
	"github.com/rs/zerolog"
)

// FrameSource hands out the newest captured frame.
type FrameSource interface {
	LatestFrame(ctx context.Context) (*capture.Frame, error)
}

// ValueWriter receives the verdict after every evaluation.
type ValueWriter interface {
	Write(v bool)
}

// EventSender receives the verdict when it changes.
type EventSender interface {
	Send(active bool)
}

// ColorStore persists a recalibrated reference color.
type ColorStore interface {
	SetColor(r, g, b float64) error
}

// ServerRestarter restarts the protocol server on a new port.
type ServerRestarter interface {
	Restart(port int) error
}

// PreviewSink receives each evaluated frame. Show must not retain img.
type PreviewSink interface {
	Show(img *image.RGBA, s Snapshot)
}

// Settings is the region configuration the evaluator is built from.
type Settings struct {
	Marker    region.Marker
	Reference region.Color
	Tolerance uint8
	Port      int
}

// SettingsFrom converts stored parameters.
func SettingsFrom(p config.Parameters) Settings {
	return Settings{
		Marker: region.Marker{
			Shape:  region.Shape(p.MarkerShape),
			Center: image.Pt(p.CenterX, p.CenterY),
			Width:  p.MarkerWidth,
			Height: p.MarkerHeight,
		},
		Reference: region.Color{R: p.ColorR, G: p.ColorG, B: p.ColorB},
		Tolerance: uint8(p.Tolerance),
		Port:      p.Port,
	}
}

// Snapshot is the state after the latest evaluation.
type Snapshot struct {
	Within    bool          `json:"within"`
	Average   region.Color  `json:"average"`
	Reference region.Color  `json:"reference"`
	Tolerance uint8         `json:"tolerance"`
	Marker    region.Marker `json:"marker"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Ticks     uint64        `json:"ticks"`
	Updated   time.Time     `json:"updated"`
}

// Deps are the collaborators of an Engine. Values and Events are required.
type Deps struct {
	Source    FrameSource
	Values    ValueWriter
	Events    EventSender
	Store     ColorStore
	Restarter ServerRestarter
	Preview   PreviewSink
}

type pickResult struct {
	color region.Color
	err   error
}

// Engine owns the analysis state. Tick and parameter changes are
// serialized by one lock held across the whole evaluate-and-publish step.
type Engine struct {
	deps Deps
	log  *zerolog.Logger

	mu        sync.Mutex
	settings  Settings
	evaluator *region.Evaluator
	rgb       *image.RGBA
	state     bool
	snap      Snapshot
	picks     []chan pickResult
}

// New returns an engine for frames of the given size.
func New(deps Deps, s Settings, size image.Point) *Engine {
	return &Engine{
		deps:     deps,
		log:      logger.WithComponent("analysis"),
		settings: s,
		rgb:      image.NewRGBA(image.Rectangle{Max: size}),
	}
}

// Tick evaluates the newest frame. It blocks until a frame is available.
// Unknown shapes and size mismatches are returned as errors the caller
// must treat as fatal; capture.ErrStopped means no more frames will come.
func (e *Engine) Tick(ctx context.Context) error {
	frame, err := e.deps.Source.LatestFrame(ctx)
	if err != nil {
		e.log.Info().Err(err).Msg("No frame available")
		return err
	}
	defer frame.Release()

	e.mu.Lock()
	defer e.mu.Unlock()

	w, h := frame.Width(), frame.Height()
	if e.rgb.Rect.Dx() != w || e.rgb.Rect.Dy() != h {
		e.log.Warn().Int("width", w).Int("height", h).Msg("Frame size changed, reallocating")
		e.rgb = image.NewRGBA(image.Rect(0, 0, w, h))
		e.evaluator = nil
	}
	if err := yuv.ToRGBA(e.rgb, frame.Data(), w, h); err != nil {
		return fmt.Errorf("failed to convert frame: %w", err)
	}

	if len(e.picks) > 0 && e.evaluator != nil {
		e.pickLocked()
	}

	if e.evaluator == nil {
		ev, err := region.New(e.rgb.Rect.Size(), e.settings.Marker, e.settings.Reference, e.settings.Tolerance)
		if err != nil {
			return fmt.Errorf("failed to build evaluator: %w", err)
		}
		e.evaluator = ev
		m := e.settings.Marker
		e.log.Info().
			Str("shape", m.Shape.String()).
			Int("x", m.Center.X).Int("y", m.Center.Y).
			Int("marker_width", m.Width).Int("marker_height", m.Height).
			Str("crop", ev.Crop().String()).
			Str("reference", e.settings.Reference.String()).
			Uint8("tolerance", e.settings.Tolerance).
			Msg("Evaluator built")
	}

	avg, within, err := e.evaluator.Evaluate(e.rgb)
	if err != nil {
		return err
	}
	e.log.Debug().Str("average", avg.String()).Bool("within", within).Msg("Region evaluated")

	e.deps.Values.Write(within)
	if within != e.state {
		e.state = within
		e.deps.Events.Send(within)
	}

	e.snap = Snapshot{
		Within:    within,
		Average:   avg,
		Reference: e.settings.Reference,
		Tolerance: e.settings.Tolerance,
		Marker:    e.settings.Marker,
		Width:     w,
		Height:    h,
		Ticks:     e.snap.Ticks + 1,
		Updated:   time.Now(),
	}
	if e.deps.Preview != nil {
		e.deps.Preview.Show(e.rgb, e.snap)
	}
	return nil
}

// pickLocked takes the current average color as the new reference and
// answers every pending PickCurrent call.
func (e *Engine) pickLocked() {
	avg, err := e.evaluator.AverageColor(e.rgb)
	if err == nil && e.deps.Store != nil {
		err = e.deps.Store.SetColor(avg.R, avg.G, avg.B)
	}
	if err == nil {
		e.settings.Reference = avg
		e.evaluator = nil
		e.log.Info().Str("reference", avg.String()).Msg("Reference color picked from current frame")
	} else {
		e.log.Error().Err(err).Msg("Failed to pick current color")
	}
	for _, ch := range e.picks {
		ch <- pickResult{color: avg, err: err}
	}
	e.picks = nil
}

// Run ticks until ctx is done or a tick fails.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().Msg("Analysis loop started")
	for {
		err := e.Tick(ctx)
		if ctx.Err() != nil {
			e.log.Info().Msg("Analysis loop stopped")
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// PickCurrent asks the loop to take the average color of the next frame as
// the new reference color and waits for the result.
func (e *Engine) PickCurrent(ctx context.Context) (region.Color, error) {
	ch := make(chan pickResult, 1)
	e.mu.Lock()
	e.picks = append(e.picks, ch)
	e.mu.Unlock()

	select {
	case r := <-ch:
		return r.color, r.err
	case <-ctx.Done():
		e.mu.Lock()
		for i, p := range e.picks {
			if p == ch {
				e.picks = append(e.picks[:i], e.picks[i+1:]...)
				break
			}
		}
		e.mu.Unlock()
		return region.Color{}, fmt.Errorf("pick current color: %w", ctx.Err())
	}
}

// HandleParameter applies a changed configuration value. name may be
// qualified (group.Name). Geometry and color changes invalidate the
// evaluator; Port restarts the protocol server. Unparsable values are
// logged and the previous value kept.
func (e *Engine) HandleParameter(name, value string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	log := e.log.With().Str("param", name).Str("value", value).Logger()

	switch name {
	case "Width", "Height":
		log.Debug().Msg("Ignoring read-only parameter")
		return
	case "Port":
		port, err := strconv.Atoi(value)
		if err != nil {
			log.Error().Err(err).Msg("Invalid port")
			return
		}
		e.mu.Lock()
		e.settings.Port = port
		e.mu.Unlock()
		if e.deps.Restarter == nil {
			log.Info().Msg("Port stored, protocol server not running")
			return
		}
		if err := e.deps.Restarter.Restart(port); err != nil {
			log.Error().Err(err).Msg("Failed to restart protocol server")
			return
		}
		log.Info().Msg("Protocol server restarted")
		return
	}

	apply, err := parseSetting(name, value)
	if err != nil {
		log.Error().Err(err).Msg("Ignoring parameter change")
		return
	}

	e.mu.Lock()
	apply(&e.settings)
	e.evaluator = nil
	e.mu.Unlock()
	log.Info().Msg("Parameter updated")
}

func parseSetting(name, value string) (func(s *Settings), error) {
	switch name {
	case "ColorR", "ColorG", "ColorB":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, err
		}
		return func(s *Settings) {
			switch name {
			case "ColorR":
				s.Reference.R = f
			case "ColorG":
				s.Reference.G = f
			default:
				s.Reference.B = f
			}
		}, nil
	case "Tolerance":
		n, err := strconv.ParseUint(value, 10, 8)
		if err != nil {
			return nil, err
		}
		return func(s *Settings) { s.Tolerance = uint8(n) }, nil
	case "CenterX", "CenterY", "MarkerWidth", "MarkerHeight", "MarkerShape":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, err
		}
		return func(s *Settings) {
			switch name {
			case "CenterX":
				s.Marker.Center.X = n
			case "CenterY":
				s.Marker.Center.Y = n
			case "MarkerWidth":
				s.Marker.Width = n
			case "MarkerHeight":
				s.Marker.Height = n
			default:
				s.Marker.Shape = region.Shape(n)
			}
		}, nil
	}
	return nil, errors.New("unknown parameter")
}

// Within returns the last published verdict.
func (e *Engine) Within() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshot returns the state after the latest evaluation.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// Settings returns the current region configuration.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Evaluator returns the cached evaluator, nil until the next tick after an
// invalidation.
func (e *Engine) Evaluator() *region.Evaluator {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evaluator
}
