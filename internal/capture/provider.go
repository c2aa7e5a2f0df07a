package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/ColorChecker/internal/logger"
	"github.com/rs/zerolog"
)

const (
	DefaultBuffers    = 8
	DefaultKeepFrames = 2
	DefaultWidth      = 640
	DefaultHeight     = 480
)

// stopGrace is how long Stop waits for a pending Dequeue before closing
// the device under it.
var stopGrace = 500 * time.Millisecond

// Stats counts buffer movements through a provider.
type Stats struct {
	Delivered      uint64 `json:"delivered"`
	HandedOut      uint64 `json:"handed_out"`
	Returned       uint64 `json:"returned"`
	Dropped        uint64 `json:"dropped"`
	FetchErrors    uint64 `json:"fetch_errors"`
	EnqueueErrors  uint64 `json:"enqueue_errors"`
	DeliveredDepth int    `json:"delivered_depth"`
	ProcessedDepth int    `json:"processed_depth"`
}

// Provider runs a producer goroutine that dequeues captured frames from a
// Device and hands the newest one to a single consumer.
//
// Captured buffers go to the tail of the delivered queue. After each capture
// one buffer is given back to the device: the oldest returned buffer if
// any, otherwise the oldest delivered buffer once more than keep frames are
// waiting.
type Provider struct {
	dev  Device
	cfg  StreamConfig
	keep int
	log  *zerolog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	delivered []*Buffer
	processed []*Buffer
	stopped   bool
	stats     Stats

	stopping atomic.Bool
	done     chan struct{}
}

// Start negotiates a stream with dev, allocates and enqueues req.Buffers
// buffers and starts the producer goroutine. The negotiated configuration
// is available from Config.
func Start(ctx context.Context, dev Device, req StreamConfig, keep int) (*Provider, error) {
	log := logger.WithComponent("frame-provider")

	if req.Buffers <= 0 {
		req.Buffers = DefaultBuffers
	}
	if req.Format == "" {
		req.Format = FormatNV12
	}
	if keep < 0 {
		keep = 0
	}

	avail, err := dev.Resolutions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: query resolutions of %s: %v", ErrStreamCreation, dev.Name(), err)
	}
	res := ChooseResolution(avail, req.Width, req.Height)
	cfg := req
	cfg.Width, cfg.Height = res.Width, res.Height

	if err := dev.Open(cfg); err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStreamCreation, dev.Name(), err)
	}

	for i := 0; i < cfg.Buffers; i++ {
		buf, err := dev.AllocBuffer()
		if err == nil {
			err = dev.Enqueue(buf)
		}
		if err != nil {
			dev.Close()
			return nil, fmt.Errorf("%w: buffer %d: %v", ErrStreamCreation, i, err)
		}
	}

	p := &Provider{
		dev:  dev,
		cfg:  cfg,
		keep: keep,
		log:  log,
		done: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	log.Info().
		Str("device", dev.Name()).
		Str("requested", Resolution{req.Width, req.Height}.String()).
		Str("negotiated", res.String()).
		Int("buffers", cfg.Buffers).
		Int("keep", keep).
		Msg("Stream started")

	go p.run()
	return p, nil
}

// Config returns the negotiated stream configuration.
func (p *Provider) Config() StreamConfig {
	return p.cfg
}

func (p *Provider) run() {
	defer close(p.done)

	for !p.stopping.Load() {
		buf, err := p.dev.Dequeue()
		if err != nil {
			if errors.Is(err, ErrDeviceClosed) {
				p.log.Info().Msg("Device stream ended")
				p.mu.Lock()
				p.stopped = true
				p.cond.Broadcast()
				p.mu.Unlock()
				return
			}
			p.mu.Lock()
			p.stats.FetchErrors++
			p.mu.Unlock()
			if errors.Is(err, ErrNoBuffer) {
				p.log.Debug().Msg("Frame captured without an enqueued buffer")
				continue
			}
			p.log.Warn().Err(err).Msg("Failed to fetch frame")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		var recycle *Buffer
		p.mu.Lock()
		p.delivered = append(p.delivered, buf)
		p.stats.Delivered++
		if len(p.processed) > 0 {
			recycle = p.processed[0]
			p.processed = p.processed[1:]
		} else if len(p.delivered) > p.keep {
			recycle = p.delivered[0]
			p.delivered = p.delivered[1:]
			p.stats.Dropped++
		}
		p.cond.Broadcast()
		p.mu.Unlock()

		if recycle == nil {
			continue
		}
		if err := p.dev.Enqueue(recycle); err != nil {
			p.mu.Lock()
			p.stats.EnqueueErrors++
			p.mu.Unlock()
			p.log.Warn().Err(err).Int("buffer", recycle.Index).Msg("Failed to enqueue buffer, buffer lost")
		}
	}
}

// LatestFrame blocks until a frame is available and returns the newest
// one. The caller owns the frame until Release. It returns ErrStopped once
// the provider is stopped and ctx.Err() if ctx is done first.
func (p *Provider) LatestFrame(ctx context.Context) (*Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.stopped {
			return nil, ErrStopped
		}
		if len(p.delivered) > 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.cond.Wait()
	}

	n := len(p.delivered) - 1
	buf := p.delivered[n]
	p.delivered = p.delivered[:n]
	p.stats.HandedOut++
	return &Frame{p: p, buf: buf}, nil
}

func (p *Provider) release(buf *Buffer) {
	p.mu.Lock()
	p.processed = append(p.processed, buf)
	p.stats.Returned++
	p.mu.Unlock()
}

// Stats returns a snapshot of the provider counters.
func (p *Provider) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.DeliveredDepth = len(p.delivered)
	s.ProcessedDepth = len(p.processed)
	return s
}

// Stop tells the producer to exit after its current Dequeue returns, waits
// for it and closes the device. If Dequeue has not returned within
// stopGrace the device is closed first. Waiting consumers get ErrStopped.
func (p *Provider) Stop() error {
	if p.stopping.Swap(true) {
		return ErrNotRunning
	}

	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()

	// A device stalled in Dequeue is closed to unblock the producer.
	var closeErr error
	select {
	case <-p.done:
		closeErr = p.dev.Close()
	case <-time.After(stopGrace):
		p.log.Warn().Dur("grace", stopGrace).Msg("Producer still waiting on device, closing it")
		closeErr = p.dev.Close()
		<-p.done
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", p.dev.Name(), closeErr)
	}
	p.log.Info().Msg("Stream stopped")
	return nil
}

// Frame is a captured frame on loan from a Provider. Release must be called
// exactly once when the frame is no longer used; Data is invalid afterwards.
type Frame struct {
	p        *Provider
	buf      *Buffer
	released atomic.Bool
}

func (f *Frame) Data() []byte         { return f.buf.Data }
func (f *Frame) Width() int           { return f.buf.Width }
func (f *Frame) Height() int          { return f.buf.Height }
func (f *Frame) Sequence() uint64     { return f.buf.Sequence }
func (f *Frame) Timestamp() time.Time { return f.buf.Timestamp }

// Release returns the buffer to the provider. Further calls are no-ops.
func (f *Frame) Release() {
	if f.released.Swap(true) {
		return
	}
	f.p.release(f.buf)
}

// Index identifies the underlying buffer within the pool.
func (f *Frame) Index() int { return f.buf.Index }
