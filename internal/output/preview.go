package output

import (
	"context"
	"image"
	"sync"

	"github.com/bryanchriswhite/ColorChecker/internal/analysis"
	"github.com/bryanchriswhite/ColorChecker/internal/logger"
	"github.com/bryanchriswhite/ColorChecker/internal/overlay"
	"golang.org/x/time/rate"
)

// Preview renders the overlay onto evaluated frames and forwards them to
// an Output at a bounded rate. It holds at most one pending frame; a newer
// frame replaces an unrendered one.
type Preview struct {
	out     Output
	overlay *overlay.Manager
	limiter *rate.Limiter

	mu      sync.Mutex
	cond    *sync.Cond
	pending *image.RGBA
	spare   *image.RGBA
	snap    analysis.Snapshot
	ready   bool
	closed  bool

	shown    uint64
	dropped  uint64
	rendered uint64
	failed   uint64
}

// PreviewStats are the preview counters
type PreviewStats struct {
	Shown    uint64 `json:"shown"`
	Dropped  uint64 `json:"dropped"`
	Rendered uint64 `json:"rendered"`
	Failed   uint64 `json:"failed"`
}

// NewPreview creates a preview feeding out. fps <= 0 disables rate limiting.
func NewPreview(out Output, ov *overlay.Manager, fps int) *Preview {
	limit := rate.Inf
	if fps > 0 {
		limit = rate.Limit(fps)
	}
	if ov == nil {
		ov = overlay.NewDefaultManager()
	}
	p := &Preview{
		out:     out,
		overlay: ov,
		limiter: rate.NewLimiter(limit, 1),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Show copies img into the pending slot.
func (p *Preview) Show(img *image.RGBA, s analysis.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.shown++
	if p.ready {
		p.dropped++
	}
	p.pending = copyInto(p.pending, img)
	p.snap = s
	p.ready = true
	p.cond.Signal()
}

// Run renders pending frames until ctx is done.
func (p *Preview) Run(ctx context.Context) error {
	log := logger.WithComponent("preview")

	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cond.Broadcast()
	})
	defer stop()

	for {
		p.mu.Lock()
		for !p.ready && !p.closed {
			p.cond.Wait()
		}
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return nil
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return nil
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil
		}
		// take the latest frame, which may have replaced the one we woke for
		p.pending, p.spare = p.spare, p.pending
		snap := p.snap
		p.ready = false
		img := p.spare
		p.mu.Unlock()

		if err := p.render(img, snap); err != nil {
			p.mu.Lock()
			p.failed++
			p.mu.Unlock()
			log.Debug().Err(err).Msg("Preview frame not written")
			continue
		}
		p.mu.Lock()
		p.rendered++
		p.mu.Unlock()
	}
}

func (p *Preview) render(img *image.RGBA, s analysis.Snapshot) error {
	st := overlay.State{
		Marker:    s.Marker,
		Within:    s.Within,
		Average:   s.Average,
		Reference: s.Reference,
		Tolerance: s.Tolerance,
	}
	if err := p.overlay.Render(img, st); err != nil {
		return err
	}
	return p.out.WriteFrame(img)
}

// Stats returns the preview counters
func (p *Preview) Stats() PreviewStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PreviewStats{
		Shown:    p.shown,
		Dropped:  p.dropped,
		Rendered: p.rendered,
		Failed:   p.failed,
	}
}

func copyInto(dst, src *image.RGBA) *image.RGBA {
	if dst == nil || dst.Bounds() != src.Bounds() || len(dst.Pix) != len(src.Pix) || dst.Stride != src.Stride {
		dst = &image.RGBA{
			Pix:    make([]byte, len(src.Pix)),
			Stride: src.Stride,
			Rect:   src.Rect,
		}
	}
	copy(dst.Pix, src.Pix)
	return dst
}
