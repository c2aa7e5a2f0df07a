package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/ColorChecker/internal/logger"
	"github.com/bryanchriswhite/ColorChecker/internal/yuv"
)

// GStreamerDevice captures NV12 frames from a V4L2 camera through a
// gst-launch-1.0 subprocess writing raw frames to its stdout.
type GStreamerDevice struct {
	device string
	fps    int

	mu      sync.Mutex
	cmd     *exec.Cmd
	reader  io.Reader
	cfg     StreamConfig
	queue   []*Buffer
	scratch []byte
	seq     uint64
	nextIdx int
	closed  bool

	// monitor returns the output of gst-device-monitor-1.0.
	monitor func(ctx context.Context) ([]byte, error)
}

// NewGStreamerDevice returns a device for the V4L2 node at device, e.g.
// /dev/video0. fps <= 0 keeps the camera's native rate.
func NewGStreamerDevice(device string, fps int) *GStreamerDevice {
	return &GStreamerDevice{
		device: device,
		fps:    fps,
		monitor: func(ctx context.Context) ([]byte, error) {
			return exec.CommandContext(ctx, "gst-device-monitor-1.0", "Video/Source").Output()
		},
	}
}

func (g *GStreamerDevice) Name() string { return "gstreamer:" + g.device }

func (g *GStreamerDevice) Resolutions(ctx context.Context) ([]Resolution, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := g.monitor(ctx)
	if err != nil {
		return nil, fmt.Errorf("gst-device-monitor failed: %w", err)
	}
	res := parseDeviceMonitor(string(out), g.device)
	if len(res) == 0 {
		return nil, fmt.Errorf("no raw video caps found for %s", g.device)
	}
	return res, nil
}

// parseDeviceMonitor collects the fixed raw video sizes listed for device
// (all devices if device is empty) in gst-device-monitor output.
func parseDeviceMonitor(out, device string) []Resolution {
	seen := map[Resolution]bool{}
	var res []Resolution
	for _, block := range strings.Split(out, "Device found:") {
		if device != "" && !strings.Contains(block, "device.path = "+device) &&
			!strings.Contains(block, "api.v4l2.path = "+device) {
			continue
		}
		for _, line := range strings.Split(block, "\n") {
			if !strings.Contains(line, "video/x-raw") {
				continue
			}
			r := Resolution{
				Width:  extractIntFromCaps(line, "width"),
				Height: extractIntFromCaps(line, "height"),
			}
			if r.Width > 0 && r.Height > 0 && !seen[r] {
				seen[r] = true
				res = append(res, r)
			}
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Width*res[i].Height < res[j].Width*res[j].Height
	})
	return res
}

// extractIntFromCaps extracts an integer value from a GStreamer caps string
func extractIntFromCaps(caps, key string) int {
	// Look for patterns like "width=(int)1920" or "width=1920"
	for _, pattern := range []string{key + "=(int)", key + "="} {
		idx := strings.Index(caps, pattern)
		if idx < 0 {
			continue
		}
		start := idx + len(pattern)
		end := start
		for end < len(caps) && caps[end] >= '0' && caps[end] <= '9' {
			end++
		}
		if end > start {
			if val, err := strconv.Atoi(caps[start:end]); err == nil {
				return val
			}
		}
	}
	return 0
}

func (g *GStreamerDevice) pipeline(cfg StreamConfig) []string {
	p := []string{"-q", "v4l2src", "device=" + g.device, "!", "videoconvert", "!", "videoscale", "!"}
	if g.fps > 0 {
		p = append(p, "videorate", "!")
	}
	caps := fmt.Sprintf("video/x-raw,format=NV12,width=%d,height=%d", cfg.Width, cfg.Height)
	if g.fps > 0 {
		caps += fmt.Sprintf(",framerate=%d/1", g.fps)
	}
	return append(p, caps, "!", "fdsink", "fd=1", "sync=false")
}

func (g *GStreamerDevice) Open(cfg StreamConfig) error {
	log := logger.WithComponent("gstreamer")

	args := g.pipeline(cfg)
	cmd := exec.Command("gst-launch-1.0", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start gst-launch: %w", err)
	}
	go logStderr(stderr)

	g.mu.Lock()
	g.cmd = cmd
	g.mu.Unlock()
	g.attach(stdout, cfg)

	log.Info().
		Str("pipeline", strings.Join(args[1:], " ")).
		Int("pid", cmd.Process.Pid).
		Msg("GStreamer subprocess started")
	return nil
}

func (g *GStreamerDevice) attach(r io.Reader, cfg StreamConfig) {
	size := yuv.FrameSize(cfg.Width, cfg.Height)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = cfg
	g.reader = bufio.NewReaderSize(r, size*2)
	g.scratch = make([]byte, size)
}

// logStderr logs any output of the GStreamer subprocess
func logStderr(r io.Reader) {
	log := logger.WithComponent("gstreamer")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("gst", line).Msg("GStreamer message")
		} else {
			log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}

func (g *GStreamerDevice) AllocBuffer() (*Buffer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reader == nil {
		return nil, errors.New("device not opened")
	}
	b := &Buffer{
		Index:  g.nextIdx,
		Data:   make([]byte, len(g.scratch)),
		Width:  g.cfg.Width,
		Height: g.cfg.Height,
	}
	g.nextIdx++
	return b, nil
}

func (g *GStreamerDevice) Enqueue(b *Buffer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrDeviceClosed
	}
	if len(b.Data) != len(g.scratch) {
		return fmt.Errorf("buffer %d has %d bytes, stream needs %d", b.Index, len(b.Data), len(g.scratch))
	}
	g.queue = append(g.queue, b)
	return nil
}

// Dequeue reads exactly one frame from the pipeline. Without an enqueued
// buffer the frame is read into scratch memory and dropped.
func (g *GStreamerDevice) Dequeue() (*Buffer, error) {
	g.mu.Lock()
	if g.closed || g.reader == nil {
		g.mu.Unlock()
		return nil, ErrDeviceClosed
	}
	var b *Buffer
	dst := g.scratch
	if len(g.queue) > 0 {
		b = g.queue[0]
		g.queue = g.queue[1:]
		dst = b.Data
	}
	r := g.reader
	g.mu.Unlock()

	_, err := io.ReadFull(r, dst)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		if b != nil {
			g.queue = append([]*Buffer{b}, g.queue...)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || g.closed {
			return nil, ErrDeviceClosed
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	g.seq++
	if b == nil {
		return nil, ErrNoBuffer
	}
	b.Sequence = g.seq
	b.Timestamp = time.Now()
	return b, nil
}

func (g *GStreamerDevice) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	if g.cmd != nil && g.cmd.Process != nil {
		g.cmd.Process.Kill()
		g.cmd.Wait()
		logger.WithComponent("gstreamer").Info().Msg("GStreamer subprocess stopped")
	}
	return nil
}
