package output

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/ColorChecker/internal/logger"
	"github.com/disintegration/imaging"
)

var ErrNotRunning = errors.New("output not running")

// MJPEGOutput streams frames as Motion JPEG over HTTP
type MJPEGOutput struct {
	config  Config
	running bool
	mu      sync.RWMutex

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	// Stats
	frameCount uint64
	skipped    uint64
	lastUpdate time.Time
	startTime  time.Time
}

// MJPEGStats describes the stream
type MJPEGStats struct {
	Running    bool      `json:"running"`
	Frames     uint64    `json:"frames"`
	Skipped    uint64    `json:"skipped"`
	Clients    int       `json:"clients"`
	FPS        float64   `json:"fps"`
	LastUpdate time.Time `json:"last_update"`
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = jpeg.DefaultQuality
	}
	return &MJPEGOutput{
		config:  config,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start initializes the MJPEG output.
// The HTTP handler is registered separately via GetHTTPHandler()
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0

	logger.WithComponent("mjpeg").Info().
		Int("width", m.config.Width).
		Int("fps", m.config.FPS).
		Int("quality", m.config.Quality).
		Msg("Output started")
	return nil
}

// Stop cleanly shuts down the output and disconnects all clients
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().Uint64("frames", m.frameCount).Msg("Output stopped")
	return nil
}

// WriteFrame encodes frame and sends it to all connected clients. Slow
// clients skip frames.
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return ErrNotRunning
	}

	var src image.Image = frame
	if w := m.config.Width; w > 0 && frame.Bounds().Dx() > w {
		src = imaging.Resize(frame, w, 0, imaging.Linear)
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, src, &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	jpegData := buf.Bytes()

	m.frameCount++
	m.lastUpdate = time.Now()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			m.skipped++
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Clients returns the number of connected stream clients
func (m *MJPEGOutput) Clients() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// Stats returns a snapshot of the stream counters
func (m *MJPEGOutput) Stats() MJPEGStats {
	m.mu.RLock()
	s := MJPEGStats{
		Running:    m.running,
		Frames:     m.frameCount,
		Skipped:    m.skipped,
		LastUpdate: m.lastUpdate,
	}
	if m.running {
		if elapsed := time.Since(m.startTime).Seconds(); elapsed > 0 {
			s.FPS = float64(m.frameCount) / elapsed
		}
	}
	m.mu.RUnlock()
	s.Clients = m.Clients()
	return s
}

// GetHTTPHandler returns an http.Handler for the MJPEG stream
func (m *MJPEGOutput) GetHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsRunning() {
			http.Error(w, "preview disabled", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2)

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("mjpeg")
		log.Info().Str("remote", r.RemoteAddr).Int("clients", clientCount).Msg("Client connected")

		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, frameChan)
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Str("remote", r.RemoteAddr).Int("clients", clientCount).Msg("Client disconnected")
		}()

		flusher, _ := w.(http.Flusher)
		if flusher != nil {
			flusher.Flush()
		}
		for {
			var jpegData []byte
			var ok bool
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok = <-frameChan:
				if !ok {
					return
				}
			}

			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
				return
			}
			if _, err := w.Write(jpegData); err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
