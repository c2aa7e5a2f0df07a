// Package fieldbus exposes the tolerance verdict to PLCs as a read-only
// Modbus/TCP node.
//
// Discrete input 0 holds the verdict. Input register 0 holds it as 0/1 and
// registers 1..4 hold the Unix millisecond timestamp of the last refresh,
// most significant word first.
package fieldbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bryanchriswhite/ColorChecker/internal/logger"
	"github.com/rs/zerolog"
	"github.com/simonvetter/modbus"
)

const (
	MinPort = 1024
	MaxPort = 65535

	DefaultMinRefresh = 100 * time.Millisecond

	// NodeName is reported in logs and status output.
	NodeName = "ColorAreaReading"

	inputRegisterCount = 5
)

var (
	ErrInvalidPort    = errors.New("port outside 1024..65535")
	ErrAlreadyRunning = errors.New("fieldbus server already running")
)

// Options configures a Server.
type Options struct {
	MinRefresh time.Duration
	MaxClients uint
	Clock      clock.Clock
}

// Server publishes a single boolean with a server-managed timestamp.
type Server struct {
	opts Options
	log  *zerolog.Logger

	mu      sync.RWMutex
	value   bool
	stamp   time.Time
	port    int
	backend *modbus.ModbusServer
}

// New returns a stopped server.
func New(opts Options) *Server {
	if opts.MinRefresh <= 0 {
		opts.MinRefresh = DefaultMinRefresh
	}
	if opts.MaxClients == 0 {
		opts.MaxClients = 8
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Server{
		opts: opts,
		log:  logger.WithComponent("fieldbus"),
	}
}

// Start listens on port.
func (s *Server) Start(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend != nil {
		return ErrAlreadyRunning
	}

	backend, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        fmt.Sprintf("tcp://0.0.0.0:%d", port),
		Timeout:    30 * time.Second,
		MaxClients: s.opts.MaxClients,
	}, &handler{s: s})
	if err != nil {
		return fmt.Errorf("failed to create modbus server: %w", err)
	}
	if err := backend.Start(); err != nil {
		return fmt.Errorf("failed to start modbus server on port %d: %w", port, err)
	}
	s.backend = backend
	s.port = port
	s.log.Info().Int("port", port).Str("node", NodeName).Msg("Fieldbus server started")
	return nil
}

// Stop closes the listener. Stopping a stopped server is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return nil
	}
	err := s.backend.Stop()
	s.backend = nil
	s.log.Info().Int("port", s.port).Msg("Fieldbus server stopped")
	if err != nil {
		return fmt.Errorf("failed to stop modbus server: %w", err)
	}
	return nil
}

// Restart stops the server and starts it on port.
func (s *Server) Restart(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if err := s.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("Error stopping server before restart")
	}
	return s.Start(port)
}

// IsRunning reports whether the server is listening.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend != nil
}

// Port returns the port of the running server, or 0.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backend == nil {
		return 0
	}
	return s.port
}

// Write stores v. The timestamp is refreshed when v changes or when at
// least MinRefresh has passed since the last refresh, so clients can tell
// a live value from a stale one.
func (s *Server) Write(v bool) {
	now := s.opts.Clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if v != s.value || s.stamp.IsZero() || now.Sub(s.stamp) >= s.opts.MinRefresh {
		s.stamp = now
	}
	s.value = v
}

// Read returns the stored value.
func (s *Server) Read() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Timestamp returns the time of the last refresh.
func (s *Server) Timestamp() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stamp
}

func (s *Server) registers() []uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	regs := make([]uint16, inputRegisterCount)
	if s.value {
		regs[0] = 1
	}
	var ms uint64
	if !s.stamp.IsZero() {
		ms = uint64(s.stamp.UnixMilli())
	}
	for i := 0; i < 4; i++ {
		regs[1+i] = uint16(ms >> (48 - 16*i))
	}
	return regs
}

type handler struct {
	s *Server
}

func (h *handler) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

func (h *handler) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	if req.Addr != 0 || req.Quantity != 1 {
		return nil, modbus.ErrIllegalDataAddress
	}
	return []bool{h.s.Read()}, nil
}

func (h *handler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	return nil, modbus.ErrIllegalFunction
}

func (h *handler) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	end := int(req.Addr) + int(req.Quantity)
	if req.Quantity == 0 || end > inputRegisterCount {
		return nil, modbus.ErrIllegalDataAddress
	}
	return h.s.registers()[req.Addr:end], nil
}
