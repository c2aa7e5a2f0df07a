package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bryanchriswhite/ColorChecker/internal/analysis"
	"github.com/bryanchriswhite/ColorChecker/internal/config"
	"github.com/bryanchriswhite/ColorChecker/internal/events"
	"github.com/bryanchriswhite/ColorChecker/internal/logger"
	"github.com/bryanchriswhite/ColorChecker/internal/region"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
)

// Version is reported by /api/health.
var Version = "0.1.0"

// pickTimeout bounds how long pickcurrent waits for the analysis loop.
const pickTimeout = 5 * time.Second

// Analyzer is the view of the analysis engine the API needs.
type Analyzer interface {
	Within() bool
	Snapshot() analysis.Snapshot
	PickCurrent(ctx context.Context) (region.Color, error)
}

// ParamStore reads and writes configuration parameters.
type ParamStore interface {
	Parameters() config.Parameters
	GetParam(name string) (string, error)
	SetParam(name, value string) error
}

// Options holds the optional collaborators of a Server.
type Options struct {
	// AdminToken, when set, protects pickcurrent with a bearer token.
	AdminToken string
	// Stream serves the MJPEG preview at /stream.
	Stream http.Handler
	// Hub feeds the /api/events websocket.
	Hub *events.Hub
	// Stats returns the counters served by /api/stats.
	Stats func() any
	// Fieldbus returns the time the published value was last refreshed.
	Fieldbus func() time.Time
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	engine   Analyzer
	params   ParamStore
	opts     Options
	upgrader websocket.Upgrader
	http     *http.Server
}

// NewServer creates a new API server
func NewServer(engine Analyzer, params ParamStore, opts Options) *Server {
	s := &Server{
		router: mux.NewRouter(),
		engine: engine,
		params: params,
		opts:   opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// CGI-style status endpoints
	s.router.HandleFunc("/cgi/{command}", s.handleCommand).Methods("GET")
	s.router.HandleFunc("/local/colorchecker/{command}", s.handleCommand).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/parameters", s.handleGetParameters).Methods("GET")
	api.HandleFunc("/parameters/{name}", s.handleGetParameter).Methods("GET")
	api.HandleFunc("/parameters/{name}", s.handleSetParameter).Methods("PUT")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/events", s.handleEvents)

	if s.opts.Stream != nil {
		s.router.Handle("/stream", s.opts.Stream).Methods("GET")
	}
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler returns the root handler with CORS applied
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start serves HTTP on port until Shutdown is called
func (s *Server) Start(port int) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.WithComponent("api").Info().Int("port", port).Msg("HTTP server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	command := mux.Vars(r)["command"]
	switch strings.TrimSuffix(command, ".cgi") {
	case "getstatus":
		writeJSON(w, http.StatusOK, map[string]bool{"status": s.engine.Within()})
	case "pickcurrent":
		s.handlePick(w, r)
	default:
		http.Error(w, fmt.Sprintf("Unknown command '%s'", command), http.StatusBadRequest)
	}
}

func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), pickTimeout)
	defer cancel()
	c, err := s.engine.PickCurrent(ctx)
	if err != nil {
		logger.WithComponent("api").Error().Err(err).Msg("Failed to pick current color")
		http.Error(w, "Failed to pick current color", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.opts.AdminToken == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && token == s.opts.AdminToken
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

type statusResponse struct {
	analysis.Snapshot
	AverageHex   string     `json:"average_hex"`
	ReferenceHex string     `json:"reference_hex"`
	Refreshed    *time.Time `json:"fieldbus_refreshed,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	resp := statusResponse{
		Snapshot:     snap,
		AverageHex:   snap.Average.Hex(),
		ReferenceHex: snap.Reference.Hex(),
	}
	if s.opts.Fieldbus != nil {
		if ts := s.opts.Fieldbus(); !ts.IsZero() {
			resp.Refreshed = &ts
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.params.Parameters())
}

func (s *Server) handleGetParameter(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	v, err := s.params.GetParam(name)
	if err != nil {
		http.Error(w, err.Error(), paramStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "value": v})
}

func (s *Server) handleSetParameter(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req struct {
		Value json.RawMessage `json:"value"`
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil || len(req.Value) == 0 {
		http.Error(w, `expected {"value": ...}`, http.StatusBadRequest)
		return
	}
	// accept both "12" and 12
	value := strings.Trim(string(req.Value), `"`)

	if err := s.params.SetParam(name, value); err != nil {
		http.Error(w, err.Error(), paramStatus(err))
		return
	}
	v, _ := s.params.GetParam(name)
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "value": v})
}

func paramStatus(err error) int {
	switch {
	case errors.Is(err, config.ErrUnknownParameter):
		return http.StatusNotFound
	case errors.Is(err, config.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, config.ErrReadOnly):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Stats == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Stats())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")
	if s.opts.Hub == nil {
		http.Error(w, "events disabled", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.opts.Hub.Subscribe()
	defer unsubscribe()

	// reader detects the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>ColorChecker</title>
    <style>
        body { font-family: sans-serif; max-width: 800px; margin: 40px auto; background: #f5f5f5; }
        .container { background: white; padding: 24px; border-radius: 8px; }
        img { max-width: 100%; }
        #status { font-weight: bold; }
    </style>
</head>
<body>
    <div class="container">
        <h1>ColorChecker</h1>
        <p>Within tolerance: <span id="status">?</span></p>
        <img src="/stream" alt="preview">
        <ul>
            <li><a href="/api/status">/api/status</a></li>
            <li><a href="/api/parameters">/api/parameters</a></li>
            <li><a href="/api/stats">/api/stats</a></li>
            <li><a href="/cgi/getstatus.cgi">/cgi/getstatus.cgi</a></li>
        </ul>
    </div>
    <script>
        const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/api/events");
        ws.onmessage = (m) => { document.getElementById("status").textContent = JSON.parse(m.data).active; };
    </script>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}
