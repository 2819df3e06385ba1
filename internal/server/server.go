// Package server exposes tracking sessions over websocket, plus health,
// metrics and library endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/normanking/cortexpuppet/internal/bus"
	"github.com/normanking/cortexpuppet/internal/character"
	"github.com/normanking/cortexpuppet/internal/config"
	"github.com/normanking/cortexpuppet/internal/logging"
	"github.com/normanking/cortexpuppet/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Options configures a Server.
type Options struct {
	Config           config.ServerConfig
	Mapping          config.MappingConfig
	Library          *character.Library
	DefaultCharacter string
	Bus              *bus.EventBus

	// Sinks receive every session's results in addition to the client.
	Sinks  []session.Sink
	Logger zerolog.Logger

	// Logs, when set, serves log history on /api/logs.
	Logs *logging.Logger
}

// Server handles the HTTP server and websocket tracking connections
type Server struct {
	opts     Options
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	mapping config.MappingConfig
	conns   map[*conn]struct{}
	closing bool

	// connsWG counts tracking connections until their sessions have
	// finished; http.Server.Shutdown does not track hijacked connections.
	connsWG sync.WaitGroup

	httpServer *http.Server
}

// New creates a Server.
func New(opts Options) *Server {
	s := &Server{
		opts:    opts,
		log:     opts.Logger,
		mapping: opts.Mapping,
		conns:   make(map[*conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/templates", s.handleTemplates)
	mux.HandleFunc("GET /api/characters", s.handleCharacters)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /ws/track", s.handleTrack)
	return mux
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.opts.Config.Addr,
		Handler: s.Handler(),
	}

	s.log.Info().Str("addr", s.opts.Config.Addr).Msg("starting tracking server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Config.ShutdownTimeout)
		defer cancel()
		s.closeAll()
		err := s.httpServer.Shutdown(shutdownCtx)
		if werr := s.waitConns(shutdownCtx); err == nil {
			err = werr
		}
		return err
	}
}

// waitConns blocks until every tracking connection has stopped its session
// and finished its sinks, or ctx is done.
func (s *Server) waitConns(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.connsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.log.Warn().Msg("tracking connections still open at shutdown deadline")
		return ctx.Err()
	}
}

// ApplyMapping replaces the mapping config. Mapper fields that changed are
// patched into every open session, so per-session overrides of unchanged
// fields survive. Filter and synonym changes apply to sessions started
// afterwards.
func (s *Server) ApplyMapping(m config.MappingConfig) {
	s.mu.Lock()
	patch := s.mapping.Config.Diff(m.Config)
	s.mapping = m
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if !patch.Empty() {
		for _, c := range conns {
			c.applyPatch(patch)
		}
	}
	s.log.Info().Int("sessions", len(conns)).Interface("mapping", m.Config).Msg("mapping config applied")
}

// Sessions returns the number of connections with an active session.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for c := range s.conns {
		if c.active() {
			n++
		}
	}
	return n
}

func (s *Server) currentMapping() config.MappingConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mapping
}

// addConn registers c. It reports false once shutdown has begun.
func (s *Server) addConn(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c] = struct{}{}
	s.connsWG.Add(1)
	return true
}

func (s *Server) removeConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.connsWG.Done()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	s.closing = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.Config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.Config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	if s.opts.Config.MaxMessageBytes > 0 {
		ws.SetReadLimit(s.opts.Config.MaxMessageBytes)
	}

	c := newConn(s, ws, r.RemoteAddr)
	if !s.addConn(c) {
		c.shutdown()
		return
	}
	defer s.removeConn(c)

	c.serve(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.Sessions(),
	})
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if s.opts.Library == nil {
		writeJSON(w, http.StatusOK, []*character.Template{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Library.Templates())
}

func (s *Server) handleCharacters(w http.ResponseWriter, r *http.Request) {
	if s.opts.Library == nil {
		writeJSON(w, http.StatusOK, []*character.Character{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Library.Characters())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.opts.Logs == nil {
		http.Error(w, "log history disabled", http.StatusNotFound)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.opts.Logs.History(limit))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
