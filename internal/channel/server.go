// Package channel exposes the relay to the outside world: a WebSocket chat
// endpoint plus a small JSON API on one HTTP server, and optional Telegram,
// Discord, Slack, and terminal front ends.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"babelbot/internal/domain"
	"babelbot/internal/language"
	"babelbot/internal/metrics"
	"babelbot/internal/relay"
	"babelbot/internal/translator"
)

// Processor runs one chat turn. Satisfied by relay.Relay.
type Processor interface {
	Process(ctx context.Context, payload domain.ChatPayload) (domain.Reply, error)
}

// RouteLister reports the configured translation routes. Satisfied by
// translator.Registry.
type RouteLister interface {
	Routes() []translator.RouteStatus
}

// ServerConfig configures the HTTP and WebSocket server.
type ServerConfig struct {
	Host            string
	Port            int
	ChatPath        string
	QueueDepth      int
	MaxMessageBytes int64
	MetricsEnabled  bool
	MetricsEndpoint string
	Version         string

	Relay      Processor
	Translator domain.Translator
	Routes     RouteLister
	Logger     *slog.Logger
}

// Server hosts the chat WebSocket and the JSON API.
type Server struct {
	host            string
	port            int
	chatPath        string
	queueDepth      int
	maxMessageBytes int64
	metricsEnabled  bool
	metricsEndpoint string
	version         string

	relay      Processor
	translator domain.Translator
	routes     RouteLister
	logger     *slog.Logger
	server     *http.Server

	// baseCtx outlives individual requests so in-flight turns can finish
	// writing after a read loop returns. Set by Start.
	baseCtx context.Context

	mu    sync.RWMutex
	conns map[string]*chatConn
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ChatPath == "" {
		cfg.ChatPath = "/ws/chat"
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 32
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}
	if cfg.MetricsEndpoint == "" {
		cfg.MetricsEndpoint = "/metrics"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		host:            cfg.Host,
		port:            cfg.Port,
		chatPath:        cfg.ChatPath,
		queueDepth:      cfg.QueueDepth,
		maxMessageBytes: cfg.MaxMessageBytes,
		metricsEnabled:  cfg.MetricsEnabled,
		metricsEndpoint: cfg.MetricsEndpoint,
		version:         cfg.Version,
		relay:           cfg.Relay,
		translator:      cfg.Translator,
		routes:          cfg.Routes,
		logger:          cfg.Logger,
		baseCtx:         context.Background(),
		conns:           make(map[string]*chatConn),
	}
}

// Handler builds the route table. Exposed so tests can serve it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleInfo)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /languages", s.handleLanguages)
	mux.HandleFunc("POST /translate", s.handleTranslate)
	mux.HandleFunc("GET "+s.chatPath, s.handleChat)
	if s.metricsEnabled {
		mux.HandleFunc("GET "+s.metricsEndpoint, metrics.Collector.Handler())
	}
	return mux
}

// Start runs the server until ctx is cancelled, then closes open chat
// connections and shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("server starting", "addr", "http://"+addr, "chat_path", s.chatPath)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("server shutting down")
		s.closeAllConns()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("chat server: %w", err)
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	var pairs []string
	if s.routes != nil {
		for _, route := range s.routes.Routes() {
			pairs = append(pairs, route.Pair.Key())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "babelbot",
		"version":   s.version,
		"chat_path": s.chatPath,
		"pairs":     pairs,
		"time":      time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(metrics.Collector.Uptime().Seconds()),
	})
}

// languageInfo is one side of a route in the /languages response.
type languageInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	type routeInfo struct {
		Pair   string       `json:"pair"`
		Source languageInfo `json:"source"`
		Target languageInfo `json:"target"`
		Model  string       `json:"model"`
		State  string       `json:"state"`
	}

	routes := []routeInfo{}
	if s.routes != nil {
		for _, route := range s.routes.Routes() {
			routes = append(routes, routeInfo{
				Pair:   route.Pair.Key(),
				Source: languageInfo{Code: route.Pair.Source, Name: language.Name(route.Pair.Source)},
				Target: languageInfo{Code: route.Pair.Target, Name: language.Name(route.Pair.Target)},
				Model:  route.Model,
				State:  route.State,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": routes})
}

func (s *Server) closeAllConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.conns {
		c.conn.Close()
		delete(s.conns, id)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

var _ Processor = (*relay.Relay)(nil)
var _ RouteLister = (*translator.Registry)(nil)
