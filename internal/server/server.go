// Package server provides the HTTP server for the mudra recognition service.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ayusman/mudra/internal/recognizer"
	"github.com/ayusman/mudra/internal/server/api"
	"github.com/ayusman/mudra/internal/store"
)

// Config holds the server configuration.
type Config struct {
	StaticDir      string
	Store          *store.Store
	Registry       *recognizer.Registry
	AllowedOrigins []string
}

// Server represents the HTTP server.
type Server struct {
	config  Config
	mux     *http.ServeMux
	handler http.Handler
	start   time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	s.handler = withCORS(config.AllowedOrigins, s.mux)
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Registry != nil {
		recognizers := api.NewRecognizerHandler(s.config.Registry)
		s.mux.Handle("/api/recognizers", recognizers)
		s.mux.Handle("/api/recognizers/", recognizers)

		// Each recognizer answers on its own route, plus capture and
		// websocket variants of it.
		for _, rec := range s.config.Registry.List() {
			route := rec.Route()

			predict := NewRecognitionHandler(rec)
			s.mux.Handle(route, predict)
			s.mux.Handle(route+"/", predict)

			capture := NewCaptureHandler(rec)
			s.mux.Handle("/capture"+route, capture)
			s.mux.Handle("/capture"+route+"/", capture)

			s.mux.Handle("/ws"+route, NewStreamHandler(rec, s.config.AllowedOrigins))
		}
	}

	if s.config.Store != nil {
		s.mux.Handle("/api/predictions", api.NewPredictionHandler(s.config.Store))
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	recognizers := 0
	if s.config.Registry != nil {
		recognizers = len(s.config.Registry.List())
	}

	response := map[string]interface{}{
		"status":      "ok",
		"uptime":      time.Since(s.start).String(),
		"recognizers": recognizers,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}
