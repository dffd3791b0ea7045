// Package server provides the HTTP server for the watchpost face recognition node.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/watchpost/internal/capture"
	"github.com/ayusman/watchpost/internal/detector"
	"github.com/ayusman/watchpost/internal/logging"
	"github.com/ayusman/watchpost/internal/server/api"
	"github.com/ayusman/watchpost/internal/store"
)

// Status is the pipeline state reported by /api/health.
type Status struct {
	GallerySize int     `json:"gallery_size"`
	Recorder    string  `json:"recorder"`
	FPS         float64 `json:"fps"`
}

// Config holds the server configuration. Routes whose dependencies are nil are not registered.
type Config struct {
	StaticDir string
	// Frames is the raw camera hub, Annotated the hub with drawn detections.
	Frames    *capture.Hub
	Annotated *capture.Hub
	StreamFPS int
	Streaming bool

	Detector detector.Detector
	Enroller api.Enroller
	Queue    *store.Queue
	Events   *EventsHandler
	Metrics  http.Handler
	Status   func() Status
}

// Server represents the HTTP server for the watchpost node.
type Server struct {
	config    Config
	mux       *http.ServeMux
	start     time.Time
	streaming atomic.Bool
	log       *slog.Logger

	mu       sync.Mutex
	onStream []func(bool)
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		log:    logging.ForService("server"),
	}
	s.streaming.Store(config.Streaming)
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/stream/toggle", s.handleToggle)

	if s.config.Frames != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Frames, s.Streaming, s.config.StreamFPS))
	}
	if s.config.Annotated != nil {
		s.mux.Handle("/api/stream/annotated", NewStreamHandler(s.config.Annotated, s.Streaming, s.config.StreamFPS))
	}

	if s.config.Detector != nil {
		s.mux.Handle("/api/detect", api.NewDetectHandler(s.config.Detector))
		if s.config.Enroller != nil && s.config.Queue != nil {
			s.mux.Handle("/api/faces", api.NewFacesHandler(s.config.Detector, s.config.Enroller, s.config.Queue))
		}
	}

	if s.config.Events != nil {
		s.mux.Handle("/api/events", s.config.Events)
	}
	if s.config.Metrics != nil {
		s.mux.Handle("/metrics", s.config.Metrics)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Streaming reports whether MJPEG streams are served.
func (s *Server) Streaming() bool {
	return s.streaming.Load()
}

// SetStreaming enables or disables MJPEG streaming and notifies OnStreamingChange callbacks.
func (s *Server) SetStreaming(on bool) {
	if s.streaming.Swap(on) == on {
		return
	}
	s.log.Info("streaming toggled", "streaming", on)

	s.mu.Lock()
	callbacks := append([]func(bool){}, s.onStream...)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn(on)
	}
}

// OnStreamingChange registers fn to be called whenever streaming is toggled.
func (s *Server) OnStreamingChange(fn func(bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStream = append(s.onStream, fn)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"status":    "ok",
		"uptime":    time.Since(s.start).String(),
		"streaming": s.Streaming(),
	}
	if s.config.Status != nil {
		st := s.config.Status()
		response["gallery_size"] = st.GallerySize
		response["recorder"] = st.Recorder
		response["fps"] = st.FPS
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// handleToggle handles POST /api/stream/toggle.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.SetStreaming(!s.Streaming())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"streaming": s.Streaming()})
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.config.Events != nil {
		s.config.Events.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	s.log.Info("http server stopped")
	return nil
}
