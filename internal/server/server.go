// Package server exposes the operational HTTP surface of an enrichment run.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-enricher/internal/company"
	"github.com/JakeFAU/company-enricher/internal/dispatcher"
	"github.com/JakeFAU/company-enricher/internal/metrics"
)

// ReadyFunc reports whether downstream dependencies are usable.
type ReadyFunc func(ctx context.Context) error

// ProgressSource reports the state of the running dispatcher.
type ProgressSource interface {
	Progress() dispatcher.Summary
}

// Config controls the listener.
type Config struct {
	Port         int
	ReadyTimeout time.Duration
}

// Server serves health, readiness, metrics and run progress.
type Server struct {
	router   chi.Router
	cfg      Config
	ready    ReadyFunc
	progress ProgressSource
	logger   *zap.Logger

	srv *http.Server
}

type requestIDKey struct{}

// New builds the router. ready and progress may be nil.
func New(cfg Config, ready ReadyFunc, progress ProgressSource, logger *zap.Logger) *Server {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, ready: ready, progress: progress, logger: logger.Named("server")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/v1/progress", s.getProgress)

	s.router = r
	return s
}

// Handler returns the router for use with an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured port until Shutdown. It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.cfg.Port, err)
	}
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("ops server started", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ops server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the listener, waiting for in-flight requests up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown ops server: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ReadyTimeout)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type progressResponse struct {
	Batches        int                     `json:"batches"`
	Records        int                     `json:"records"`
	Cursor         int64                   `json:"cursor"`
	Interrupted    bool                    `json:"interrupted"`
	ElapsedSeconds float64                 `json:"elapsed_seconds"`
	Outcomes       map[company.Outcome]int `json:"outcomes"`
}

func (s *Server) getProgress(w http.ResponseWriter, _ *http.Request) {
	if s.progress == nil {
		writeError(w, http.StatusNotFound, "no run in progress")
		return
	}
	sum := s.progress.Progress()
	outcomes := make(map[company.Outcome]int, len(company.Outcomes))
	for _, o := range company.Outcomes {
		outcomes[o] = sum.Outcomes[o]
	}
	writeJSON(w, http.StatusOK, progressResponse{
		Batches:        sum.Batches,
		Records:        sum.Records,
		Cursor:         sum.Cursor,
		Interrupted:    sum.Interrupted,
		ElapsedSeconds: sum.Elapsed.Seconds(),
		Outcomes:       outcomes,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				reqID, _ := r.Context().Value(requestIDKey{}).(string)
				s.logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.String("request_id", reqID),
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
