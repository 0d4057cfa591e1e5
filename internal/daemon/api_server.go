package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mirrordrive/internal/api"
	"mirrordrive/internal/config"
	"mirrordrive/internal/logging"
	"mirrordrive/internal/mount"
)

type apiServer struct {
	bind         string
	logger       *slog.Logger
	daemon       *Daemon
	handler      http.Handler
	writeTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil || cfg.Paths.APIBind == "" {
		return nil
	}
	// Foreground attaches may wait through both timeouts.
	srv := &apiServer{
		bind:         cfg.Paths.APIBind,
		logger:       logger,
		daemon:       d,
		writeTimeout: cfg.AttachTimeout() + cfg.ExtendedTimeout() + 30*time.Second,
	}
	srv.handler = srv.routes(cfg.Paths.APIToken)
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(authMiddleware(token))

	r.Get("/metrics", promhttp.HandlerFor(s.daemon.Gatherer(), promhttp.HandlerOpts{}).ServeHTTP)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Route("/mounts", func(r chi.Router) {
			r.Get("/", s.handleMounts)
			r.Get("/{ref}", s.handleMount)
			r.Post("/{ref}/attach", s.handleAttach)
			r.Post("/{ref}/detach", s.handleDetach)
		})
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server, listener := s.server, s.listener
	s.server, s.listener = nil, nil
	s.mu.Unlock()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	if listener != nil {
		_ = listener.Close()
	}
}

// address returns the bound address once listening, else the configured bind.
func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

func (s *apiServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *apiServer) handleMounts(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.MountListResponse{Entries: s.daemon.List()})
}

func (s *apiServer) handleMount(w http.ResponseWriter, r *http.Request) {
	entry, err := s.daemon.Get(chi.URLParam(r, "ref"))
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.MountEntryResponse{Entry: entry})
}

func (s *apiServer) handleAttach(w http.ResponseWriter, r *http.Request) {
	s.handleOperation(w, r, s.daemon.Attach)
}

func (s *apiServer) handleDetach(w http.ResponseWriter, r *http.Request) {
	s.handleOperation(w, r, s.daemon.Detach)
}

func (s *apiServer) handleOperation(w http.ResponseWriter, r *http.Request, op func(context.Context, string, bool) (api.OperationResult, error)) {
	wait := false
	if raw := r.URL.Query().Get("wait"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid wait parameter")
			return
		}
		wait = parsed
	}
	result, err := op(r.Context(), chi.URLParam(r, "ref"), wait)
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	status := http.StatusOK
	if result.Backgrounded {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, result)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, mount.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, mount.ErrInProgress),
		errors.Is(err, mount.ErrBusy),
		errors.Is(err, mount.ErrNotAttachable),
		errors.Is(err, mount.ErrNotAttached),
		errors.Is(err, mount.ErrTargetInUse):
		return http.StatusConflict
	case errors.Is(err, mount.ErrNoTarget),
		errors.Is(err, mount.ErrInvalidTarget),
		errors.Is(err, mount.ErrSourceMissing):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		s.log().Warn("api encode failed", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s == nil || s.logger == nil {
		return logging.NewNop()
	}
	return logging.NewComponentLogger(s.logger, "api-server")
}
