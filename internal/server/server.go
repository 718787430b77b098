package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"lipstalk/internal/config"
	"lipstalk/internal/logging"
)

// LockFileName guards against two servers sharing one data directory.
const LockFileName = "lipstalk-serve.lock"

// Server runs the HTTP API and the camera hotplug monitor.
type Server struct {
	bind     string
	logger   *slog.Logger
	lockPath string
	lock     *flock.Flock
	monitor  *deviceMonitor

	handler  http.Handler
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// New builds a server for cfg. Hotplug events are published on
// deps.Publisher when one is provided.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server requires config")
	}
	if deps.Attempts == nil || deps.Transcripts == nil || deps.Clips == nil {
		return nil, errors.New("server requires attempts, transcripts, and clips")
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, fmt.Errorf("paths.api_bind is empty")
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, LockFileName)
	s := &Server{
		bind:     bind,
		logger:   logging.NewComponentLogger(deps.Logger, "server"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		monitor:  newDeviceMonitor(cfg, deps.Publisher, deps.Logger),
	}

	health := deps.Health
	deps.Health = func() map[string]any {
		out := map[string]any{"device_monitor": s.monitor.Running()}
		if health != nil {
			for k, v := range health() {
				out[k] = v
			}
		}
		return out
	}
	s.handler = NewRouter(deps)
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr is the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

// Start takes the instance lock, listens, and starts the device monitor.
// The server shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return errors.New("server already running")
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another lipstalk server is already running")
	}

	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		_ = s.lock.Unlock()
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.running.Store(true)

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if err := s.monitor.Start(ctx); err != nil {
		s.logger.Warn("device monitor unavailable", logging.Error(err))
	}

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String("lock", s.lockPath),
	)
	return nil
}

// Stop shuts the HTTP server down, stops the monitor, and releases the lock.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown", logging.Error(err))
	}
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("failed to release server lock", logging.Error(err))
	}
	s.logger.Info("api server stopped")
}
