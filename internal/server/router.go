package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"lipstalk/internal/bus"
	"lipstalk/internal/collection"
	"lipstalk/internal/logging"
	"lipstalk/internal/pipeline"
	"lipstalk/internal/services"
)

// RequestIDHeader carries the correlation id in both directions.
const RequestIDHeader = "X-Request-ID"

// Attempts is the orchestrator surface the API drives.
type Attempts interface {
	Snapshot() pipeline.Snapshot
	Start(ctx context.Context) (pipeline.Snapshot, error)
	TranscribeClip(ctx context.Context, key string) (pipeline.Snapshot, error)
	Stop() error
	Cancel() error
	Dismiss() error
	Acknowledge() error
	RetryPersist(ctx context.Context) (pipeline.Snapshot, error)
}

// Transcripts lists and deletes stored transcripts.
type Transcripts interface {
	List(ctx context.Context) ([]collection.Transcript, error)
	DeleteByKey(ctx context.Context, key string) (bool, error)
}

// Clips lists and deletes retained clips.
type Clips interface {
	List(ctx context.Context) ([]collection.Clip, error)
	DeleteByKey(ctx context.Context, key string) (bool, error)
}

// Deps holds what the router serves.
type Deps struct {
	Attempts    Attempts
	Transcripts Transcripts
	Clips       Clips
	Publisher   bus.Publisher
	Logger      *slog.Logger
	// Health contributes extra fields to GET /api/health.
	Health func() map[string]any
}

// NewRouter builds the /api routes.
func NewRouter(deps Deps) http.Handler {
	h := &handlers{
		attempts:    deps.Attempts,
		transcripts: deps.Transcripts,
		clips:       deps.Clips,
		publisher:   deps.Publisher,
		health:      deps.Health,
		logger:      logging.NewComponentLogger(deps.Logger, "api-server"),
	}
	if h.publisher == nil {
		h.publisher = discardPublisher{}
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handleHealth)

		r.Get("/transcripts", h.handleListTranscripts)
		r.Delete("/transcripts/{key}", h.handleDeleteTranscript)

		r.Get("/clips", h.handleListClips)
		r.Delete("/clips/{key}", h.handleDeleteClip)
		r.Post("/clips/{key}/transcribe", h.handleTranscribeClip)

		r.Get("/attempt", h.handleAttempt)
		r.Post("/attempt/{command}", h.handleAttemptCommand)
	})
	return r
}

type discardPublisher struct{}

func (discardPublisher) Publish(bus.Topic, map[string]string) {}

// requestID stamps each request with an id, reusing the caller's when given.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logging.WithContext(r.Context(), logger).Debug("api request",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", ww.Status()),
				logging.Duration("duration", time.Since(started)),
			)
		})
	}
}
