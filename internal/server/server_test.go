package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lipstalk/internal/bus"
	"lipstalk/internal/collection"
	"lipstalk/internal/config"
	"lipstalk/internal/pipeline"
	"lipstalk/internal/services"
	"lipstalk/internal/testsupport"
)

type fakeAttempts struct {
	mu       sync.Mutex
	snap     pipeline.Snapshot
	startErr error
	calls    []string
}

func (f *fakeAttempts) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeAttempts) Snapshot() pipeline.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeAttempts) Start(context.Context) (pipeline.Snapshot, error) {
	f.record("start")
	if f.startErr != nil {
		return f.Snapshot(), f.startErr
	}
	f.mu.Lock()
	f.snap = pipeline.Snapshot{ID: "a1", State: pipeline.StateRecording, MaxSeconds: 10, Remaining: "00:10"}
	f.mu.Unlock()
	return f.Snapshot(), nil
}

func (f *fakeAttempts) TranscribeClip(_ context.Context, key string) (pipeline.Snapshot, error) {
	f.record("transcribe:" + key)
	if key == "missing.mp4" {
		return f.Snapshot(), services.Wrap(services.ErrNotFound, "collection", "get clip", "no clip", nil)
	}
	return pipeline.Snapshot{ID: "a2", State: pipeline.StateTranscribing, ClipKey: key}, nil
}

func (f *fakeAttempts) Stop() error {
	f.record("stop")
	if f.Snapshot().State != pipeline.StateRecording {
		return fmt.Errorf("%w: stop", pipeline.ErrInvalidTransition)
	}
	return nil
}

func (f *fakeAttempts) Cancel() error      { f.record("cancel"); return nil }
func (f *fakeAttempts) Dismiss() error     { f.record("dismiss"); return nil }
func (f *fakeAttempts) Acknowledge() error { f.record("acknowledge"); return nil }

func (f *fakeAttempts) RetryPersist(context.Context) (pipeline.Snapshot, error) {
	f.record("retry")
	return f.Snapshot(), fmt.Errorf("%w: nothing to retry", pipeline.ErrInvalidTransition)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []bus.Event
}

func (p *recordingPublisher) Publish(topic bus.Topic, fields map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, bus.Event{Topic: topic, Fields: fields})
}

func (p *recordingPublisher) all() []bus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bus.Event(nil), p.events...)
}

type fixture struct {
	cfg         *config.Config
	attempts    *fakeAttempts
	transcripts *collection.TranscriptStore
	clips       *collection.ClipStore
	publisher   *recordingPublisher
	handler     http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	f := &fixture{
		cfg:         cfg,
		attempts:    &fakeAttempts{snap: pipeline.Snapshot{State: pipeline.StateIdle}},
		transcripts: testsupport.MustOpenTranscripts(t, cfg),
		clips:       testsupport.MustOpenClips(t, cfg),
		publisher:   &recordingPublisher{},
	}
	f.handler = NewRouter(Deps{
		Attempts:    f.attempts,
		Transcripts: f.transcripts,
		Clips:       f.clips,
		Publisher:   f.publisher,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func (f *fixture) seedTranscripts(t *testing.T) []collection.Transcript {
	t.Helper()
	ctx := context.Background()
	var out []collection.Transcript
	for _, item := range []struct {
		text string
		at   time.Time
	}{
		{"Hola Mundo", time.Date(2024, 3, 2, 9, 0, 0, 0, time.Local)},
		{"buenas noches", time.Date(2024, 4, 2, 21, 0, 0, 0, time.Local)},
		{"HOLA otra vez", time.Date(2025, 3, 14, 10, 0, 0, 0, time.Local)},
	} {
		stored, err := f.transcripts.Append(ctx, collection.NewTranscript(item.text, item.at))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		out = append(out, stored)
	}
	return out
}

func TestListTranscriptsFiltersAndSearches(t *testing.T) {
	f := newFixture(t)
	f.seedTranscripts(t)

	all := decode[TranscriptListResponse](t, f.do(t, http.MethodGet, "/api/transcripts"))
	if all.Total != 3 {
		t.Fatalf("expected 3 transcripts, got %d", all.Total)
	}

	march := decode[TranscriptListResponse](t, f.do(t, http.MethodGet, "/api/transcripts?month=3"))
	if march.Total != 2 {
		t.Fatalf("expected 2 march transcripts, got %d", march.Total)
	}

	hola := decode[TranscriptListResponse](t, f.do(t, http.MethodGet, "/api/transcripts?year=2024&q=hola"))
	if hola.Total != 1 || hola.Items[0].Text != "Hola Mundo" {
		t.Fatalf("unexpected search result %+v", hola.Items)
	}

	none := f.do(t, http.MethodGet, "/api/transcripts?year=1999")
	if body := decode[TranscriptListResponse](t, none); body.Items == nil || body.Total != 0 {
		t.Fatalf("expected empty list, got %s", none.Body.String())
	}

	if w := f.do(t, http.MethodGet, "/api/transcripts?month=13"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid month, got %d", w.Code)
	}
}

func TestDeleteTranscriptPublishesChange(t *testing.T) {
	f := newFixture(t)
	records := f.seedTranscripts(t)

	w := f.do(t, http.MethodDelete, "/api/transcripts/"+records[0].Key())
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	events := f.publisher.all()
	if len(events) != 1 || events[0].Topic != bus.TopicTranscriptsChanged || events[0].Field("action") != "deleted" {
		t.Fatalf("unexpected events %+v", events)
	}

	if w := f.do(t, http.MethodDelete, "/api/transcripts/"+records[0].Key()); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", w.Code)
	}
	if len(f.publisher.all()) != 1 {
		t.Fatal("a failed delete must not publish")
	}
}

func TestClipRoutes(t *testing.T) {
	f := newFixture(t)
	testsupport.WriteClip(t, filepath.Join(f.clips.Dir(), "14-03-2025_09-30-05.mp4"), 128)
	testsupport.WriteClip(t, filepath.Join(f.clips.Dir(), "02-2024-04_21:00:00.mp4"), 128)

	list := decode[ClipListResponse](t, f.do(t, http.MethodGet, "/api/clips?year=2025"))
	if list.Total != 1 || list.Items[0].Name != "14-03-2025_09-30-05.mp4" {
		t.Fatalf("unexpected clips %+v", list.Items)
	}

	w := f.do(t, http.MethodPost, "/api/clips/14-03-2025_09-30-05.mp4/transcribe")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if got := decode[AttemptResponse](t, w); got.Attempt.ClipKey != "14-03-2025_09-30-05.mp4" {
		t.Fatalf("unexpected attempt %+v", got.Attempt)
	}
	if w := f.do(t, http.MethodPost, "/api/clips/missing.mp4/transcribe"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing clip, got %d", w.Code)
	}

	if w := f.do(t, http.MethodDelete, "/api/clips/14-03-2025_09-30-05.mp4"); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	events := f.publisher.all()
	if len(events) != 1 || events[0].Topic != bus.TopicClipsChanged {
		t.Fatalf("unexpected events %+v", events)
	}
	if w := f.do(t, http.MethodDelete, "/api/clips/14-03-2025_09-30-05.mp4"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAttemptCommands(t *testing.T) {
	f := newFixture(t)

	if got := decode[AttemptResponse](t, f.do(t, http.MethodGet, "/api/attempt")); got.Attempt.State != pipeline.StateIdle {
		t.Fatalf("expected idle, got %s", got.Attempt.State)
	}
	if w := f.do(t, http.MethodPost, "/api/attempt/stop"); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stop while idle, got %d", w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/attempt/start")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if got := decode[AttemptResponse](t, w); got.Attempt.State != pipeline.StateRecording || got.Attempt.Remaining != "00:10" {
		t.Fatalf("unexpected snapshot %+v", got.Attempt)
	}

	for _, cmd := range []string{"stop", "cancel", "dismiss", "acknowledge"} {
		if w := f.do(t, http.MethodPost, "/api/attempt/"+cmd); w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", cmd, w.Code)
		}
	}
	if w := f.do(t, http.MethodPost, "/api/attempt/retry"); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for retry, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/attempt/explode"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown command, got %d", w.Code)
	}
}

func TestStartPermissionDeniedIsForbidden(t *testing.T) {
	f := newFixture(t)
	f.attempts.startErr = services.Wrap(services.ErrPermissionDenied, "start", "permissions", "camera", nil)

	w := f.do(t, http.MethodPost, "/api/attempt/start")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	body := decode[map[string]string](t, w)
	if body["reason"] != string(services.ReasonPermissionDenied) {
		t.Fatalf("unexpected reason %q", body["reason"])
	}
}

func TestRequestIDHeader(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestServerLockAllowsOneInstance(t *testing.T) {
	f := newFixture(t)
	deps := Deps{Attempts: f.attempts, Transcripts: f.transcripts, Clips: f.clips, Publisher: f.publisher}

	first, err := New(f.cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Stop()

	resp, err := http.Get("http://" + first.Addr() + "/api/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	health := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if _, ok := health["device_monitor"]; !ok {
		t.Fatalf("expected device_monitor in health, got %v", health)
	}

	second, err := New(f.cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected second instance to fail to lock")
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("expected start after release, got %v", err)
	}
	second.Stop()
}

func TestNewRequiresCollaborators(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := New(cfg, Deps{}); err == nil {
		t.Fatal("expected error without collaborators")
	}
}
