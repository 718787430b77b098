package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"lipstalk/internal/bus"
	"lipstalk/internal/capture"
	"lipstalk/internal/clock"
	"lipstalk/internal/collection"
	"lipstalk/internal/config"
	"lipstalk/internal/logging"
	"lipstalk/internal/media"
	"lipstalk/internal/normalize"
	"lipstalk/internal/testsupport"
	"lipstalk/internal/transcription"
	"lipstalk/internal/transcription/mocks"
)

const waitTimeout = 5 * time.Second

type fakeHandle string

func (h fakeHandle) ID() string { return string(h) }

type fakeDevice struct {
	dir         string
	beginErr    error
	finalizeErr error

	begun     atomic.Int32
	finalized atomic.Int32
}

func (d *fakeDevice) BeginCapture(ctx context.Context) (capture.Handle, error) {
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	n := d.begun.Add(1)
	return fakeHandle(fmt.Sprintf("capture-%d", n)), nil
}

func (d *fakeDevice) Finalize(ctx context.Context, h capture.Handle) (media.ClipRef, error) {
	d.finalized.Add(1)
	if d.finalizeErr != nil {
		return media.ClipRef{}, d.finalizeErr
	}
	ref := media.ClipRef{Path: filepath.Join(d.dir, "raw-"+h.ID()+".mkv"), Kind: media.KindRaw}
	if err := os.WriteFile(ref.Path, []byte("raw-video"), 0o644); err != nil {
		return media.ClipRef{}, err
	}
	return ref, nil
}

type stubNormalizer struct {
	dir   string
	err   error
	calls atomic.Int32
}

func (n *stubNormalizer) Normalize(ctx context.Context, raw media.ClipRef, params normalize.Params) (media.ClipRef, error) {
	count := n.calls.Add(1)
	if n.err != nil {
		return media.ClipRef{}, n.err
	}
	if !raw.Usable() {
		return media.ClipRef{}, errors.New("raw clip missing")
	}
	ref := media.ClipRef{Path: filepath.Join(n.dir, fmt.Sprintf("normalized-%d.mp4", count)), Kind: media.KindNormalized}
	if err := os.WriteFile(ref.Path, []byte("normalized-video"), 0o644); err != nil {
		return media.ClipRef{}, err
	}
	return ref, nil
}

type flakyTranscripts struct {
	inner    *collection.TranscriptStore
	failures atomic.Int32
}

func (f *flakyTranscripts) Append(ctx context.Context, record collection.Transcript) (collection.Transcript, error) {
	if f.failures.Add(-1) >= 0 {
		return collection.Transcript{}, errors.New("disk full")
	}
	return f.inner.Append(ctx, record)
}

func (f *flakyTranscripts) DeleteByKey(ctx context.Context, key string) (bool, error) {
	return f.inner.DeleteByKey(ctx, key)
}

// gatedTranscripts holds Append until release is closed. entered is closed
// once the first Append has begun.
type gatedTranscripts struct {
	inner     *collection.TranscriptStore
	entered   chan struct{}
	release   chan struct{}
	once      sync.Once
	deleteErr error
}

func newGatedTranscripts(inner *collection.TranscriptStore) *gatedTranscripts {
	return &gatedTranscripts{inner: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedTranscripts) Append(ctx context.Context, record collection.Transcript) (collection.Transcript, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.inner.Append(ctx, record)
}

func (g *gatedTranscripts) DeleteByKey(ctx context.Context, key string) (bool, error) {
	if g.deleteErr != nil {
		return false, g.deleteErr
	}
	return g.inner.DeleteByKey(ctx, key)
}

type recordingBus struct {
	mu     sync.Mutex
	events []bus.Event
}

func (b *recordingBus) Publish(topic bus.Topic, fields map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, bus.Event{Topic: topic, Fields: fields})
}

func (b *recordingBus) topics() []bus.Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bus.Topic, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, ev.Topic)
	}
	return out
}

type snapshotLog struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (l *snapshotLog) observe(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snaps = append(l.snaps, s)
}

func (l *snapshotLog) all() []Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Snapshot(nil), l.snaps...)
}

type harness struct {
	t           *testing.T
	cfg         *config.Config
	orch        *Orchestrator
	clock       *clock.Manual
	device      *fakeDevice
	normalizer  *stubNormalizer
	transcripts *collection.TranscriptStore
	clips       *collection.ClipStore
	bus         *recordingBus
	log         *snapshotLog
}

type harnessOption func(*Dependencies, *Options)

func withOptions(fn func(*Options)) harnessOption {
	return func(_ *Dependencies, o *Options) { fn(o) }
}

func withDeps(fn func(*Dependencies)) harnessOption {
	return func(d *Dependencies, _ *Options) { fn(d) }
}

func newHarness(t *testing.T, transcriber transcription.Client, opts ...harnessOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithMaxDuration(20))
	h := &harness{
		t:           t,
		cfg:         cfg,
		clock:       clock.NewManual(time.Date(2025, 3, 14, 9, 30, 0, 0, time.Local)),
		device:      &fakeDevice{dir: cfg.Paths.StagingDir},
		normalizer:  &stubNormalizer{dir: cfg.Paths.StagingDir},
		transcripts: testsupport.MustOpenTranscripts(t, cfg),
		clips:       testsupport.MustOpenClips(t, cfg),
		bus:         &recordingBus{},
		log:         &snapshotLog{},
	}
	deps := Dependencies{
		Device:      h.device,
		Normalizer:  h.normalizer,
		Transcriber: transcriber,
		Transcripts: h.transcripts,
		Clips:       h.clips,
		Bus:         h.bus,
		Clock:       h.clock,
		Logger:      logging.NewNop(),
	}
	options := OptionsFromConfig(cfg)
	options.KeepClips = true
	for _, opt := range opts {
		opt(&deps, &options)
	}
	orch, err := New(deps, options)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	orch.Observe(h.log.observe)
	t.Cleanup(orch.Close)
	h.orch = orch
	return h
}

func answering(t *testing.T, text string) transcription.Client {
	t.Helper()
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().Transcribe(gomock.Any(), gomock.Any()).Return(transcription.Result{Text: text}, nil).AnyTimes()
	return client
}

func (h *harness) start() Snapshot {
	h.t.Helper()
	snap, err := h.orch.Start(context.Background())
	if err != nil {
		h.t.Fatalf("Start: %v", err)
	}
	return snap
}

// waitFor polls the orchestrator until pred holds.
func (h *harness) waitFor(desc string, pred func(Snapshot) bool) Snapshot {
	h.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		snap := h.orch.Snapshot()
		if pred(snap) {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s; last snapshot %+v", desc, h.orch.Snapshot())
	return Snapshot{}
}

func (h *harness) waitState(state State) Snapshot {
	h.t.Helper()
	return h.waitFor(string(state), func(s Snapshot) bool { return s.State == state })
}

func (h *harness) tick(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		if h.clock.Tick() != 1 {
			h.t.Fatalf("tick %d was not delivered", i+1)
		}
	}
}

// assertStagingEmpty checks that no attempt artifact was left behind.
func (h *harness) assertStagingEmpty() {
	h.t.Helper()
	entries, err := os.ReadDir(h.cfg.Paths.StagingDir)
	if err != nil {
		h.t.Fatalf("read staging: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		h.t.Fatalf("expected no staged artifacts, found %v", names)
	}
}

func (h *harness) transcriptCount() int {
	h.t.Helper()
	records, err := h.transcripts.List(context.Background())
	if err != nil {
		h.t.Fatalf("List transcripts: %v", err)
	}
	return len(records)
}
