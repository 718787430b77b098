package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"lipstalk/internal/bus"
	"lipstalk/internal/capture"
	"lipstalk/internal/clock"
	"lipstalk/internal/collection"
	"lipstalk/internal/config"
	"lipstalk/internal/fileutil"
	"lipstalk/internal/logging"
	"lipstalk/internal/media"
	"lipstalk/internal/normalize"
	"lipstalk/internal/services"
	"lipstalk/internal/transcription"
)

// TranscriptStore persists transcripts.
type TranscriptStore interface {
	Append(ctx context.Context, record collection.Transcript) (collection.Transcript, error)
	DeleteByKey(ctx context.Context, key string) (bool, error)
}

// ClipStore retains normalized clips and serves them for re-transcription.
type ClipStore interface {
	Get(ctx context.Context, key string) (collection.Clip, error)
	Adopt(ctx context.Context, ref media.ClipRef, at time.Time) (collection.Clip, error)
}

// PermissionChecker gates Start on camera and microphone access.
type PermissionChecker interface {
	Check(ctx context.Context) error
}

// PermissionFunc adapts a function to PermissionChecker.
type PermissionFunc func(ctx context.Context) error

func (f PermissionFunc) Check(ctx context.Context) error { return f(ctx) }

// Dependencies are the collaborators an Orchestrator drives.
type Dependencies struct {
	Device      capture.Device
	Normalizer  normalize.Normalizer
	Transcriber transcription.Client
	Transcripts TranscriptStore
	// Clips is optional; without it clips are never retained and
	// TranscribeClip is unavailable.
	Clips       ClipStore
	Bus         bus.Publisher
	Permissions PermissionChecker
	Clock       clock.Source
	Logger      *slog.Logger
}

// Options tune attempt behavior.
type Options struct {
	MaxDuration       int
	KeepClips         bool
	Normalize         normalize.Params
	TranscribeTimeout time.Duration
	EmptyResultPolicy string
	StagingDir        string
}

// OptionsFromConfig reads pipeline options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxDuration:       cfg.Recording.MaxDurationSeconds,
		KeepClips:         cfg.Recording.KeepClips,
		Normalize:         normalize.ParamsFromConfig(cfg),
		TranscribeTimeout: time.Duration(cfg.Transcription.TimeoutSeconds) * time.Second,
		EmptyResultPolicy: cfg.Transcription.EmptyResultPolicy,
		StagingDir:        cfg.Paths.StagingDir,
	}
}

// Observer receives a Snapshot after every change. Observers run on the
// goroutine that made the change, one at a time, and must not call the
// Orchestrator's command methods.
type Observer func(Snapshot)

type noopPublisher struct{}

func (noopPublisher) Publish(bus.Topic, map[string]string) {}

// Orchestrator owns the current attempt.
type Orchestrator struct {
	deps   Dependencies
	opts   Options
	logger *slog.Logger
	timer  *clock.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// notifyMu serializes state changes with their observer calls.
	notifyMu sync.Mutex

	mu           sync.Mutex
	current      *attempt
	starting     bool
	closed       bool
	observers    map[int]Observer
	nextObserver int
}

// New validates deps and returns an idle Orchestrator.
func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Device == nil:
		return nil, errors.New("pipeline: capture device is required")
	case deps.Normalizer == nil:
		return nil, errors.New("pipeline: normalizer is required")
	case deps.Transcriber == nil:
		return nil, errors.New("pipeline: transcription client is required")
	case deps.Transcripts == nil:
		return nil, errors.New("pipeline: transcript store is required")
	}
	if opts.MaxDuration <= 0 {
		return nil, fmt.Errorf("pipeline: max duration must be positive, got %d", opts.MaxDuration)
	}
	if opts.EmptyResultPolicy == "" {
		opts.EmptyResultPolicy = config.EmptyResultSucceed
	}
	if deps.Bus == nil {
		deps.Bus = noopPublisher{}
	}
	if deps.Permissions == nil {
		deps.Permissions = PermissionFunc(func(context.Context) error { return nil })
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:      deps,
		opts:      opts,
		logger:    logging.NewComponentLogger(deps.Logger, "pipeline"),
		timer:     clock.NewTimer(deps.Clock),
		ctx:       ctx,
		cancel:    cancel,
		observers: make(map[int]Observer),
	}, nil
}

// Observe registers fn and returns a function that removes it.
func (o *Orchestrator) Observe(fn Observer) func() {
	o.mu.Lock()
	id := o.nextObserver
	o.nextObserver++
	o.observers[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.observers, id)
		o.mu.Unlock()
	}
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	if o.current == nil {
		return Snapshot{
			State:      StateIdle,
			MaxSeconds: o.opts.MaxDuration,
			Remaining:  clock.FormatRemaining(0, o.opts.MaxDuration),
			Progress:   clock.FormatElapsed(0, o.opts.MaxDuration),
		}
	}
	return o.current.snapshot()
}

// reserve claims the right to create a new attempt.
func (o *Orchestrator) reserve() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.closed:
		return ErrClosed
	case o.starting, o.current != nil && o.current.state.Busy():
		return ErrAttemptActive
	}
	o.starting = true
	return nil
}

func (o *Orchestrator) unreserve() {
	o.mu.Lock()
	o.starting = false
	o.mu.Unlock()
}

// install makes a the current attempt in state and notifies observers. A
// terminal previous attempt is dismissed implicitly. The attempt counts
// toward Close's wait from here on; every caller ends it with finishRun.
func (o *Orchestrator) install(a *attempt, state State) error {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	o.starting = false
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	a.state = state
	o.current = a
	o.wg.Add(1)
	snap := a.snapshot()
	observers := o.observerList()
	o.mu.Unlock()

	o.attemptLogger(a).Info("attempt started",
		logging.String("source", string(a.source)),
		logging.String(logging.FieldState, string(state)),
		logging.Int("max_seconds", a.maxSeconds),
		logging.String(logging.FieldEventType, "attempt_started"),
	)
	notify(observers, snap)
	return nil
}

// Start checks permissions and begins recording. A denied permission
// returns an error and creates no attempt. A device that cannot start
// leaves a failed attempt and a nil error.
func (o *Orchestrator) Start(ctx context.Context) (Snapshot, error) {
	if err := o.reserve(); err != nil {
		return o.Snapshot(), err
	}
	if err := o.deps.Permissions.Check(ctx); err != nil {
		o.unreserve()
		if !errors.Is(err, services.ErrPermissionDenied) {
			err = services.Wrap(services.ErrPermissionDenied, "start", "permissions", "", err)
		}
		logging.WarnWithContext(o.logger, "recording permission denied", "permission_denied",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.ReasonPermissionDenied.Hint()),
			logging.String(logging.FieldImpact, "no attempt was started"),
		)
		return o.Snapshot(), err
	}

	a := newAttempt(uuid.NewString(), SourceRecording, o.deps.Clock.Now(), o.opts.MaxDuration)
	if err := o.install(a, StateRecording); err != nil {
		return o.Snapshot(), err
	}

	ctx = services.WithAttemptID(ctx, a.id)
	handle, err := o.deps.Device.BeginCapture(ctx)
	if err != nil {
		o.fail(a, tag(err, services.ErrCaptureIncomplete, "capture"))
		o.finishRun(a)
		return o.Snapshot(), nil
	}
	events, err := o.timer.Start(a.maxSeconds)
	if err != nil {
		if raw, ferr := o.deps.Device.Finalize(o.ctx, handle); ferr == nil {
			o.releaseRef(a, raw)
		}
		o.fail(a, services.Wrap(services.ErrCaptureIncomplete, "capture", "timer", "", err))
		o.finishRun(a)
		return o.Snapshot(), nil
	}

	go o.runRecording(a, handle, events)
	return o.Snapshot(), nil
}

// TranscribeClip sends a stored clip through transcription and persistence
// again. The stored clip is copied to a working file so the attempt never
// deletes the original.
func (o *Orchestrator) TranscribeClip(ctx context.Context, key string) (Snapshot, error) {
	if o.deps.Clips == nil {
		return o.Snapshot(), services.Wrap(services.ErrConfiguration, "transcribe", "clips", "no clip store configured", nil)
	}
	if err := o.reserve(); err != nil {
		return o.Snapshot(), err
	}
	clip, err := o.deps.Clips.Get(ctx, key)
	if err != nil {
		o.unreserve()
		return o.Snapshot(), err
	}

	id := uuid.NewString()
	working := media.ClipRef{
		Path: filepath.Join(o.opts.StagingDir, "work-"+id+collection.ClipExtension),
		Kind: media.KindWorking,
	}
	if err := fileutil.CopyFile(clip.Path, working.Path); err != nil {
		o.unreserve()
		_ = media.Release(working)
		return o.Snapshot(), services.Wrap(services.ErrStorage, "transcribe", "stage clip", clip.Name, err)
	}

	a := newAttempt(id, SourceClip, o.deps.Clock.Now(), o.opts.MaxDuration)
	a.clipKey = clip.Name
	a.normalized = working
	if err := o.install(a, StateTranscribing); err != nil {
		_ = media.Release(working)
		return o.Snapshot(), err
	}

	go func() {
		defer o.finishRun(a)
		o.runTranscribe(o.attemptContext(a), a)
	}()
	return o.Snapshot(), nil
}

// Stop ends recording early.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil || o.current.state != StateRecording {
		return fmt.Errorf("%w: stop requires recording, state is %s", ErrInvalidTransition, o.stateLocked())
	}
	o.current.requestStop()
	return nil
}

// Cancel abandons the attempt at the next state boundary.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil || !o.current.state.Busy() {
		return fmt.Errorf("%w: nothing to cancel in state %s", ErrInvalidTransition, o.stateLocked())
	}
	o.current.requestCancel()
	return nil
}

// Dismiss clears a displayed or cancelled attempt.
func (o *Orchestrator) Dismiss() error {
	return o.clear(func(s State) bool { return s == StateDisplayed || s == StateCancelled }, "dismiss")
}

// Acknowledge clears a failed attempt.
func (o *Orchestrator) Acknowledge() error {
	return o.clear(func(s State) bool { return s == StateFailed }, "acknowledge")
}

func (o *Orchestrator) clear(allowed func(State) bool, command string) error {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	a := o.current
	if a == nil || !allowed(a.state) {
		state := o.stateLocked()
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot %s in state %s", ErrInvalidTransition, command, state)
	}
	refs := a.takeArtifacts()
	o.current = nil
	snap := o.snapshotLocked()
	observers := o.observerList()
	o.mu.Unlock()

	o.releaseRefs(a, refs...)
	o.attemptLogger(a).Debug("attempt cleared", logging.String("command", command))
	notify(observers, snap)
	return nil
}

// RetryPersist saves the transcript of an attempt that failed to persist.
// The state check and the move to persisting happen under one lock, so a
// second concurrent retry sees persisting and is rejected.
func (o *Orchestrator) RetryPersist(ctx context.Context) (Snapshot, error) {
	o.notifyMu.Lock()
	o.mu.Lock()
	a := o.current
	if o.closed {
		o.mu.Unlock()
		o.notifyMu.Unlock()
		return o.Snapshot(), ErrClosed
	}
	if a == nil || a.state != StateFailed || a.reason != services.ReasonPersistFailed || !a.transcriptReady {
		state := o.stateLocked()
		o.mu.Unlock()
		o.notifyMu.Unlock()
		return o.Snapshot(), fmt.Errorf("%w: nothing to retry in state %s", ErrInvalidTransition, state)
	}
	a.done = make(chan struct{})
	a.state = StatePersisting
	a.updatedAt = o.deps.Clock.Now()
	o.wg.Add(1)
	snap := a.snapshot()
	observers := o.observerList()
	o.mu.Unlock()

	o.attemptLogger(a).Info("attempt state changed",
		logging.String("from", string(StateFailed)),
		logging.String("to", string(StatePersisting)),
		logging.String(logging.FieldEventType, "state_transition"),
		logging.Bool("retry", true),
	)
	notify(observers, snap)
	o.notifyMu.Unlock()

	go func() {
		defer o.finishRun(a)
		o.runPersist(o.attemptContext(a), a)
	}()
	return snap, nil
}

// Wait blocks until the current attempt's goroutine finishes or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) (Snapshot, error) {
	o.mu.Lock()
	var done chan struct{}
	if o.current != nil {
		done = o.current.done
	}
	o.mu.Unlock()
	if done == nil {
		return o.Snapshot(), nil
	}
	select {
	case <-done:
		return o.Snapshot(), nil
	case <-ctx.Done():
		return o.Snapshot(), ctx.Err()
	}
}

// Close cancels any attempt, aborts in-flight calls and waits for the
// attempt goroutine.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	if o.current != nil {
		o.current.requestCancel()
	}
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
	o.timer.Stop()
}

func (o *Orchestrator) stateLocked() State {
	if o.current == nil {
		return StateIdle
	}
	return o.current.state
}

func (o *Orchestrator) observerList() []Observer {
	list := make([]Observer, 0, len(o.observers))
	for id := 0; id < o.nextObserver; id++ {
		if fn, ok := o.observers[id]; ok {
			list = append(list, fn)
		}
	}
	return list
}

func notify(observers []Observer, snap Snapshot) {
	for _, fn := range observers {
		fn(snap)
	}
}

func (o *Orchestrator) attemptLogger(a *attempt) *slog.Logger {
	return o.logger.With(logging.String(logging.FieldAttemptID, a.id))
}

func (o *Orchestrator) attemptContext(a *attempt) context.Context {
	return services.WithAttemptID(o.ctx, a.id)
}

func (o *Orchestrator) finishRun(a *attempt) {
	o.mu.Lock()
	done := a.done
	o.mu.Unlock()
	close(done)
	o.wg.Done()
}

// tag marks err with marker unless it already carries it.
func tag(err error, marker error, stage string) error {
	if err == nil || errors.Is(err, marker) {
		return err
	}
	return services.Wrap(marker, stage, "", "", err)
}
