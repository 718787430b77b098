package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"lipstalk/internal/bus"
	"lipstalk/internal/config"
	"lipstalk/internal/media"
	"lipstalk/internal/services"
	"lipstalk/internal/testsupport"
	"lipstalk/internal/transcription"
	"lipstalk/internal/transcription/mocks"
)

func TestRecordingAutoStopsAtMaxDuration(t *testing.T) {
	h := newHarness(t, answering(t, "hola"), withOptions(func(o *Options) { o.MaxDuration = 3 }))

	snap := h.start()
	if snap.State != StateRecording || snap.Remaining != "00:03" {
		t.Fatalf("unexpected start snapshot %+v", snap)
	}
	h.tick(3)
	final := h.waitState(StateDisplayed)
	if final.ElapsedSeconds != 3 {
		t.Fatalf("expected elapsed 3, got %d", final.ElapsedSeconds)
	}

	normalizingAt := -1
	for _, s := range h.log.all() {
		if s.ElapsedSeconds > 3 {
			t.Fatalf("elapsed exceeded ceiling: %+v", s)
		}
		if s.State == StateNormalizing && normalizingAt < 0 {
			normalizingAt = s.ElapsedSeconds
		}
	}
	if normalizingAt != 3 {
		t.Fatalf("expected normalizing at elapsed 3, got %d", normalizingAt)
	}
	if h.clock.Active() != 0 {
		t.Fatalf("expected timer released, %d tickers active", h.clock.Active())
	}
	if h.clock.Tick() != 0 {
		t.Fatal("expected no ticker after auto-stop")
	}
}

func TestHappyPathPersistsTranscriptAndClip(t *testing.T) {
	h := newHarness(t, answering(t, "buenos dias"))

	h.start()
	h.tick(5)
	h.waitFor("elapsed 5", func(s Snapshot) bool { return s.ElapsedSeconds == 5 })
	if err := h.orch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	final := h.waitState(StateDisplayed)

	if final.Transcript != "buenos dias" || final.TranscriptKey == "" {
		t.Fatalf("unexpected final snapshot %+v", final)
	}
	if final.ElapsedSeconds != 5 || final.Remaining != "00:15" || final.Progress != "00:05 / 00:20" {
		t.Fatalf("unexpected elapsed %d remaining %s progress %s", final.ElapsedSeconds, final.Remaining, final.Progress)
	}
	records, err := h.transcripts.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 || records[0].Text != "buenos dias" || records[0].Date != "14-03-2025_09:30:05" {
		t.Fatalf("unexpected records %+v", records)
	}
	clips, err := h.clips.List(context.Background())
	if err != nil {
		t.Fatalf("List clips: %v", err)
	}
	if len(clips) != 1 || clips[0].Name != final.RetainedClip {
		t.Fatalf("expected retained clip %q, got %+v", final.RetainedClip, clips)
	}
	h.assertStagingEmpty()

	topics := h.bus.topics()
	if !slices.Equal(topics, []bus.Topic{bus.TopicTranscriptsChanged, bus.TopicClipsChanged}) {
		t.Fatalf("unexpected bus topics %v", topics)
	}

	var states []State
	for _, s := range h.log.all() {
		if len(states) == 0 || states[len(states)-1] != s.State {
			states = append(states, s.State)
		}
	}
	want := []State{StateRecording, StateNormalizing, StateTranscribing, StatePersisting, StateDisplayed}
	if !slices.Equal(states, want) {
		t.Fatalf("unexpected state sequence %v", states)
	}

	if err := h.orch.Dismiss(); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if got := h.orch.Snapshot().State; got != StateIdle {
		t.Fatalf("expected idle after dismiss, got %s", got)
	}
}

func TestDiscardedClipWhenKeepClipsDisabled(t *testing.T) {
	h := newHarness(t, answering(t, "hola"), withOptions(func(o *Options) { o.KeepClips = false }))

	h.start()
	if err := h.orch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	final := h.waitState(StateDisplayed)
	if final.RetainedClip != "" {
		t.Fatalf("expected no retained clip, got %q", final.RetainedClip)
	}
	clips, _ := h.clips.List(context.Background())
	if len(clips) != 0 {
		t.Fatalf("expected no clips, got %d", len(clips))
	}
	h.assertStagingEmpty()
}

func TestNormalizeFailureReleasesArtifacts(t *testing.T) {
	h := newHarness(t, answering(t, "unused"))
	h.normalizer.err = errors.New("ffmpeg exploded")

	h.start()
	if err := h.orch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	final := h.waitState(StateFailed)
	if final.Reason != services.ReasonNormalizeFailed {
		t.Fatalf("unexpected reason %q", final.Reason)
	}
	if final.Hint == "" || final.Error == "" {
		t.Fatalf("expected error and hint, got %+v", final)
	}
	if h.transcriptCount() != 0 {
		t.Fatal("expected no transcript")
	}
	h.assertStagingEmpty()
	if topics := h.bus.topics(); !slices.Equal(topics, []bus.Topic{bus.TopicAttemptFailed}) {
		t.Fatalf("unexpected bus topics %v", topics)
	}

	if err := h.orch.Dismiss(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected dismiss to be rejected for failed attempt, got %v", err)
	}
	if err := h.orch.Acknowledge(); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if got := h.orch.Snapshot().State; got != StateIdle {
		t.Fatalf("expected idle, got %s", got)
	}
}

func TestCancelDuringTranscriptionDiscardsResult(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	entered := make(chan struct{})
	release := make(chan struct{})
	client.EXPECT().Transcribe(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, clip media.ClipRef) (transcription.Result, error) {
			close(entered)
			<-release
			return transcription.Result{Text: "too late"}, nil
		})
	h := newHarness(t, client)

	h.start()
	if err := h.orch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-entered:
	case <-time.After(waitTimeout):
		t.Fatal("transcription never started")
	}
	if err := h.orch.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := h.orch.Snapshot().State; got != StateTranscribing {
		t.Fatalf("cancel must wait for the boundary, state is %s", got)
	}
	close(release)

	final := h.waitState(StateCancelled)
	if final.Reason != services.ReasonCancelledByUser || final.Transcript != "" {
		t.Fatalf("unexpected cancelled snapshot %+v", final)
	}
	if h.transcriptCount() != 0 {
		t.Fatal("cancelled attempt must not persist")
	}
	h.assertStagingEmpty()
	if len(h.bus.topics()) != 0 {
		t.Fatalf("expected no bus traffic, got %v", h.bus.topics())
	}
	if err := h.orch.Dismiss(); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
}

func TestCancelDuringRecordingStopsDevice(t *testing.T) {
	h := newHarness(t, answering(t, "unused"))

	h.start()
	h.tick(2)
	h.waitFor("elapsed 2", func(s Snapshot) bool { return s.ElapsedSeconds == 2 })
	if err := h.orch.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	h.waitState(StateCancelled)
	if h.device.finalized.Load() != 1 {
		t.Fatalf("expected device finalized once, got %d", h.device.finalized.Load())
	}
	if h.normalizer.calls.Load() != 0 {
		t.Fatal("normalizer must not run after cancel")
	}
	if h.clock.Active() != 0 {
		t.Fatal("timer must be released")
	}
	h.assertStagingEmpty()
}

func TestPersistFailureKeepsTextForRetry(t *testing.T) {
	h := newHarness(t, answering(t, "guardame"))
	flaky := &flakyTranscripts{inner: h.transcripts}
	flaky.failures.Store(1)
	h.orch.deps.Transcripts = flaky

	h.start()
	if err := h.orch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	failed := h.waitState(StateFailed)
	if failed.Reason != services.ReasonPersistFailed || !failed.CanRetry || failed.Transcript != "guardame" {
		t.Fatalf("unexpected failed snapshot %+v", failed)
	}
	h.assertStagingEmpty()

	if _, err := h.orch.RetryPersist(context.Background()); err != nil {
		t.Fatalf("RetryPersist: %v", err)
	}
	final := h.waitState(StateDisplayed)
	if final.TranscriptKey == "" {
		t.Fatalf("expected saved transcript, got %+v", final)
	}
	if h.transcriptCount() != 1 {
		t.Fatalf("expected 1 transcript, got %d", h.transcriptCount())
	}
	if _, err := h.orch.RetryPersist(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected retry to be rejected after success, got %v", err)
	}
}

func TestConcurrentRetryPersistStoresOnce(t *testing.T) {
	h := newHarness(t, answering(t, "una vez"))
	flaky := &flakyTranscripts{inner: h.transcripts}
	flaky.failures.Store(1)
	h.orch.deps.Transcripts = flaky

	h.start()
	if err := h.orch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	h.waitState(StateFailed)

	// Hold the observer lock so both retries are queued before either runs.
	h.orch.notifyMu.Lock()
	errs := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := h.orch.RetryPersist(context.Background())
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	h.orch.notifyMu.Unlock()

	var accepted, rejected int
	for range 2 {
		select {
		case err := <-errs:
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrInvalidTransition):
				rejected++
			default:
				t.Fatalf("unexpected retry error: %v", err)
			}
		case <-time.After(waitTimeout):
			t.Fatal("retry did not return")
		}
	}
	if accepted != 1 || rejected != 1 {
		t.Fatalf("accepted %d rejected %d, want 1 and 1", accepted, rejected)
	}
	h.waitState(StateDisplayed)
	if _, err := h.orch.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if h.transcriptCount() != 1 {
		t.Fatalf("expected 1 transcript, got %d", h.transcriptCount())
	}
}

func TestRetryPersistBlocksNewAttempt(t *testing.T) {
	h := newHarness(t, answering(t, "espera"))
	flaky := &flakyTranscripts{inner: h.transcripts}
	flaky.failures.Store(1)
	h.orch.deps.Transcripts = flaky

	h.start()
	if err := h.orch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	h.waitState(StateFailed)

	gate := newGatedTranscripts(h.transcripts)
	h.orch.deps.Transcripts = gate
	snap, err := h.orch.RetryPersist(context.Background())
	if err != nil {
		t.Fatalf("RetryPersist: %v", err)
	}
	if snap.State != StatePersisting {
		t.Fatalf("retry must report persisting, got %s", snap.State)
	}
	<-gate.entered
	if _, err := h.orch.Start(context.Background()); !errors.Is(err, ErrAttemptActive) {
		t.Fatalf("expected ErrAttemptActive during retry, got %v", err)
	}
	if err := h.orch.Acknowledge(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected acknowledge to be rejected during retry, got %v", err)
	}
	close(gate.release)
	h.waitState(StateDisplayed)
}

func TestCancelDuringPersistRemovesTranscript(t *testing.T) {
	h := newHarness(t, answering(t, "cancelado"))
	gate := newGatedTranscripts(h.transcripts)
	h.orch.deps.Transcripts = gate

	h.start()
	if err := h.orch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-gate.entered:
	case <-time.After(waitTimeout):
		t.Fatal("persist never started")
	}
	if err := h.orch.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(gate.release)

	final := h.waitState(StateCancelled)
	if final.Reason != services.ReasonCancelledByUser || final.TranscriptKey != "" {
		t.Fatalf("unexpected cancelled snapshot %+v", final)
	}
	if h.transcriptCount() != 0 {
		t.Fatal("cancelled attempt must not keep its transcript")
	}
	h.assertStagingEmpty()
	if len(h.bus.topics()) != 0 {
		t.Fatalf("expected no bus traffic, got %v", h.bus.topics())
	}
}

func TestCancelDuringPersistKeepsTranscriptWhenRemovalFails(t *testing.T) {
	h := newHarness(t, answering(t, "se queda"))
	gate := newGatedTranscripts(h.transcripts)
	gate.deleteErr = errors.New("read-only filesystem")
	h.orch.deps.Transcripts = gate

	h.start()
	if err := h.orch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-gate.entered
	if err := h.orch.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(gate.release)

	final := h.waitState(StateDisplayed)
	if final.TranscriptKey == "" || h.transcriptCount() != 1 {
		t.Fatalf("expected the stored transcript to be reported, got %+v", final)
	}
}

func TestEmptyResultPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy string
		want   State
	}{
		{name: "empty succeeds", policy: config.EmptyResultSucceed, want: StateDisplayed},
		{name: "empty fails", policy: config.EmptyResultFail, want: StateFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := mocks.NewMockClient(ctrl)
			client.EXPECT().Transcribe(gomock.Any(), gomock.Any()).Return(transcription.Result{Malformed: true}, nil)
			h := newHarness(t, client, withOptions(func(o *Options) { o.EmptyResultPolicy = tc.policy }))

			h.start()
			if err := h.orch.Stop(); err != nil {
				t.Fatalf("Stop: %v", err)
			}
			final := h.waitFor("terminal", func(s Snapshot) bool { return s.State.Terminal() })
			if final.State != tc.want {
				t.Fatalf("expected %s, got %+v", tc.want, final)
			}
			if tc.want == StateFailed && final.Reason != services.ReasonTranscribeFailed {
				t.Fatalf("unexpected reason %q", final.Reason)
			}
			if tc.want == StateDisplayed && h.transcriptCount() != 1 {
				t.Fatal("expected empty transcript to be saved")
			}
			h.assertStagingEmpty()
		})
	}
}

func TestTranscriptionTimeoutFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().Transcribe(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, clip media.ClipRef) (transcription.Result, error) {
			<-ctx.Done()
			return transcription.Result{}, ctx.Err()
		})
	h := newHarness(t, client, withOptions(func(o *Options) { o.TranscribeTimeout = 20 * time.Millisecond }))

	h.start()
	if err := h.orch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	final := h.waitState(StateFailed)
	if final.Reason != services.ReasonTranscribeFailed {
		t.Fatalf("unexpected reason %q (%s)", final.Reason, final.Error)
	}
	h.assertStagingEmpty()
}

func TestPermissionDeniedCreatesNoAttempt(t *testing.T) {
	h := newHarness(t, answering(t, "unused"), withDeps(func(d *Dependencies) {
		d.Permissions = PermissionFunc(func(context.Context) error { return errors.New("EACCES /dev/video0") })
	}))

	snap, err := h.orch.Start(context.Background())
	if !errors.Is(err, services.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if snap.State != StateIdle || snap.ID != "" {
		t.Fatalf("expected idle snapshot, got %+v", snap)
	}
	if h.device.begun.Load() != 0 {
		t.Fatal("device must not start without permission")
	}
	if len(h.log.all()) != 0 {
		t.Fatal("observers must not see an attempt")
	}
}

func TestDeviceStartFailureFailsFast(t *testing.T) {
	h := newHarness(t, answering(t, "unused"))
	h.device.beginErr = errors.New("no such device")

	snap, err := h.orch.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if snap.State != StateFailed || snap.Reason != services.ReasonCaptureIncomplete {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if h.clock.Active() != 0 {
		t.Fatal("timer must not run without a capture")
	}
	if _, err := h.orch.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestFinalizeFailureIsCaptureIncomplete(t *testing.T) {
	h := newHarness(t, answering(t, "unused"))
	h.device.finalizeErr = errors.New("empty recording")

	h.start()
	if err := h.orch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	final := h.waitState(StateFailed)
	if final.Reason != services.ReasonCaptureIncomplete {
		t.Fatalf("unexpected reason %q", final.Reason)
	}
}

func TestCommandsRejectedOutsideTheirStates(t *testing.T) {
	h := newHarness(t, answering(t, "hola"))

	if err := h.orch.Stop(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected stop rejected while idle, got %v", err)
	}
	if err := h.orch.Cancel(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected cancel rejected while idle, got %v", err)
	}
	if err := h.orch.Acknowledge(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected acknowledge rejected while idle, got %v", err)
	}

	h.start()
	if _, err := h.orch.Start(context.Background()); !errors.Is(err, ErrAttemptActive) {
		t.Fatalf("expected ErrAttemptActive, got %v", err)
	}
	if _, err := h.orch.TranscribeClip(context.Background(), "anything"); !errors.Is(err, ErrAttemptActive) {
		t.Fatalf("expected ErrAttemptActive for re-transcribe, got %v", err)
	}
	if err := h.orch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	first := h.waitState(StateDisplayed)

	second := h.start()
	if second.ID == first.ID {
		t.Fatal("expected a fresh attempt after start from displayed")
	}
}

func TestTranscribeClipUsesWorkingCopy(t *testing.T) {
	h := newHarness(t, answering(t, "otra vez"))
	source := filepath.Join(testsupport.BaseDir(h.cfg), "import.mp4")
	testsupport.WriteClip(t, source, 128)
	clip, err := h.clips.Adopt(context.Background(), media.ClipRef{Path: source, Kind: media.KindNormalized}, time.Date(2024, 12, 1, 8, 0, 0, 0, time.Local))
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}

	snap, err := h.orch.TranscribeClip(context.Background(), clip.Name)
	if err != nil {
		t.Fatalf("TranscribeClip: %v", err)
	}
	if snap.Source != SourceClip || snap.ClipKey != clip.Name {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	final := h.waitState(StateDisplayed)
	if final.Transcript != "otra vez" || final.RetainedClip != "" {
		t.Fatalf("unexpected final snapshot %+v", final)
	}
	if _, err := os.Stat(clip.Path); err != nil {
		t.Fatalf("stored clip must survive re-transcription: %v", err)
	}
	clips, _ := h.clips.List(context.Background())
	if len(clips) != 1 {
		t.Fatalf("expected clip collection unchanged, got %d", len(clips))
	}
	h.assertStagingEmpty()
}

func TestTranscribeClipMissing(t *testing.T) {
	h := newHarness(t, answering(t, "unused"))
	if _, err := h.orch.TranscribeClip(context.Background(), "01-01-2025_00-00-00.mp4"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("reservation must be released after a failed lookup: %v", err)
	}
}

func TestCloseCancelsRecording(t *testing.T) {
	h := newHarness(t, answering(t, "unused"))
	h.start()
	h.orch.Close()

	if got := h.orch.Snapshot().State; got != StateCancelled {
		t.Fatalf("expected cancelled after close, got %s", got)
	}
	h.assertStagingEmpty()
	if _, err := h.orch.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestJournalObserverRecordsTransitions(t *testing.T) {
	h := newHarness(t, answering(t, "hola"))
	store := testsupport.MustOpenJournal(t, h.cfg)
	h.orch.Observe(JournalObserver(store, nil))

	snap := h.start()
	h.tick(2)
	h.waitFor("elapsed 2", func(s Snapshot) bool { return s.ElapsedSeconds == 2 })
	if err := h.orch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	final := h.waitState(StateDisplayed)

	entry, err := store.Get(context.Background(), snap.ID)
	if err != nil {
		t.Fatalf("journal Get: %v", err)
	}
	if entry.State != string(StateDisplayed) || entry.TranscriptKey != final.TranscriptKey || entry.FinishedAt.IsZero() {
		t.Fatalf("unexpected journal entry %+v", entry)
	}
	transitions, err := store.Transitions(context.Background(), snap.ID)
	if err != nil {
		t.Fatalf("Transitions: %v", err)
	}
	var states []string
	for _, tr := range transitions {
		states = append(states, tr.State)
	}
	want := []string{"recording", "normalizing", "transcribing", "persisting", "displayed"}
	if !slices.Equal(states, want) {
		t.Fatalf("unexpected journal transitions %v", states)
	}
}
