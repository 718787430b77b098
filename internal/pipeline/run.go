package pipeline

import (
	"context"
	"errors"

	"lipstalk/internal/bus"
	"lipstalk/internal/capture"
	"lipstalk/internal/clock"
	"lipstalk/internal/collection"
	"lipstalk/internal/config"
	"lipstalk/internal/logging"
	"lipstalk/internal/media"
	"lipstalk/internal/services"
)

func (o *Orchestrator) runRecording(a *attempt, handle capture.Handle, events <-chan clock.Event) {
	defer o.finishRun(a)
	ctx := o.attemptContext(a)

	autoStopped := false
loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			o.update(a, func(a *attempt) { a.elapsed = ev.Elapsed })
			if ev.Expired {
				autoStopped = true
				break loop
			}
		case <-a.stopReq:
			break loop
		case <-a.cancelReq:
			break loop
		case <-o.ctx.Done():
			break loop
		}
	}
	o.timer.Stop()

	if a.cancelRequested() || o.ctx.Err() != nil {
		if raw, err := o.deps.Device.Finalize(ctx, handle); err == nil {
			o.releaseRef(a, raw)
		}
		o.finishCancelled(a)
		return
	}

	o.transition(a, StateNormalizing, logging.Bool("auto_stopped", autoStopped))
	raw, err := o.deps.Device.Finalize(ctx, handle)
	if err != nil {
		o.fail(a, tag(err, services.ErrCaptureIncomplete, "capture"))
		return
	}
	o.update(a, func(a *attempt) { a.raw = raw })
	o.runNormalize(ctx, a)
}

func (o *Orchestrator) runNormalize(ctx context.Context, a *attempt) {
	if o.stopIfCancelled(a) {
		return
	}
	o.mu.Lock()
	raw := a.raw
	o.mu.Unlock()

	normalized, err := o.deps.Normalizer.Normalize(ctx, raw, o.opts.Normalize)
	if err == nil {
		o.update(a, func(a *attempt) { a.normalized = normalized })
	}
	if o.stopIfCancelled(a) {
		return
	}
	if err != nil {
		o.fail(a, tag(err, services.ErrNormalizeFailed, "normalize"))
		return
	}

	o.mu.Lock()
	raw = a.raw
	a.raw = media.ClipRef{}
	o.mu.Unlock()
	o.releaseRef(a, raw)

	o.transition(a, StateTranscribing)
	o.runTranscribe(ctx, a)
}

func (o *Orchestrator) runTranscribe(ctx context.Context, a *attempt) {
	if o.stopIfCancelled(a) {
		return
	}
	o.mu.Lock()
	clip := a.normalized
	o.mu.Unlock()

	callCtx := ctx
	if o.opts.TranscribeTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.opts.TranscribeTimeout)
		defer cancel()
	}
	result, err := o.deps.Transcriber.Transcribe(callCtx, clip)

	if o.stopIfCancelled(a) {
		return
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, services.ErrTranscribeFailed) {
			err = services.Wrap(services.ErrTranscribeFailed, "transcribe", "timeout", "no answer before the deadline", err)
		}
		o.fail(a, tag(err, services.ErrTranscribeFailed, "transcribe"))
		return
	}
	if result.Empty() && o.opts.EmptyResultPolicy == config.EmptyResultFail {
		o.fail(a, services.Wrap(services.ErrTranscribeFailed, "transcribe", "result", "service returned no text", nil))
		return
	}

	o.update(a, func(a *attempt) {
		a.transcript = result.Text
		a.transcriptReady = true
	})
	o.transition(a, StatePersisting)
	o.runPersist(ctx, a)
}

func (o *Orchestrator) runPersist(ctx context.Context, a *attempt) {
	if o.stopIfCancelled(a) {
		return
	}
	o.mu.Lock()
	text := a.transcript
	source := a.source
	o.mu.Unlock()

	now := o.deps.Clock.Now()
	stored, err := o.deps.Transcripts.Append(ctx, collection.NewTranscript(text, now))
	if err != nil {
		if o.stopIfCancelled(a) {
			return
		}
		o.fail(a, tag(err, services.ErrStorage, "persist"))
		return
	}
	if a.cancelRequested() || o.ctx.Err() != nil {
		if o.rollbackTranscript(ctx, a, stored.Key()) {
			o.finishCancelled(a)
			return
		}
	}
	o.update(a, func(a *attempt) { a.transcriptKey = stored.Key() })
	o.deps.Bus.Publish(bus.TopicTranscriptsChanged, map[string]string{
		"action":     "appended",
		"key":        stored.Key(),
		"date":       stored.Date,
		"attempt_id": a.id,
	})

	if source == SourceRecording && o.opts.KeepClips && o.deps.Clips != nil {
		o.retainClip(ctx, a)
	}

	o.releaseRefs(a, o.take(a)...)
	o.transition(a, StateDisplayed, logging.String("transcript_key", stored.Key()))
}

// rollbackTranscript removes a transcript appended after the attempt was
// cancelled. It reports false when the record could not be removed; the
// attempt then completes normally because the transcript is stored.
func (o *Orchestrator) rollbackTranscript(ctx context.Context, a *attempt, key string) bool {
	removed, err := o.deps.Transcripts.DeleteByKey(context.WithoutCancel(ctx), key)
	if err == nil && removed {
		o.attemptLogger(a).Info("cancelled attempt transcript removed",
			logging.String("transcript_key", key),
			logging.String(logging.FieldEventType, "transcript_rolled_back"),
		)
		return true
	}
	if err == nil {
		err = services.Wrap(services.ErrNotFound, "persist", "rollback", key, nil)
	}
	logging.WarnWithContext(o.attemptLogger(a), "cancel ignored, transcript already saved", "transcript_rollback_failed",
		logging.String("transcript_key", key),
		logging.Error(err),
		logging.String(logging.FieldImpact, "the attempt completes with its transcript saved"),
	)
	return false
}

// retainClip moves the normalized clip into the collection. A failure only
// costs the clip; the transcript is already saved.
func (o *Orchestrator) retainClip(ctx context.Context, a *attempt) {
	o.mu.Lock()
	ref := a.normalized
	o.mu.Unlock()
	if !ref.Usable() {
		return
	}

	clip, err := o.deps.Clips.Adopt(ctx, ref, o.deps.Clock.Now())
	if err != nil {
		logging.WarnWithContext(o.attemptLogger(a), "clip not retained", "clip_retain_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.ReasonPersistFailed.Hint()),
			logging.String(logging.FieldImpact, "transcript saved without its clip"),
		)
		return
	}
	o.update(a, func(a *attempt) {
		a.normalized = media.ClipRef{}
		a.retainedClip = clip.Name
	})
	o.deps.Bus.Publish(bus.TopicClipsChanged, map[string]string{
		"action":     "retained",
		"key":        clip.Name,
		"date":       clip.Date,
		"attempt_id": a.id,
	})
}

// stopIfCancelled moves a cancelled attempt to its terminal state.
func (o *Orchestrator) stopIfCancelled(a *attempt) bool {
	if !a.cancelRequested() && o.ctx.Err() == nil {
		return false
	}
	o.finishCancelled(a)
	return true
}

func (o *Orchestrator) finishCancelled(a *attempt) {
	o.releaseRefs(a, o.take(a)...)
	o.transition(a, StateCancelled)
}

// fail records err, releases every artifact and publishes the failure.
func (o *Orchestrator) fail(a *attempt, err error) {
	reason := services.ReasonFor(err)
	o.mu.Lock()
	a.lastErr = err
	a.reason = reason
	refs := a.takeArtifacts()
	o.mu.Unlock()
	o.releaseRefs(a, refs...)

	logging.ErrorWithContext(o.attemptLogger(a), "attempt failed", "attempt_failed",
		logging.String("reason", string(reason)),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, reason.Hint()),
	)
	o.transition(a, StateFailed, logging.String("reason", string(reason)))
	o.deps.Bus.Publish(bus.TopicAttemptFailed, map[string]string{
		"attempt_id": a.id,
		"reason":     string(reason),
		"error":      err.Error(),
	})
}

// update mutates a under the lock and notifies observers.
func (o *Orchestrator) update(a *attempt, fn func(a *attempt)) {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	if o.current != a {
		o.mu.Unlock()
		return
	}
	fn(a)
	a.updatedAt = o.deps.Clock.Now()
	snap := a.snapshot()
	observers := o.observerList()
	o.mu.Unlock()

	notify(observers, snap)
}

func (o *Orchestrator) transition(a *attempt, to State, attrs ...logging.Attr) {
	var (
		from    State
		elapsed int
	)
	o.update(a, func(a *attempt) {
		from = a.state
		elapsed = a.elapsed
		a.state = to
	})
	if from == "" {
		return
	}
	fields := append([]logging.Attr{
		logging.String("from", string(from)),
		logging.String("to", string(to)),
		logging.Int("elapsed_seconds", elapsed),
		logging.String(logging.FieldEventType, "state_transition"),
	}, attrs...)
	o.attemptLogger(a).Info("attempt state changed", logging.Args(fields...)...)
}

func (a *attempt) takeArtifacts() []media.ClipRef {
	refs := []media.ClipRef{a.raw, a.normalized}
	a.raw = media.ClipRef{}
	a.normalized = media.ClipRef{}
	return refs
}

func (o *Orchestrator) take(a *attempt) []media.ClipRef {
	o.mu.Lock()
	defer o.mu.Unlock()
	return a.takeArtifacts()
}

func (o *Orchestrator) releaseRef(a *attempt, ref media.ClipRef) {
	o.releaseRefs(a, ref)
}

func (o *Orchestrator) releaseRefs(a *attempt, refs ...media.ClipRef) {
	for _, ref := range refs {
		if ref.IsZero() {
			continue
		}
		if err := media.Release(ref); err != nil {
			logging.WarnWithContext(o.attemptLogger(a), "clip release failed", "clip_release_failed",
				logging.String("path", ref.Path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "a staging file was left behind"),
			)
		}
	}
}
