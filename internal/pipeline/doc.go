// Package pipeline drives one capture, normalize, transcribe, persist
// attempt at a time.
//
// The Orchestrator is a single state machine:
//
//	idle -> recording -> normalizing -> transcribing -> persisting -> displayed
//
// with cancelled and failed as the other terminal states. Every transition
// is published to observers as a Snapshot. Each attempt runs on one
// goroutine; Stop and Cancel only raise flags that goroutine checks at the
// next state boundary, so a slow transcription request is never interrupted,
// its answer is simply discarded. Every clip the attempt owns is released
// before it reaches a terminal state.
package pipeline
