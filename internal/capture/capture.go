// Package capture starts and finalizes raw recordings.
//
// The pipeline only sees Device: BeginCapture hands back an opaque Handle and
// Finalize turns it into a raw clip the caller owns. FFmpegDevice records
// from a video4linux camera and an ALSA microphone; FileDevice imports an
// existing video as if it had just been recorded.
package capture

import (
	"context"

	"lipstalk/internal/media"
)

// Handle identifies a capture in progress.
type Handle interface {
	ID() string
}

// Device records raw clips.
type Device interface {
	BeginCapture(ctx context.Context) (Handle, error)
	Finalize(ctx context.Context, h Handle) (media.ClipRef, error)
}

// Prober validates finalized clips. ffprobe.Inspector satisfies it through
// ProbeFunc.
type Prober interface {
	Playable(ctx context.Context, path string) (bool, error)
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context, path string) (bool, error)

func (f ProbeFunc) Playable(ctx context.Context, path string) (bool, error) { return f(ctx, path) }
