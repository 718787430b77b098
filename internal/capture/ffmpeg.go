package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lipstalk/internal/config"
	"lipstalk/internal/deps"
	"lipstalk/internal/logging"
	"lipstalk/internal/media"
	"lipstalk/internal/media/ffprobe"
	"lipstalk/internal/services"
)

// FFmpegDevice records through an ffmpeg child process. The process is
// stopped by sending "q" on stdin so the container is closed cleanly.
type FFmpegDevice struct {
	Binary      string
	InputFormat string
	VideoDevice string
	AudioFormat string
	AudioDevice string
	StagingDir  string
	// HardLimit is passed to ffmpeg as -t so a lost Finalize cannot record forever.
	HardLimit       time.Duration
	FinalizeTimeout time.Duration
	Prober          Prober
	Logger          *slog.Logger
}

// NewFFmpegDevice builds a device from configuration.
func NewFFmpegDevice(cfg *config.Config, logger *slog.Logger) *FFmpegDevice {
	inspector := ffprobe.Inspector{Binary: deps.FFprobeFor(cfg.Recording.FFmpegBinary)}
	return &FFmpegDevice{
		Binary:          cfg.Recording.FFmpegBinary,
		InputFormat:     cfg.Recording.InputFormat,
		VideoDevice:     cfg.Recording.VideoDevice,
		AudioFormat:     cfg.Recording.AudioFormat,
		AudioDevice:     cfg.Recording.AudioDevice,
		StagingDir:      cfg.Paths.StagingDir,
		HardLimit:       cfg.MaxDuration() + 5*time.Second,
		FinalizeTimeout: time.Duration(cfg.Recording.FinalizeTimeout) * time.Second,
		Prober:          ProbeFunc(inspector.Playable),
		Logger:          logging.NewComponentLogger(logger, "capture"),
	}
}

type ffmpegSession struct {
	id     string
	path   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
	done   chan struct{}
	err    error
	once   sync.Once
}

func (s *ffmpegSession) ID() string { return s.id }

func (d *FFmpegDevice) args(output string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	if d.InputFormat != "" {
		args = append(args, "-f", d.InputFormat)
	}
	args = append(args, "-i", d.VideoDevice)
	if d.AudioDevice != "" {
		if d.AudioFormat != "" {
			args = append(args, "-f", d.AudioFormat)
		}
		args = append(args, "-i", d.AudioDevice)
	}
	if d.HardLimit > 0 {
		args = append(args, "-t", strconv.FormatFloat(d.HardLimit.Seconds(), 'f', -1, 64))
	}
	args = append(args, "-c:v", "libx264", "-preset", "ultrafast", "-pix_fmt", "yuv420p")
	if d.AudioDevice != "" {
		args = append(args, "-c:a", "aac")
	}
	return append(args, output)
}

// BeginCapture starts ffmpeg. The child is not bound to ctx; it runs until
// Finalize or the hard limit.
func (d *FFmpegDevice) BeginCapture(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(d.VideoDevice) == "" {
		return nil, services.Wrap(services.ErrCaptureIncomplete, "capture", "begin", "no video device configured", nil)
	}
	if err := os.MkdirAll(d.StagingDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrCaptureIncomplete, "capture", "begin", "create staging directory", err)
	}

	id := uuid.NewString()
	output := filepath.Join(d.StagingDir, "raw-"+id+".mkv")
	cmd := exec.Command(d.Binary, d.args(output)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, services.Wrap(services.ErrCaptureIncomplete, "capture", "begin", "open ffmpeg stdin", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrCaptureIncomplete, "capture", "begin", "start ffmpeg", err)
	}

	session := &ffmpegSession{id: id, path: output, cmd: cmd, stdin: stdin, stderr: stderr, done: make(chan struct{})}
	go func() {
		session.err = cmd.Wait()
		close(session.done)
	}()

	d.Logger.Debug("capture started",
		logging.String("capture_id", id),
		logging.String("video_device", d.VideoDevice),
		logging.String("audio_device", d.AudioDevice),
	)
	return session, nil
}

// Finalize stops the recording and returns the raw clip.
func (d *FFmpegDevice) Finalize(ctx context.Context, h Handle) (media.ClipRef, error) {
	session, ok := h.(*ffmpegSession)
	if !ok || session == nil {
		return media.ClipRef{}, services.Wrap(services.ErrCaptureIncomplete, "capture", "finalize", fmt.Sprintf("foreign handle %T", h), nil)
	}

	session.once.Do(func() {
		_, _ = io.WriteString(session.stdin, "q")
		_ = session.stdin.Close()
	})

	timeout := d.FinalizeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-session.done:
	case <-timer.C:
		_ = session.cmd.Process.Kill()
		<-session.done
		d.Logger.Warn("ffmpeg did not stop in time; killed",
			logging.String("capture_id", session.id),
			logging.String(logging.FieldEventType, "capture_finalize_timeout"),
			logging.String(logging.FieldErrorHint, "check that the camera is not held by another process"),
		)
	case <-ctx.Done():
		_ = session.cmd.Process.Kill()
		<-session.done
	}

	ref := media.ClipRef{Path: session.path, Kind: media.KindRaw}
	if session.err != nil && !errors.Is(session.err, context.Canceled) {
		d.Logger.Debug("ffmpeg exited with error",
			logging.String("capture_id", session.id),
			logging.Error(session.err),
			logging.String("stderr", strings.TrimSpace(session.stderr.String())),
		)
	}
	if !ref.Usable() {
		_ = media.Release(ref)
		return media.ClipRef{}, services.Wrap(services.ErrCaptureIncomplete, "capture", "finalize", "recording produced no data", session.err)
	}
	if d.Prober != nil {
		playable, err := d.Prober.Playable(ctx, ref.Path)
		if err != nil || !playable {
			_ = media.Release(ref)
			return media.ClipRef{}, services.Wrap(services.ErrCaptureIncomplete, "capture", "finalize", "recording has no playable video", err)
		}
	}
	return ref, nil
}
