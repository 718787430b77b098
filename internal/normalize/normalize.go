// Package normalize turns a raw recording into the fixed crop and size the
// transcription service expects.
package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"lipstalk/internal/config"
	"lipstalk/internal/logging"
	"lipstalk/internal/media"
	"lipstalk/internal/services"
)

// centeredSquare crops the largest centered square.
const centeredSquare = "min(iw\\,ih):min(iw\\,ih)"

// Params describe the normalized clip contract.
type Params struct {
	// Crop is an ffmpeg crop expression (w:h[:x:y]); empty selects a centered square.
	Crop         string
	TargetWidth  int
	TargetHeight int
	KeepAudio    bool
}

// ParamsFromConfig reads normalization settings.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Crop:         cfg.Normalize.Crop,
		TargetWidth:  cfg.Normalize.TargetWidth,
		TargetHeight: cfg.Normalize.TargetHeight,
		KeepAudio:    cfg.Normalize.KeepAudio,
	}
}

// Filter returns the ffmpeg video filter chain for p.
func (p Params) Filter() string {
	crop := strings.TrimSpace(p.Crop)
	if crop == "" {
		crop = centeredSquare
	}
	return fmt.Sprintf("crop=%s,scale=%d:%d", crop, p.TargetWidth, p.TargetHeight)
}

// Normalizer produces a normalized clip from a raw one. The input stays
// owned by the caller; the output is a new artifact owned by the caller.
type Normalizer interface {
	Normalize(ctx context.Context, raw media.ClipRef, params Params) (media.ClipRef, error)
}

// Validator confirms the output is a playable clip.
type Validator func(ctx context.Context, path string) (bool, error)

// FFmpeg normalizes clips with an ffmpeg subprocess.
type FFmpeg struct {
	Binary    string
	OutputDir string
	Validate  Validator
	Logger    *slog.Logger
}

// NewFFmpeg returns an ffmpeg normalizer writing into the staging directory.
func NewFFmpeg(cfg *config.Config, validate Validator, logger *slog.Logger) *FFmpeg {
	return &FFmpeg{
		Binary:    cfg.Recording.FFmpegBinary,
		OutputDir: cfg.Paths.StagingDir,
		Validate:  validate,
		Logger:    logging.NewComponentLogger(logger, "normalize"),
	}
}

func (f *FFmpeg) args(input, output string, params Params) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", input,
		"-vf", params.Filter(),
		"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
	}
	if params.KeepAudio {
		args = append(args, "-c:a", "aac", "-b:a", "96k")
	} else {
		args = append(args, "-an")
	}
	return append(args, "-movflags", "+faststart", output)
}

// Normalize runs ffmpeg and returns the normalized clip.
func (f *FFmpeg) Normalize(ctx context.Context, raw media.ClipRef, params Params) (media.ClipRef, error) {
	if !raw.Usable() {
		return media.ClipRef{}, services.Wrap(services.ErrNormalizeFailed, "normalize", "input", fmt.Sprintf("raw clip %s is not usable", raw), nil)
	}
	if params.TargetWidth <= 0 || params.TargetHeight <= 0 {
		return media.ClipRef{}, services.Wrap(services.ErrNormalizeFailed, "normalize", "params", "target size must be positive", nil)
	}
	if err := os.MkdirAll(f.OutputDir, 0o755); err != nil {
		return media.ClipRef{}, services.Wrap(services.ErrNormalizeFailed, "normalize", "prepare", "create output directory", err)
	}

	out := media.ClipRef{
		Path: filepath.Join(f.OutputDir, "normalized-"+uuid.NewString()+".mp4"),
		Kind: media.KindNormalized,
	}
	started := time.Now()
	cmd := exec.CommandContext(ctx, f.Binary, f.args(raw.Path, out.Path, params)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = media.Release(out)
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		return media.ClipRef{}, services.Wrap(services.ErrNormalizeFailed, "normalize", "ffmpeg", strings.TrimSpace(stderr.String()), err)
	}
	if !out.Usable() {
		_ = media.Release(out)
		return media.ClipRef{}, services.Wrap(services.ErrNormalizeFailed, "normalize", "ffmpeg", "no output produced", nil)
	}
	if f.Validate != nil {
		ok, err := f.Validate(ctx, out.Path)
		if err != nil || !ok {
			_ = media.Release(out)
			return media.ClipRef{}, services.Wrap(services.ErrNormalizeFailed, "normalize", "validate", "normalized clip is not playable", err)
		}
	}

	f.Logger.Debug("clip normalized",
		logging.String("filter", params.Filter()),
		logging.Duration("duration", time.Since(started)),
		logging.String(logging.FieldEventType, "clip_normalized"),
	)
	return out, nil
}

// String renders params for logs.
func (p Params) String() string {
	return p.Filter() + " audio=" + strconv.FormatBool(p.KeepAudio)
}
