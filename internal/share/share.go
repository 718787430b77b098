// Package share hands transcripts and clips to the rest of the desktop:
// the clipboard, a text-to-speech voice, or another directory.
package share

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"lipstalk/internal/config"
	"lipstalk/internal/fileutil"
)

// Helper runs the configured clipboard and speech binaries.
type Helper struct {
	ClipboardBinary string
	ClipboardArgs   []string
	TTSBinary       string
	TTSArgs         []string
}

// NewHelper reads speech settings from cfg.
func NewHelper(cfg *config.Config) *Helper {
	return &Helper{
		ClipboardBinary: cfg.Speech.ClipboardBinary,
		ClipboardArgs:   append([]string(nil), cfg.Speech.ClipboardArgs...),
		TTSBinary:       cfg.Speech.TTSBinary,
		TTSArgs:         append([]string(nil), cfg.Speech.TTSArgs...),
	}
}

// CopyText writes text to the clipboard helper's stdin.
func (h *Helper) CopyText(ctx context.Context, text string) error {
	if strings.TrimSpace(h.ClipboardBinary) == "" {
		return fmt.Errorf("clipboard helper not configured")
	}
	cmd := exec.CommandContext(ctx, h.ClipboardBinary, h.ClipboardArgs...)
	cmd.Stdin = strings.NewReader(text)
	return run(cmd, "clipboard")
}

// Speak reads text aloud; the text is passed as the last argument.
func (h *Helper) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(h.TTSBinary) == "" {
		return fmt.Errorf("text to speech helper not configured")
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to speak")
	}
	args := append(append([]string(nil), h.TTSArgs...), text)
	return run(exec.CommandContext(ctx, h.TTSBinary, args...), "text to speech")
}

func run(cmd *exec.Cmd, label string) error {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", label, err, msg)
		}
		return fmt.Errorf("%s: %w", label, err)
	}
	return nil
}

// ExportClip copies a clip into dest with a verified copy. dest may be a
// directory or a file path. The original stays in the collection.
func ExportClip(src, dest string) (string, error) {
	target := dest
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		target = filepath.Join(dest, filepath.Base(src))
	}
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("export clip: %s already exists", target)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("export clip: %w", err)
	}
	if err := fileutil.CopyFileVerified(src, target); err != nil {
		return "", fmt.Errorf("export clip: %w", err)
	}
	return target, nil
}
