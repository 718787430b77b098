package media

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// Kind labels where an artifact came from.
type Kind string

const (
	KindRaw        Kind = "raw"
	KindNormalized Kind = "normalized"
	// KindWorking is a staging copy of an already retained clip.
	KindWorking Kind = "working"
)

// ClipRef points at a clip file owned by the current holder.
type ClipRef struct {
	Path string
	Kind Kind
}

// IsZero reports whether the reference points at nothing.
func (c ClipRef) IsZero() bool {
	return strings.TrimSpace(c.Path) == ""
}

// Usable reports whether the referenced file exists and is non-empty.
func (c ClipRef) Usable() bool {
	if c.IsZero() {
		return false
	}
	info, err := os.Stat(c.Path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

func (c ClipRef) String() string {
	if c.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s:%s", c.Kind, c.Path)
}

// Release deletes the artifact. Releasing a zero or already removed
// reference is not an error.
func Release(ref ClipRef) error {
	if ref.IsZero() {
		return nil
	}
	if err := os.Remove(ref.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release %s: %w", ref, err)
	}
	return nil
}
