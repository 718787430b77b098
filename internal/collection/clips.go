package collection

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"lipstalk/internal/datekey"
	"lipstalk/internal/fileutil"
	"lipstalk/internal/media"
	"lipstalk/internal/services"
)

// ClipExtension is appended to retained clip names.
const ClipExtension = ".mp4"

var writeAtomic = func(path string, data []byte) error {
	return fileutil.WriteFileAtomic(path, data, 0o644)
}

// Clip is one retained clip file.
type Clip struct {
	Name    string    `json:"name"`
	Date    string    `json:"date"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	// Recorded is the instant parsed from the name; zero when unparseable.
	Recorded time.Time `json:"recorded,omitzero"`
}

// Key is the clip's file name.
func (c Clip) Key() string        { return c.Name }
func (c Clip) DateKey() string    { return c.Date }
func (c Clip) Ref() media.ClipRef { return media.ClipRef{Path: c.Path, Kind: media.KindNormalized} }

// ClipStore treats a directory as the clips collection.
type ClipStore struct {
	dir string
}

// OpenClips prepares the clips directory.
func OpenClips(dir string) (*ClipStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "collection", "open clips", "clips directory is empty", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorage, "collection", "open clips", "create clips directory", err)
	}
	return &ClipStore{dir: dir}, nil
}

// Dir returns the clips directory.
func (s *ClipStore) Dir() string {
	return s.dir
}

// List returns every clip, newest first by the time encoded in its name and
// then by modification time.
func (s *ClipStore) List(ctx context.Context) ([]Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Clip{}, nil
		}
		return nil, services.Wrap(services.ErrStorage, "collection", "list clips", "read clips directory", err)
	}

	clips := make([]Clip, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ClipExtension) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		clips = append(clips, s.describe(name, info))
	}

	slices.SortStableFunc(clips, func(a, b Clip) int {
		ta, tb := a.Recorded, b.Recorded
		if ta.IsZero() {
			ta = a.ModTime
		}
		if tb.IsZero() {
			tb = b.ModTime
		}
		if c := tb.Compare(ta); c != 0 {
			return c
		}
		return strings.Compare(b.Name, a.Name)
	})
	return clips, nil
}

// Get returns the clip named key. The extension may be omitted.
func (s *ClipStore) Get(ctx context.Context, key string) (Clip, error) {
	if err := ctx.Err(); err != nil {
		return Clip{}, err
	}
	name, ok := s.normalizeKey(key)
	if !ok {
		return Clip{}, services.Wrap(services.ErrNotFound, "collection", "get clip", fmt.Sprintf("invalid clip key %q", key), nil)
	}
	info, err := os.Stat(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Clip{}, services.Wrap(services.ErrNotFound, "collection", "get clip", fmt.Sprintf("no clip %q", key), nil)
		}
		return Clip{}, services.Wrap(services.ErrStorage, "collection", "get clip", "stat clip", err)
	}
	return s.describe(name, info), nil
}

// Adopt moves an owned clip into the collection under a name derived from
// at. Same-second collisions get a numeric suffix. After a successful adopt
// the caller no longer owns ref.
func (s *ClipStore) Adopt(ctx context.Context, ref media.ClipRef, at time.Time) (Clip, error) {
	if err := ctx.Err(); err != nil {
		return Clip{}, err
	}
	if !ref.Usable() {
		return Clip{}, services.Wrap(services.ErrStorage, "collection", "adopt clip", fmt.Sprintf("clip %s is not usable", ref), nil)
	}
	stem := datekey.Clip(at)
	name := stem + ClipExtension
	for i := 1; ; i++ {
		if _, err := os.Lstat(filepath.Join(s.dir, name)); errors.Is(err, fs.ErrNotExist) {
			break
		}
		name = fmt.Sprintf("%s-%d%s", stem, i, ClipExtension)
	}
	dst := filepath.Join(s.dir, name)
	if err := fileutil.MoveFile(ref.Path, dst); err != nil {
		return Clip{}, services.Wrap(services.ErrStorage, "collection", "adopt clip", "move clip into collection", err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		return Clip{}, services.Wrap(services.ErrStorage, "collection", "adopt clip", "stat adopted clip", err)
	}
	return s.describe(name, info), nil
}

// DeleteByKey removes the clip file and reports whether it existed.
func (s *ClipStore) DeleteByKey(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	name, ok := s.normalizeKey(key)
	if !ok {
		return false, nil
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, services.Wrap(services.ErrStorage, "collection", "delete clip", "remove clip file", err)
	}
	return true, nil
}

func (s *ClipStore) describe(name string, info fs.FileInfo) Clip {
	clip := Clip{
		Name:    name,
		Date:    strings.TrimSuffix(name, filepath.Ext(name)),
		Path:    filepath.Join(s.dir, name),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if recorded, ok := datekey.Parse(name, time.Local); ok {
		clip.Recorded = recorded
	}
	return clip
}

// normalizeKey rejects keys that would escape the clips directory.
func (s *ClipStore) normalizeKey(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." {
		return "", false
	}
	if !strings.EqualFold(filepath.Ext(key), ClipExtension) {
		key += ClipExtension
	}
	return key, true
}
