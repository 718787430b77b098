package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"lipstalk/internal/fileutil"
	"lipstalk/internal/media"
	"lipstalk/internal/services"
)

// FileDevice imports Source as the raw recording. The source file is copied
// so releasing the raw clip never touches it.
type FileDevice struct {
	Source     string
	StagingDir string
}

type fileHandle struct{ id string }

func (h fileHandle) ID() string { return h.id }

func (d *FileDevice) BeginCapture(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(d.Source)
	if err != nil {
		return nil, services.Wrap(services.ErrCaptureIncomplete, "capture", "begin", "source video unavailable", err)
	}
	if !info.Mode().IsRegular() {
		return nil, services.Wrap(services.ErrCaptureIncomplete, "capture", "begin", fmt.Sprintf("%s is not a file", d.Source), nil)
	}
	return fileHandle{id: uuid.NewString()}, nil
}

func (d *FileDevice) Finalize(ctx context.Context, h Handle) (media.ClipRef, error) {
	if err := ctx.Err(); err != nil {
		return media.ClipRef{}, err
	}
	if err := os.MkdirAll(d.StagingDir, 0o755); err != nil {
		return media.ClipRef{}, services.Wrap(services.ErrCaptureIncomplete, "capture", "finalize", "create staging directory", err)
	}
	ref := media.ClipRef{
		Path: filepath.Join(d.StagingDir, "raw-"+h.ID()+filepath.Ext(d.Source)),
		Kind: media.KindRaw,
	}
	if err := fileutil.CopyFile(d.Source, ref.Path); err != nil {
		_ = media.Release(ref)
		return media.ClipRef{}, services.Wrap(services.ErrCaptureIncomplete, "capture", "finalize", "copy source video", err)
	}
	if !ref.Usable() {
		_ = media.Release(ref)
		return media.ClipRef{}, services.Wrap(services.ErrCaptureIncomplete, "capture", "finalize", "source video is empty", nil)
	}
	return ref, nil
}
