package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrCaptureIncomplete = errors.New("capture incomplete")
	ErrNormalizeFailed   = errors.New("normalize failed")
	ErrTranscribeFailed  = errors.New("transcribe failed")
	ErrStorage           = errors.New("storage error")
	ErrCancelledByUser   = errors.New("cancelled by user")
	ErrConfiguration     = errors.New("configuration error")
	ErrNotFound          = errors.New("not found")
)

// Reason classifies why an attempt ended in the failed state.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonPermissionDenied  Reason = "permission_denied"
	ReasonCaptureIncomplete Reason = "capture_incomplete"
	ReasonNormalizeFailed   Reason = "normalize_failed"
	ReasonTranscribeFailed  Reason = "transcribe_failed"
	ReasonPersistFailed     Reason = "persist_failed"
	ReasonCancelledByUser   Reason = "cancelled_by_user"
	ReasonUnknown           Reason = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrStorage
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ReasonFor maps an error to the failure reason recorded on an attempt.
// Storage failures surface as persist_failed because the only write the
// pipeline performs is the transcript append.
func ReasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrPermissionDenied):
		return ReasonPermissionDenied
	case errors.Is(err, ErrCaptureIncomplete):
		return ReasonCaptureIncomplete
	case errors.Is(err, ErrNormalizeFailed):
		return ReasonNormalizeFailed
	case errors.Is(err, ErrTranscribeFailed):
		return ReasonTranscribeFailed
	case errors.Is(err, ErrStorage):
		return ReasonPersistFailed
	case errors.Is(err, ErrCancelledByUser):
		return ReasonCancelledByUser
	default:
		return ReasonUnknown
	}
}

// Hint returns a short user-facing next step for a failure reason.
func (r Reason) Hint() string {
	switch r {
	case ReasonPermissionDenied:
		return "grant camera and microphone access, then record again"
	case ReasonCaptureIncomplete:
		return "check the camera connection and record again"
	case ReasonNormalizeFailed:
		return "verify ffmpeg is installed and the clip is a valid video"
	case ReasonTranscribeFailed:
		return "check network access to the transcription service and retry"
	case ReasonPersistFailed:
		return "check free space and permissions on the data directory, then retry saving"
	default:
		return ""
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
