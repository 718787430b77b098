package deps

import (
	"path/filepath"
	"strings"

	"lipstalk/internal/config"
)

// FFprobeFor derives the ffprobe binary that ships beside a configured
// ffmpeg: "/opt/ff/bin/ffmpeg-6" maps to "/opt/ff/bin/ffprobe-6". Anything
// not named like ffmpeg falls back to "ffprobe" on PATH.
func FFprobeFor(ffmpeg string) string {
	dir, base := filepath.Split(strings.TrimSpace(ffmpeg))
	if !strings.HasPrefix(base, "ffmpeg") {
		return "ffprobe"
	}
	return dir + "ffprobe" + strings.TrimPrefix(base, "ffmpeg")
}

// Requirements lists the binaries a configuration needs.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.Recording.FFmpegBinary,
			Description: "Required for capture and normalization",
		},
		{
			Name:        "FFprobe",
			Command:     FFprobeFor(cfg.Recording.FFmpegBinary),
			Description: "Required to validate recorded clips",
		},
		{
			Name:        "Text to speech",
			Command:     cfg.Speech.TTSBinary,
			Description: "Reads transcripts aloud",
			Optional:    true,
		},
		{
			Name:        "Clipboard",
			Command:     cfg.Speech.ClipboardBinary,
			Description: "Copies transcripts to the clipboard",
			Optional:    true,
		},
	}
}
