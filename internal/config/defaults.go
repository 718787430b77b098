package config

const (
	defaultDataDir                = "~/.local/share/lipstalk"
	defaultClipsSubdir            = "clips"
	defaultStagingSubdir          = "staging"
	defaultLogSubdir              = "logs"
	defaultTranscriptsFileName    = "transcriptions.json"
	defaultAPIBind                = "127.0.0.1:7490"
	defaultMaxDurationSeconds     = 20
	defaultFFmpegBinary           = "ffmpeg"
	defaultInputFormat            = "v4l2"
	defaultVideoDevice            = "/dev/video0"
	defaultAudioFormat            = "alsa"
	defaultAudioDevice            = "default"
	defaultFinalizeTimeout        = 10
	defaultTargetWidth            = 256
	defaultTargetHeight           = 256
	defaultTranscriptionEndpoint  = "http://127.0.0.1:8000/transcribe"
	defaultTranscriptionTimeout   = 120
	defaultNotifyRequestTimeout   = 10
	defaultTTSBinary              = "espeak-ng"
	defaultClipboardBinary        = "wl-copy"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	maxRecordingCeilingSeconds    = 600
	maxTranscriptionTimeoutSecond = 3600
)

// Empty result policies for the transcription service.
const (
	// EmptyResultSucceed stores an empty or malformed response as an empty transcript.
	EmptyResultSucceed = "empty_ok"
	// EmptyResultFail treats an empty or malformed response as a transcription failure.
	EmptyResultFail = "fail"
)

// Default returns a Config populated with repository defaults. Empty
// directory fields are derived from Paths.DataDir during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			APIBind: defaultAPIBind,
		},
		Recording: Recording{
			MaxDurationSeconds: defaultMaxDurationSeconds,
			KeepClips:          true,
			FFmpegBinary:       defaultFFmpegBinary,
			InputFormat:        defaultInputFormat,
			VideoDevice:        defaultVideoDevice,
			AudioFormat:        defaultAudioFormat,
			AudioDevice:        defaultAudioDevice,
			FinalizeTimeout:    defaultFinalizeTimeout,
		},
		Normalize: Normalize{
			TargetWidth:  defaultTargetWidth,
			TargetHeight: defaultTargetHeight,
			KeepAudio:    true,
		},
		Transcription: Transcription{
			Endpoint:          defaultTranscriptionEndpoint,
			TimeoutSeconds:    defaultTranscriptionTimeout,
			EmptyResultPolicy: EmptyResultSucceed,
		},
		Notifications: Notifications{
			RequestTimeout:  defaultNotifyRequestTimeout,
			TranscriptSaved: true,
			AttemptFailed:   true,
		},
		Speech: Speech{
			TTSBinary:       defaultTTSBinary,
			ClipboardBinary: defaultClipboardBinary,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
