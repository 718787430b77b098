package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"lipstalk/internal/bus"
	"lipstalk/internal/capture"
	"lipstalk/internal/clock"
	"lipstalk/internal/collection"
	"lipstalk/internal/config"
	"lipstalk/internal/deps"
	"lipstalk/internal/journal"
	"lipstalk/internal/logging"
	"lipstalk/internal/media/ffprobe"
	"lipstalk/internal/normalize"
	"lipstalk/internal/notifications"
	"lipstalk/internal/pipeline"
	"lipstalk/internal/preflight"
	"lipstalk/internal/services"
	"lipstalk/internal/transcription"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// configPath is the --config value, empty when the default search applies.
func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// log returns the process logger, falling back to a console logger when the
// configured one cannot be built.
func (c *commandContext) log() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, _ := c.ensureConfig()
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			logger, _ = logging.New(logging.Options{Level: "info", Format: "console"})
			logger.Warn("falling back to console logging", logging.Error(err))
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) openTranscripts() (*collection.TranscriptStore, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return collection.OpenTranscripts(cfg.Paths.TranscriptsFile)
}

func (c *commandContext) openClips() (*collection.ClipStore, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return collection.OpenClips(cfg.Paths.ClipsDir)
}

// openJournal opens the attempt journal and fails attempts a previous
// process left unfinished.
func (c *commandContext) openJournal(ctx context.Context) (*journal.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := journal.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open attempt journal: %w", err)
	}
	if n, err := store.ResetInterrupted(ctx); err != nil {
		c.log().Warn("reset interrupted attempts", logging.Error(err))
	} else if n > 0 {
		c.log().Info("marked interrupted attempts failed", logging.Int64("count", n))
	}
	return store, nil
}

// runtimeOptions adjust the pipeline for a single command.
type runtimeOptions struct {
	device          capture.Device
	skipPermissions bool
	maxDuration     int
	discardClip     bool
}

// runtime is a fully wired pipeline plus the stores behind it.
type runtime struct {
	cfg          *config.Config
	logger       *slog.Logger
	bus          *bus.Bus
	journal      *journal.Store
	transcripts  *collection.TranscriptStore
	clips        *collection.ClipStore
	orchestrator *pipeline.Orchestrator

	closers []func()
}

func (c *commandContext) openRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if missing := deps.Missing(deps.CheckBinaries(deps.Requirements(cfg))); len(missing) > 0 {
		m := missing[0]
		return nil, services.Wrap(services.ErrConfiguration, "runtime", "check binaries",
			fmt.Sprintf("%s unavailable: %s (%s)", m.Name, m.Detail, m.Description), nil)
	}
	logger := c.log()
	rt := &runtime{cfg: cfg, logger: logger}

	if rt.transcripts, err = c.openTranscripts(); err != nil {
		return nil, err
	}
	if rt.clips, err = c.openClips(); err != nil {
		return nil, err
	}
	if rt.journal, err = c.openJournal(ctx); err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() { _ = rt.journal.Close() })

	rt.bus = bus.New(logger)
	rt.closers = append(rt.closers, rt.bus.Close)
	lookup := func(ctx context.Context, key string) (string, error) {
		record, err := rt.transcripts.Get(ctx, key)
		return record.Text, err
	}
	stopForward := notifications.Forward(rt.bus, notifications.NewService(cfg), cfg, lookup, logger)
	rt.closers = append(rt.closers, stopForward)

	device := opts.device
	if device == nil {
		device = capture.NewFFmpegDevice(cfg, logger)
	}
	var permissions pipeline.PermissionChecker = preflight.NewDevicePermissions(cfg)
	if opts.skipPermissions {
		permissions = pipeline.PermissionFunc(func(context.Context) error { return nil })
	}
	inspector := ffprobe.Inspector{Binary: deps.FFprobeFor(cfg.Recording.FFmpegBinary)}

	pipelineOpts := pipeline.OptionsFromConfig(cfg)
	if opts.maxDuration > 0 {
		pipelineOpts.MaxDuration = opts.maxDuration
	}
	if opts.discardClip {
		pipelineOpts.KeepClips = false
	}

	rt.orchestrator, err = pipeline.New(pipeline.Dependencies{
		Device:      device,
		Normalizer:  normalize.NewFFmpeg(cfg, inspector.Playable, logger),
		Transcriber: transcription.NewHTTPClient(cfg, logger),
		Transcripts: rt.transcripts,
		Clips:       rt.clips,
		Bus:         rt.bus,
		Permissions: permissions,
		Clock:       clock.Real(),
		Logger:      logger,
	}, pipelineOpts)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.orchestrator.Observe(pipeline.JournalObserver(rt.journal, logger))
	rt.closers = append(rt.closers, rt.orchestrator.Close)
	return rt, nil
}

// close releases resources in reverse order of acquisition.
func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
