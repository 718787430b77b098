package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"lipstalk/internal/capture"
	"lipstalk/internal/pipeline"
)

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var (
		maxSeconds int
		noKeepClip bool
		fromFile   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a clip, transcribe it, and save the transcript",
		Long: "Record a clip from the configured camera, send it for transcription,\n" +
			"and append the result to the transcript collection. Press Enter to stop\n" +
			"early; Ctrl+C cancels the attempt.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if maxSeconds < 0 {
				return fmt.Errorf("--max must be positive")
			}
			opts := runtimeOptions{maxDuration: maxSeconds, discardClip: noKeepClip}
			if path := strings.TrimSpace(fromFile); path != "" {
				opts.device = &capture.FileDevice{Source: path, StagingDir: cfg.Paths.StagingDir}
				opts.skipPermissions = true
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := ctx.openRuntime(runCtx, opts)
			if err != nil {
				return err
			}
			defer rt.close()

			progress := newProgressPrinter(cmd.ErrOrStderr())
			rt.orchestrator.Observe(progress.observe)

			if _, err := rt.orchestrator.Start(runCtx); err != nil {
				return err
			}
			if opts.device != nil {
				_ = rt.orchestrator.Stop()
			} else {
				go stopOnEnter(runCtx, cmd.InOrStdin(), rt.orchestrator)
			}

			snap, err := awaitAttempt(runCtx, rt.orchestrator)
			progress.finish()
			if err != nil {
				return err
			}
			return reportAttempt(cmd, snap, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&maxSeconds, "max", 0, "Recording ceiling in seconds (defaults to recording.max_duration_seconds)")
	cmd.Flags().BoolVar(&noKeepClip, "no-keep-clip", false, "Discard the clip after transcription")
	cmd.Flags().StringVar(&fromFile, "from", "", "Use an existing video file instead of the camera")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the final attempt as JSON")
	return cmd
}

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "transcribe <clip>",
		Short: "Send a stored clip for transcription again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := ctx.openRuntime(runCtx, runtimeOptions{skipPermissions: true})
			if err != nil {
				return err
			}
			defer rt.close()

			progress := newProgressPrinter(cmd.ErrOrStderr())
			rt.orchestrator.Observe(progress.observe)

			if _, err := rt.orchestrator.TranscribeClip(runCtx, args[0]); err != nil {
				return err
			}
			snap, err := awaitAttempt(runCtx, rt.orchestrator)
			progress.finish()
			if err != nil {
				return err
			}
			return reportAttempt(cmd, snap, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the final attempt as JSON")
	return cmd
}

// awaitAttempt waits for the attempt to settle. An interrupt cancels the
// attempt and waits for the cancellation to finish.
func awaitAttempt(ctx context.Context, o *pipeline.Orchestrator) (pipeline.Snapshot, error) {
	snap, err := o.Wait(ctx)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, context.Canceled) {
		return snap, err
	}
	if cancelErr := o.Cancel(); cancelErr != nil && !errors.Is(cancelErr, pipeline.ErrInvalidTransition) {
		return snap, cancelErr
	}
	return o.Wait(context.Background())
}

// stopOnEnter stops the recording when a line is read from in. EOF leaves
// the recording to run until its ceiling.
func stopOnEnter(ctx context.Context, in io.Reader, o *pipeline.Orchestrator) {
	lines := make(chan struct{})
	go func() {
		reader := bufio.NewReader(in)
		if _, err := reader.ReadString('\n'); err == nil {
			close(lines)
		}
	}()
	select {
	case <-ctx.Done():
	case <-lines:
		_ = o.Stop()
	}
}

func reportAttempt(cmd *cobra.Command, snap pipeline.Snapshot, jsonOutput bool) error {
	if jsonOutput {
		if err := writeJSON(cmd, snap); err != nil {
			return err
		}
	} else {
		printAttempt(cmd.OutOrStdout(), snap)
	}
	switch snap.State {
	case pipeline.StateFailed:
		return fmt.Errorf("attempt failed: %s", snap.Reason)
	case pipeline.StateCancelled:
		return context.Canceled
	}
	return nil
}

func printAttempt(out io.Writer, snap pipeline.Snapshot) {
	switch snap.State {
	case pipeline.StateDisplayed:
		if strings.TrimSpace(snap.Transcript) == "" {
			fmt.Fprintln(out, "No speech recognised.")
		} else {
			fmt.Fprintln(out, snap.Transcript)
		}
		if snap.TranscriptKey != "" {
			fmt.Fprintf(out, "\nSaved transcript %s\n", snap.TranscriptKey)
		}
		if snap.RetainedClip != "" {
			fmt.Fprintf(out, "Kept clip %s\n", snap.RetainedClip)
		}
	case pipeline.StateFailed:
		fmt.Fprintf(out, "Attempt failed (%s): %s\n", snap.Reason, snap.Error)
		if snap.Hint != "" {
			fmt.Fprintf(out, "Hint: %s\n", snap.Hint)
		}
		if snap.CanRetry && snap.Transcript != "" {
			fmt.Fprintf(out, "Unsaved transcript: %s\n", snap.Transcript)
		}
	case pipeline.StateCancelled:
		fmt.Fprintln(out, "Attempt cancelled.")
	default:
		fmt.Fprintf(out, "Attempt ended in state %s\n", snap.State)
	}
}
