package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lipstalk/internal/journal"
	"lipstalk/internal/services"
)

// attemptView is the JSON shape of a journal entry.
type attemptView struct {
	ID             string           `json:"id"`
	Source         string           `json:"source"`
	State          string           `json:"state"`
	Reason         string           `json:"reason,omitempty"`
	Error          string           `json:"error,omitempty"`
	ClipKey        string           `json:"clip_key,omitempty"`
	TranscriptKey  string           `json:"transcript_key,omitempty"`
	RetainedClip   string           `json:"retained_clip,omitempty"`
	ElapsedSeconds int              `json:"elapsed_seconds"`
	MaxSeconds     int              `json:"max_seconds"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at,omitzero"`
	Transitions    []transitionView `json:"transitions,omitempty"`
}

type transitionView struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

func viewAttempt(e journal.Entry) attemptView {
	return attemptView{
		ID:             e.ID,
		Source:         e.Source,
		State:          e.State,
		Reason:         e.Reason,
		Error:          e.Error,
		ClipKey:        e.ClipKey,
		TranscriptKey:  e.TranscriptKey,
		RetainedClip:   e.RetainedClip,
		ElapsedSeconds: e.ElapsedSeconds,
		MaxSeconds:     e.MaxSeconds,
		StartedAt:      e.StartedAt,
		FinishedAt:     e.FinishedAt,
	}
}

func newAttemptsCommand(ctx *commandContext) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Show recent capture attempts from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openJournal(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				views := make([]attemptView, 0, len(entries))
				for _, e := range entries {
					views = append(views, viewAttempt(e))
				}
				return writeJSON(cmd, views)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No attempts recorded")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				outcome := e.Reason
				if outcome == "" {
					outcome = e.TranscriptKey
				}
				rows = append(rows, []string{
					shortID(e.ID),
					e.StartedAt.Local().Format("2006-01-02 15:04:05"),
					e.Source,
					e.State,
					strconv.Itoa(e.ElapsedSeconds) + "s",
					outcome,
				})
			}
			fmt.Fprintln(out, renderTable([]column{
				left("ID"), left("Started"), left("Source"), left("State"), right("Recorded"), left("Outcome"),
			}, rows))

			stats, err := store.Stats(cmd.Context())
			if err == nil && len(stats) > 0 {
				fmt.Fprintln(out, summarizeStats(stats))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of attempts to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	cmd.AddCommand(newAttemptsShowCommand(ctx))
	cmd.AddCommand(newAttemptsPruneCommand(ctx))
	return cmd
}

func newAttemptsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one attempt and its state changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openJournal(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			entry, err := resolveAttempt(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}
			transitions, err := store.Transitions(cmd.Context(), entry.ID)
			if err != nil {
				return err
			}
			view := viewAttempt(entry)
			for _, tr := range transitions {
				view.Transitions = append(view.Transitions, transitionView{State: tr.State, At: tr.At})
			}
			if jsonOutput {
				return writeJSON(cmd, view)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Attempt %s (%s)\n", view.ID, view.Source)
			fmt.Fprintf(out, "State: %s\n", view.State)
			if view.Reason != "" {
				fmt.Fprintf(out, "Reason: %s\n", view.Reason)
			}
			if view.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", view.Error)
			}
			fmt.Fprintf(out, "Recorded: %ds of %ds\n", view.ElapsedSeconds, view.MaxSeconds)
			if view.TranscriptKey != "" {
				fmt.Fprintf(out, "Transcript: %s\n", view.TranscriptKey)
			}
			if view.RetainedClip != "" {
				fmt.Fprintf(out, "Clip: %s\n", view.RetainedClip)
			}
			for _, tr := range view.Transitions {
				fmt.Fprintf(out, "  %s  %s\n", tr.At.Local().Format("15:04:05.000"), tr.State)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newAttemptsPruneCommand(ctx *commandContext) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete journal entries older than a number of days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			store, err := ctx.openJournal(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Prune(cmd.Context(), time.Now().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d attempt(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Keep attempts from the last N days")
	return cmd
}

// resolveAttempt accepts a full id or a unique prefix of one.
func resolveAttempt(ctx context.Context, store *journal.Store, id string) (journal.Entry, error) {
	entry, err := store.Get(ctx, id)
	if err == nil || !errors.Is(err, services.ErrNotFound) {
		return entry, err
	}
	entries, listErr := store.List(ctx, 0)
	if listErr != nil {
		return journal.Entry{}, listErr
	}
	var matches []journal.Entry
	for _, e := range entries {
		if strings.HasPrefix(e.ID, id) {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 0:
		return journal.Entry{}, err
	case 1:
		return matches[0], nil
	default:
		return journal.Entry{}, fmt.Errorf("attempt id %q is ambiguous (%d matches)", id, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func summarizeStats(stats map[string]int) string {
	states := make([]string, 0, len(stats))
	for state := range stats {
		states = append(states, state)
	}
	slices.Sort(states)
	parts := make([]string, 0, len(states))
	for _, state := range states {
		parts = append(parts, fmt.Sprintf("%s %d", state, stats[state]))
	}
	return "Totals: " + strings.Join(parts, ", ")
}
