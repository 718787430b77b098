package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lipstalk/internal/collection"
	"lipstalk/internal/filter"
	"lipstalk/internal/share"
)

// dateFlags are the --year/--month/--day filters shared by list commands.
type dateFlags struct {
	year  string
	month string
	day   string
}

func (f *dateFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.year, "year", "", "Only entries from this year (YYYY)")
	cmd.Flags().StringVar(&f.month, "month", "", "Only entries from this month (1-12)")
	cmd.Flags().StringVar(&f.day, "day", "", "Only entries from this day of the month (1-31)")
}

func (f *dateFlags) criterion() (filter.Criterion, error) {
	return filter.ParseCriterion(f.year, f.month, f.day)
}

func newTranscriptsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transcripts",
		Aliases: []string{"t"},
		Short:   "Browse and manage saved transcripts",
	}
	cmd.AddCommand(newTranscriptsListCommand(ctx))
	cmd.AddCommand(newTranscriptsDeleteCommand(ctx))
	cmd.AddCommand(newTranscriptsCopyCommand(ctx))
	cmd.AddCommand(newTranscriptsSpeakCommand(ctx))
	return cmd
}

func newTranscriptsListCommand(ctx *commandContext) *cobra.Command {
	var (
		dates      dateFlags
		query      string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transcripts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			criterion, err := dates.criterion()
			if err != nil {
				return err
			}
			store, err := ctx.openTranscripts()
			if err != nil {
				return err
			}
			records, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			records = filter.Search(filter.Apply(records, criterion), query)

			if jsonOutput {
				if records == nil {
					records = []collection.Transcript{}
				}
				return writeJSON(cmd, records)
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No transcripts found")
				return nil
			}
			rows := make([][]string, 0, len(records))
			for _, r := range records {
				rows = append(rows, []string{r.Date, preview(r.Text, 60), r.Key()})
			}
			fmt.Fprintln(out, renderTable([]column{left("Date"), left("Text"), left("Key")}, rows))
			return nil
		},
	}
	dates.register(cmd)
	cmd.Flags().StringVarP(&query, "query", "q", "", "Only transcripts containing this text")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newTranscriptsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>...",
		Short: "Delete transcripts by key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openTranscripts()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var missing []string
			for _, key := range args {
				removed, err := store.DeleteByKey(cmd.Context(), key)
				if err != nil {
					return err
				}
				if !removed {
					missing = append(missing, key)
					continue
				}
				fmt.Fprintf(out, "Deleted transcript %s\n", key)
			}
			if len(missing) > 0 {
				return fmt.Errorf("no transcript with key %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

func newTranscriptsCopyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "copy <key>",
		Short: "Copy a transcript's text to the clipboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			record, err := lookupTranscript(cmd, ctx, args[0])
			if err != nil {
				return err
			}
			if err := share.NewHelper(cfg).CopyText(cmd.Context(), record.Text); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Copied to clipboard")
			return nil
		},
	}
}

func newTranscriptsSpeakCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "speak <key>",
		Short: "Read a transcript aloud",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			record, err := lookupTranscript(cmd, ctx, args[0])
			if err != nil {
				return err
			}
			return share.NewHelper(cfg).Speak(cmd.Context(), record.Text)
		},
	}
}

func lookupTranscript(cmd *cobra.Command, ctx *commandContext, key string) (collection.Transcript, error) {
	store, err := ctx.openTranscripts()
	if err != nil {
		return collection.Transcript{}, err
	}
	return store.Get(cmd.Context(), key)
}
