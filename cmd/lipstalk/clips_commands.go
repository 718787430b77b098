package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lipstalk/internal/collection"
	"lipstalk/internal/filter"
	"lipstalk/internal/share"
)

func newClipsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clips",
		Short: "Browse and manage retained clips",
	}
	cmd.AddCommand(newClipsListCommand(ctx))
	cmd.AddCommand(newClipsDeleteCommand(ctx))
	cmd.AddCommand(newClipsShareCommand(ctx))
	return cmd
}

func newClipsListCommand(ctx *commandContext) *cobra.Command {
	var (
		dates      dateFlags
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clips, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			criterion, err := dates.criterion()
			if err != nil {
				return err
			}
			store, err := ctx.openClips()
			if err != nil {
				return err
			}
			clips, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			clips = filter.Apply(clips, criterion)

			if jsonOutput {
				if clips == nil {
					clips = []collection.Clip{}
				}
				return writeJSON(cmd, clips)
			}
			out := cmd.OutOrStdout()
			if len(clips) == 0 {
				fmt.Fprintln(out, "No clips found")
				return nil
			}
			rows := make([][]string, 0, len(clips))
			for _, c := range clips {
				rows = append(rows, []string{c.Name, formatSize(c.Size)})
			}
			fmt.Fprintln(out, renderTable([]column{left("Clip"), right("Size")}, rows))
			return nil
		},
	}
	dates.register(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newClipsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <clip>...",
		Short: "Delete clips by file name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openClips()
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
				fmt.Fprintf(out, "Deleted clip %s\n", key)
			}
			if len(missing) > 0 {
				return fmt.Errorf("no clip named %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

func newClipsShareCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "share <clip> <destination>",
		Short: "Copy a clip to a directory or file outside the collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openClips()
			if err != nil {
				return err
			}
			clip, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			target, err := share.ExportClip(clip.Path, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Copied %s to %s\n", clip.Name, target)
			return nil
		},
	}
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
