package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"lipstalk/internal/services"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printError reports a command failure and, for pipeline failures, the next
// step the user can take. Interrupts print nothing.
func printError(w io.Writer, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	if hint := services.ReasonFor(err).Hint(); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
}

// exitCode is 130 for an interrupted command, like a shell reports SIGINT.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}
