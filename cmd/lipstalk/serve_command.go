package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"lipstalk/internal/logging"
	"lipstalk/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API for the UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if value := strings.TrimSpace(bind); value != "" {
				cfg.Paths.APIBind = value
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := ctx.openRuntime(runCtx, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.close()

			srv, err := server.New(cfg, server.Deps{
				Attempts:    rt.orchestrator,
				Transcripts: rt.transcripts,
				Clips:       rt.clips,
				Publisher:   rt.bus,
				Logger:      rt.logger,
				Health: func() map[string]any {
					return map[string]any{
						"transcripts_file": rt.transcripts.Path(),
						"clips_dir":        rt.clips.Dir(),
						"journal":          rt.journal.Path(),
						"bus_dropped":      rt.bus.Dropped(),
					}
				},
			})
			if err != nil {
				return err
			}
			if err := srv.Start(runCtx); err != nil {
				return err
			}
			defer srv.Stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s (Ctrl+C to stop)\n", srv.Addr())
			<-runCtx.Done()
			rt.logger.Info("shutting down", logging.String(logging.FieldEventType, "serve_shutdown"))
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (defaults to paths.api_bind)")
	return cmd
}
