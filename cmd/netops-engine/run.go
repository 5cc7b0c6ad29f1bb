package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-netops/internal/models"
)

func newRunCommand(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "run [device-id...]",
		Short: "run the pipeline once for the named devices, or for every device",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			shutdownTracing, err := setupTracing(st.cfg.Tracing)
			if err != nil {
				return err
			}
			defer shutdownTracing(context.Background())

			app, err := buildApp(ctx, st.cfg, st.logger)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			var runs []models.PipelineRun
			if len(args) == 0 {
				runs = app.scheduler.RunAll(ctx)
			} else {
				for _, id := range args {
					run, err := app.scheduler.RunDevice(ctx, id)
					if err != nil {
						st.logger.Error("run failed to start", slog.String("device_id", id), slog.Any("error", err))
						return err
					}
					runs = append(runs, run)
				}
			}

			if err := printJSON(cmd.OutOrStdout(), runs); err != nil {
				return err
			}
			failed := 0
			for _, run := range runs {
				if run.Status == models.RunFailed {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, len(runs))
			}
			return nil
		},
	}
}
