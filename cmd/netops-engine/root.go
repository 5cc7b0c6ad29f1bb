package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

// cliState is filled by the root command before any subcommand runs.
type cliState struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCommand() *cobra.Command {
	st := &cliState{}

	cmd := &cobra.Command{
		Use:           "netops-engine",
		Short:         "network operations pipeline",
		Long:          `netops-engine polls network devices, detects problems, correlates them into incidents and governs the resulting alerts.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(st.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			st.cfg = cfg
			st.logger, err = utils.NewLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.JSON)
			if err != nil {
				return fmt.Errorf("logging: %w", err)
			}
			slog.SetDefault(st.logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&st.configPath, "config", "", "path to configuration file (or MIRADOR_NETOPS_CONFIG)")

	cmd.AddCommand(
		newServeCommand(st),
		newRunCommand(st),
		newAlertsCommand(st),
		newIncidentsCommand(st),
		newHealthCommand(st),
	)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
