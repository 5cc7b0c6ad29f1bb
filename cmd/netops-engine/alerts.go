package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/miradorstack/mirador-netops/internal/api"
	"github.com/miradorstack/mirador-netops/internal/models"
)

// remote holds the shared operator client flags.
type remote struct {
	st     *cliState
	server string
	actor  string
}

func (r *remote) bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&r.server, "server", "", "operator API address (defaults to server.address)")
	cmd.PersistentFlags().StringVar(&r.actor, "actor", "cli", "actor recorded in alert history")
}

// call dials the operator API, performs one unary call and closes the connection.
func (r *remote) call(cmd *cobra.Command, method string, req, resp any) error {
	addr := r.server
	if addr == "" {
		addr = r.st.cfg.Server.Address
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	return api.NewOperatorClient(conn).Call(cmd.Context(), method, req, resp)
}

func newAlertsCommand(st *cliState) *cobra.Command {
	r := &remote{st: st}
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "inspect and act on alerts through the operator API",
	}
	r.bind(cmd)
	cmd.AddCommand(
		newAlertsListCommand(r),
		newAlertsAckCommand(r),
		newAlertActionCommand(r, "resolve", "resolve an alert", api.MethodResolveAlert),
		newAlertActionCommand(r, "suppress", "suppress an alert", api.MethodSuppressAlert),
		newAlertsEscalateCommand(r),
		newAlertsHistoryCommand(r),
	)
	return cmd
}

func newAlertsListCommand(r *remote) *cobra.Command {
	var req api.ListAlertsRequest
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.AlertsResponse
			if err := r.call(cmd, api.MethodListAlerts, req, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp.Alerts)
		},
	}
	cmd.Flags().StringSliceVar(&req.Statuses, "status", nil, "filter by status (repeatable)")
	cmd.Flags().StringVar(&req.DeviceID, "device", "", "filter by device id")
	cmd.Flags().StringVar(&req.Severity, "severity", "", "filter by severity")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "maximum alerts to return")
	return cmd
}

func newAlertsAckCommand(r *remote) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "ack <alert-id>...",
		Short: "acknowledge one or more alerts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.AckAlertsRequest{IDs: args, Actor: r.actor, Note: note}
			var resp api.AlertsResponse
			if err := r.call(cmd, api.MethodAcknowledgeAlerts, req, &resp); err != nil {
				return err
			}
			if len(resp.Alerts) < len(args) {
				fmt.Fprintf(cmd.ErrOrStderr(), "acknowledged %d of %d alerts\n", len(resp.Alerts), len(args))
			}
			return printJSON(cmd.OutOrStdout(), resp.Alerts)
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note recorded in alert history")
	return cmd
}

func newAlertActionCommand(r *remote, use, short, method string) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   use + " <alert-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.AlertActionRequest{ID: args[0], Actor: r.actor, Note: note}
			var alert models.Alert
			if err := r.call(cmd, method, req, &alert); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), alert)
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note recorded in alert history")
	return cmd
}

func newAlertsEscalateCommand(r *remote) *cobra.Command {
	var (
		note  string
		level int
	)
	cmd := &cobra.Command{
		Use:   "escalate <alert-id>",
		Short: "escalate an alert to a support level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.AlertActionRequest{ID: args[0], Actor: r.actor, Note: note, Level: level}
			var alert models.Alert
			if err := r.call(cmd, api.MethodEscalateAlert, req, &alert); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), alert)
		},
	}
	cmd.Flags().IntVar(&level, "level", 2, "target escalation level (2-4)")
	cmd.Flags().StringVar(&note, "note", "", "note recorded in alert history")
	return cmd
}

func newAlertsHistoryCommand(r *remote) *cobra.Command {
	return &cobra.Command{
		Use:   "history <alert-id>",
		Short: "show the history of an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.AlertHistoryResponse
			if err := r.call(cmd, api.MethodAlertHistory, api.GetRequest{ID: args[0]}, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp.Events)
		},
	}
}
