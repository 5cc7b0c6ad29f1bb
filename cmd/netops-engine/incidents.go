package main

import (
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-netops/internal/api"
	"github.com/miradorstack/mirador-netops/internal/models"
)

func newIncidentsCommand(st *cliState) *cobra.Command {
	r := &remote{st: st}
	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "inspect correlated incidents through the operator API",
	}
	r.bind(cmd)

	var req api.ListIncidentsRequest
	list := &cobra.Command{
		Use:   "list",
		Short: "list incidents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.IncidentsResponse
			if err := r.call(cmd, api.MethodListIncidents, req, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp.Incidents)
		},
	}
	list.Flags().StringVar(&req.Status, "status", "", "open or closed (default all)")
	list.Flags().IntVar(&req.Limit, "limit", 0, "maximum closed incidents to return")

	get := &cobra.Command{
		Use:   "get <incident-id>",
		Short: "show one incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var inc models.Incident
			if err := r.call(cmd, api.MethodGetIncident, api.GetRequest{ID: args[0]}, &inc); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), inc)
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}
