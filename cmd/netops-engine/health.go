package main

import (
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-netops/internal/api"
)

func newHealthCommand(st *cliState) *cobra.Command {
	r := &remote{st: st}
	cmd := &cobra.Command{
		Use:   "health",
		Short: "show service readiness and fleet health through the operator API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.HealthResponse
			if err := r.call(cmd, api.MethodHealth, nil, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	r.bind(cmd)

	var req api.GroupHealthRequest
	groups := &cobra.Command{
		Use:   "groups",
		Short: "aggregate the latest device health scores by tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.GroupHealthResponse
			if err := r.call(cmd, api.MethodGroupHealth, req, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp.Groups)
		},
	}
	groups.Flags().StringVar(&req.Tag, "tag", "", "aggregate only devices carrying this tag")

	cmd.AddCommand(groups)
	return cmd
}
