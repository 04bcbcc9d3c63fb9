package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"edicola/internal/api"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run the discovery scan immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result api.ScanResult
			if err := ctx.doJSON(http.MethodPost, "/api/scan", nil, &result); err != nil {
				return err
			}
			if len(result.Created) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no new issues found")
				return nil
			}
			for _, record := range result.Created {
				fmt.Fprintf(cmd.OutOrStdout(), "registered %s/%s\n", record.PublicationName, record.IssueDate)
			}
			return nil
		},
	}
}
