package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"edicola/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and pipeline counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var health api.HealthView
			if err := ctx.getJSON("/api/health", &health); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, health)
			}

			state := "stopped"
			if health.Running {
				state = "running"
			}
			rows := [][]string{
				{"daemon", state},
				{"database", health.DatabasePath},
				{"issues total", fmt.Sprint(health.Total)},
				{"registered", fmt.Sprint(health.Registered)},
				{"downloaded", fmt.Sprint(health.Downloaded)},
				{"ocr processed", fmt.Sprint(health.OCRProcessed)},
				{"delivered", fmt.Sprint(health.Uploaded)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}
