package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"edicola/internal/naming"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fetch <publication> <YYYYMMDD>",
		Short: "Re-download a delivered issue from the channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/workflows/%s/%s/document",
				url.PathEscape(args[0]), url.PathEscape(args[1]))
			data, err := ctx.download(path)
			if err != nil {
				return err
			}

			target := output
			if target == "" {
				target = naming.FileName(args[0], args[1])
			}
			if err := os.WriteFile(target, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", target, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d bytes)\n", target, len(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path")
	return cmd
}
