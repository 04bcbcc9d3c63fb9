package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var apiURLFlag string
	var apiTokenFlag string
	var configFlag string

	ctx := newCommandContext(&apiURLFlag, &apiTokenFlag, &configFlag)

	rootCmd := &cobra.Command{
		Use:           "edicola",
		Short:         "Manage the edicola publication pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&apiURLFlag, "api-url", "", "Base URL of the edicolad admin API")
	rootCmd.PersistentFlags().StringVar(&apiTokenFlag, "api-token", "", "Bearer token for the admin API")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newPublicationsCommand(ctx))
	rootCmd.AddCommand(newIssuesCommand(ctx))
	rootCmd.AddCommand(newScanCommand(ctx))
	rootCmd.AddCommand(newFetchCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
