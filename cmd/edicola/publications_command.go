package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"edicola/internal/api"
)

func newPublicationsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "publications",
		Aliases: []string{"pub", "pubs"},
		Short:   "Manage the configured publications",
	}

	cmd.AddCommand(newPublicationsListCommand(ctx))
	cmd.AddCommand(newPublicationsAddCommand(ctx))
	cmd.AddCommand(newPublicationsUpdateCommand(ctx))
	cmd.AddCommand(newPublicationsRemoveCommand(ctx))
	return cmd
}

func newPublicationsListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all publications",
		RunE: func(cmd *cobra.Command, args []string) error {
			var pubs []api.PublicationView
			if err := ctx.getJSON("/api/publications", &pubs); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, pubs)
			}

			rows := make([][]string, 0, len(pubs))
			for _, pub := range pubs {
				enabled := "no"
				if pub.Enabled {
					enabled = "yes"
				}
				rows = append(rows, []string{
					pub.Name,
					pub.IssueID,
					fmt.Sprint(pub.MaxScale),
					pub.Language,
					enabled,
					pub.LastFinished,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Name", "Issue ID", "Max Scale", "Language", "Enabled", "Last Finished"}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newPublicationsAddCommand(ctx *commandContext) *cobra.Command {
	var view api.PublicationView

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a new publication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view.Name = args[0]
			var created api.PublicationView
			if err := ctx.doJSON(http.MethodPost, "/api/publications", view, &created); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added publication %s\n", created.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&view.IssueID, "issue-id", "", "Upstream catalog identifier (required)")
	cmd.Flags().IntVar(&view.MaxScale, "max-scale", 100, "Starting page scale")
	cmd.Flags().StringVar(&view.Language, "language", "ita", "OCR language")
	cmd.Flags().BoolVar(&view.Enabled, "enabled", true, "Include in scheduled discovery")
	cmd.Flags().StringVar(&view.DisplayName, "display-name", "", "Name used in captions")
	_ = cmd.MarkFlagRequired("issue-id")
	return cmd
}

func newPublicationsUpdateCommand(ctx *commandContext) *cobra.Command {
	var view api.PublicationView

	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Update an existing publication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			var current api.PublicationView
			if err := ctx.getJSON("/api/publications/"+url.PathEscape(name), &current); err != nil {
				return err
			}
			if !cmd.Flags().Changed("issue-id") {
				view.IssueID = current.IssueID
			}
			if !cmd.Flags().Changed("max-scale") {
				view.MaxScale = current.MaxScale
			}
			if !cmd.Flags().Changed("language") {
				view.Language = current.Language
			}
			if !cmd.Flags().Changed("enabled") {
				view.Enabled = current.Enabled
			}
			if !cmd.Flags().Changed("display-name") {
				view.DisplayName = current.DisplayName
			}

			var updated api.PublicationView
			if err := ctx.doJSON(http.MethodPut, "/api/publications/"+url.PathEscape(name), view, &updated); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated publication %s\n", updated.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&view.IssueID, "issue-id", "", "Upstream catalog identifier")
	cmd.Flags().IntVar(&view.MaxScale, "max-scale", 100, "Starting page scale")
	cmd.Flags().StringVar(&view.Language, "language", "", "OCR language")
	cmd.Flags().BoolVar(&view.Enabled, "enabled", true, "Include in scheduled discovery")
	cmd.Flags().StringVar(&view.DisplayName, "display-name", "", "Name used in captions")
	return cmd
}

func newPublicationsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a publication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.doJSON(http.MethodDelete, "/api/publications/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed publication %s\n", args[0])
			return nil
		},
	}
}
