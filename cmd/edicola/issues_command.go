package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"edicola/internal/api"
)

func newIssuesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issues",
		Short: "Inspect and register issue records",
	}

	cmd.AddCommand(newIssuesListCommand(ctx))
	cmd.AddCommand(newIssuesRegisterCommand(ctx))
	return cmd
}

func newIssuesListCommand(ctx *commandContext) *cobra.Command {
	var search string
	var limit, offset int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issue records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if search != "" {
				query.Set("search", search)
			}
			query.Set("limit", fmt.Sprint(limit))
			query.Set("offset", fmt.Sprint(offset))

			var page api.WorkflowPage
			if err := ctx.getJSON("/api/workflows?"+query.Encode(), &page); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, page)
			}

			rows := make([][]string, 0, len(page.Records))
			for _, record := range page.Records {
				rows = append(rows, []string{
					record.PublicationName,
					record.IssueDate,
					record.Stage,
					record.UpdatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Publication", "Issue Date", "Stage", "Updated"}, rows))
			fmt.Fprintf(cmd.OutOrStdout(), "showing %d of %d records\n", len(page.Records), page.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Filter by publication name")
	cmd.Flags().IntVar(&limit, "limit", 25, "Maximum records to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Records to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newIssuesRegisterCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "register <publication> <YYYYMMDD>",
		Short: "Queue a specific back issue for download",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]string{
				"publication_name": args[0],
				"issue_date":       args[1],
			}
			var view api.WorkflowView
			if err := ctx.doJSON(http.MethodPost, "/api/workflows", payload, &view); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "issue %s/%s is %s\n", view.PublicationName, view.IssueDate, view.Stage)
			return nil
		},
	}
}
