package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cropalato/pkgrepo/internal/repository"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	var output string
	var allNamespaces bool

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List package repositories",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := opts.app
			rc := app.context
			if allNamespaces {
				rc.Namespace = ""
			}

			var summaries []repository.Summary
			err := app.observe("list", func() error {
				var err error
				summaries, err = app.service.List(cmd.Context(), rc)
				return err
			})
			if err != nil {
				return err
			}

			switch output {
			case outputJSON:
				return writeJSON(cmd.OutOrStdout(), summaries)
			case outputTable:
				return writeSummaries(cmd.OutOrStdout(), summaries)
			}
			return fmt.Errorf("unknown output format %q", output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format (table, json)")
	cmd.Flags().BoolVarP(&allNamespaces, "all-namespaces", "A", false, "List the repositories of every namespace")
	return cmd
}

func writeSummaries(w io.Writer, summaries []repository.Summary) error {
	if len(summaries) == 0 {
		_, err := fmt.Fprintln(w, "No package repositories found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "NAME\tNAMESPACE\tPLUGIN\tTYPE\tAUTH\tURL"); err != nil {
		return err
	}
	for _, s := range summaries {
		auth := "no"
		if s.RequiresAuth {
			auth = "yes"
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Name, s.Reference.Context.Namespace, s.Reference.Plugin.Name, s.Type, auth, s.URL); err != nil {
			return err
		}
	}
	return tw.Flush()
}
