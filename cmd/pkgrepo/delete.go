package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	var plugin string

	cmd := &cobra.Command{
		Use:     "delete NAME",
		Short:   "Delete a package repository",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePlugin(plugin)
			if err != nil {
				return err
			}

			app := opts.app
			err = app.observe("delete", func() error {
				return app.service.Delete(cmd.Context(), app.reference(args[0], p))
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "package repository %q deleted\n", args[0])
			return err
		},
	}

	pluginFlag(cmd.Flags(), &plugin)
	return cmd
}
