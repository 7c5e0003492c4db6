package main

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/cropalato/pkgrepo/internal/repository"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	outputTable = "table"
	outputJSON  = "json"
)

func newGetCmd(opts *rootOptions) *cobra.Command {
	var plugin string

	cmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Print the configuration of a package repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePlugin(plugin)
			if err != nil {
				return err
			}

			app := opts.app
			var cfg repository.Config
			err = app.observe("fetch", func() error {
				var err error
				cfg, err = app.service.Get(cmd.Context(), app.reference(args[0], p))
				return err
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), cfg)
		},
	}

	pluginFlag(cmd.Flags(), &plugin)
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
