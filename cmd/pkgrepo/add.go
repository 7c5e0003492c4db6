package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cropalato/pkgrepo/internal/form"
	"github.com/cropalato/pkgrepo/internal/repository"
)

func newAddCmd(opts *rootOptions) *cobra.Command {
	var plugin string
	var fields *formFlags

	cmd := &cobra.Command{
		Use:   "add NAME URL",
		Short: "Add a package repository",
		Example: `  pkgrepo add bitnami https://charts.bitnami.com/bitnami --filter "nginx, redis"
  pkgrepo add private charts.example.com --auth basic --username me --password secret
  pkgrepo add tce projects.registry.vmware.com/tce/main:0.12.0 -p kapp`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePlugin(plugin)
			if err != nil {
				return err
			}
			edit, err := fields.editor(cmd.Flags())
			if err != nil {
				return err
			}

			app := opts.app
			f := newForm(cmd.Context(), app)
			f.Set(func(ff *repository.FormFields) {
				ff.Name = args[0]
				ff.URL = args[1]
				ff.Context = app.context
				ff.SelectPlugin(p)
				edit(ff)
			})

			if err := submit(cmd.Context(), app, f); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "package repository %q added\n", args[0])
			return err
		},
	}

	pluginFlag(cmd.Flags(), &plugin)
	fields = addFormFlags(cmd.Flags(), false)
	return cmd
}

func newEditCmd(opts *rootOptions) *cobra.Command {
	var plugin string
	var fields *formFlags

	cmd := &cobra.Command{
		Use:   "edit NAME",
		Short: "Change a package repository",
		Long: `Change a package repository. The stored configuration is loaded first and
only the flags given on the command line are changed.`,
		Example: `  pkgrepo edit bitnami --filter "^nginx" --filter-regex
  pkgrepo edit bitnami --filter ""`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePlugin(plugin)
			if err != nil {
				return err
			}
			edit, err := fields.editor(cmd.Flags())
			if err != nil {
				return err
			}

			app := opts.app
			ctx := cmd.Context()
			f := newForm(ctx, app, form.WithReference(app.reference(args[0], p)))
			if err := app.observe("fetch", func() error { return f.Load(ctx) }); err != nil {
				return err
			}
			f.Set(edit)

			if err := submit(ctx, app, f); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "package repository %q updated\n", args[0])
			return err
		},
	}

	pluginFlag(cmd.Flags(), &plugin)
	fields = addFormFlags(cmd.Flags(), true)
	return cmd
}

// newForm creates a form reporting to the application metrics
func newForm(ctx context.Context, app *Application, opts ...form.Option) *form.Form {
	var f *form.Form
	opts = append(opts,
		form.WithRecorder(app.metrics),
		form.WithAfterInstall(func() {
			app.afterInstall(ctx, repository.BuildConfig(f.Fields()))
		}),
	)
	f = form.New(app.service, app.logger, opts...)
	return f
}

func submit(ctx context.Context, app *Application, f *form.Form) error {
	op := form.OperationCreate
	if f.Editing() {
		op = form.OperationUpdate
	}

	var outcome form.Outcome
	err := app.observe(op, func() error {
		var err error
		outcome, err = f.Submit(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if outcome == form.Dropped {
		return fmt.Errorf("another submission is in progress")
	}
	return nil
}
