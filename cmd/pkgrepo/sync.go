package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cropalato/pkgrepo/internal/config"
	"github.com/cropalato/pkgrepo/internal/repository"
	customerrors "github.com/cropalato/pkgrepo/pkg/errors"
)

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var plugin string
	var watch bool

	cmd := &cobra.Command{
		Use:   "sync [NAME]",
		Short: "Download and filter the indexes of the helm repositories",
		Long: `Download the index of every helm repository, or of NAME only, and drop
the charts rejected by the repository filter. With --watch the indexes are
refreshed every refresh_rate and metrics are served until interrupted.

Only available with the local backend.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := opts.app
			if err := requireLocal(app); err != nil {
				return err
			}
			ctx := cmd.Context()

			if watch {
				return app.Run(ctx)
			}

			if len(args) == 1 {
				p, err := parsePlugin(plugin)
				if err != nil {
					return err
				}
				var info repository.RepoInfo
				err = app.observe("sync", func() error {
					info, err = app.repo.SyncRepository(ctx, app.reference(args[0], p))
					return err
				})
				if err != nil {
					return err
				}
				return writeRepoInfo(cmd.OutOrStdout(), []repository.RepoInfo{info})
			}

			var result *repository.SyncResult
			err := app.observe("sync", func() error {
				var err error
				result, err = app.repo.SyncRepositories(ctx)
				return err
			})
			if err != nil {
				return err
			}
			return writeSyncResult(cmd.OutOrStdout(), result)
		},
	}

	pluginFlag(cmd.Flags(), &plugin)
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep synchronizing and serve metrics")
	cmd.Flags().Duration("refresh-rate", 0, "Period between two synchronizations with --watch")
	cmd.Flags().String("metrics-address", "", "Listen address of the metrics server with --watch")
	_ = opts.viper.BindPFlag("refresh_rate", cmd.Flags().Lookup("refresh-rate"))
	_ = opts.viper.BindPFlag("metrics.address", cmd.Flags().Lookup("metrics-address"))

	cmd.AddCommand(newStatusCmd(opts), newChartsCmd(opts))
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cached index of every helm repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := opts.app
			if err := requireLocal(app); err != nil {
				return err
			}
			infos, err := app.repo.GetRepositoryInfo(cmd.Context())
			if err != nil {
				return err
			}
			return writeRepoInfo(cmd.OutOrStdout(), infos)
		},
	}
}

func newChartsCmd(opts *rootOptions) *cobra.Command {
	var plugin string

	cmd := &cobra.Command{
		Use:   "charts NAME",
		Short: "List the charts kept in the cached index of a helm repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := opts.app
			if err := requireLocal(app); err != nil {
				return err
			}
			p, err := parsePlugin(plugin)
			if err != nil {
				return err
			}
			charts, err := app.repo.Charts(cmd.Context(), app.reference(args[0], p))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			if _, err := fmt.Fprintln(tw, "CHART\tLATEST\tVERSIONS"); err != nil {
				return err
			}
			for _, c := range charts {
				if _, err := fmt.Fprintf(tw, "%s\t%s\t%d\n", c.Name, c.LatestVersion, c.Versions); err != nil {
					return err
				}
			}
			return tw.Flush()
		},
	}

	pluginFlag(cmd.Flags(), &plugin)
	return cmd
}

func requireLocal(app *Application) error {
	if app.repo == nil {
		return customerrors.NewConfigError("backend", app.config.Backend,
			fmt.Errorf("only available with the %q backend", config.BackendLocal))
	}
	return nil
}

func writeRepoInfo(w io.Writer, infos []repository.RepoInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "NAME\tCHARTS\tFILTERED\tLATEST\tSYNCED"); err != nil {
		return err
	}
	for _, info := range infos {
		synced := "never"
		if info.HasIndexFile && !info.LastSynced.IsZero() {
			synced = info.LastSynced.Format("2006-01-02 15:04:05")
		}
		if _, err := fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
			info.Name, info.ChartCount, info.FilteredOut, info.LatestVersion, synced); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func writeSyncResult(w io.Writer, result *repository.SyncResult) error {
	for _, name := range result.Successful {
		if _, err := fmt.Fprintf(w, "synchronized %s\n", name); err != nil {
			return err
		}
	}
	for _, name := range result.Skipped {
		if _, err := fmt.Fprintf(w, "skipped %s\n", name); err != nil {
			return err
		}
	}

	failed := make([]string, 0, len(result.Failed))
	for name := range result.Failed {
		failed = append(failed, name)
	}
	sort.Strings(failed)
	for _, name := range failed {
		if _, err := fmt.Fprintf(w, "failed %s: %s\n", name, result.Failed[name]); err != nil {
			return err
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d repositories failed to synchronize",
			len(failed), len(failed)+len(result.Successful))
	}
	return nil
}
