package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cropalato/pkgrepo/internal/config"
)

type rootOptions struct {
	configFile string
	debug      bool
	viper      *viper.Viper
	app        *Application
}

func (o *rootOptions) cleanup() {
	if o.app != nil {
		o.app.Cleanup()
		o.app = nil
	}
}

// flagKeys maps the persistent flags to their configuration keys
var flagKeys = map[string]string{
	"backend":           "backend",
	"cluster":           "cluster",
	"namespace":         "namespace",
	"kubeconfig":        "kubeconfig",
	"kube-context":      "kube_context",
	"server":            "grpc.address",
	"insecure":          "grpc.insecure",
	"token":             "grpc.token",
	"timeout":           "grpc.timeout",
	"repository-config": "helm.repository_config",
	"repository-cache":  "helm.repository_cache",
	"database-path":     "database_path",
	"log-level":         "log.level",
	"log-file":          "log.file",
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	opts.viper = viper.New()

	cmd := &cobra.Command{
		Use:   "pkgrepo",
		Short: "Manage package repositories",
		Long: `pkgrepo creates, edits and lists package repositories for the helm,
flux and kapp-controller packaging plugins.

Repositories are managed either locally, where helm repositories are
registered in helm's repositories.yaml and their indexes are filtered on
sync, or through a remote packages API server over gRPC.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.initApp(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default is $HOME/.pkgrepo/config.yaml)")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flags.String("backend", "", `Repository backend, "local" or "grpc"`)
	flags.String("cluster", "", "Cluster of the repositories (default from kubeconfig)")
	flags.StringP("namespace", "n", "", "Namespace of the repositories (default from kubeconfig)")
	flags.String("kubeconfig", "", "Path to kubeconfig file")
	flags.String("kube-context", "", "Kubernetes context to use")
	flags.String("server", "", "Address of the packages API server")
	flags.Bool("insecure", false, "Connect to the API server without TLS")
	flags.String("token", "", "Bearer token sent to the API server")
	flags.Duration("timeout", 0, "Timeout of each API call")
	flags.String("repository-config", "", "Path to helm's repositories.yaml")
	flags.String("repository-cache", "", "Path to helm's repository cache directory")
	flags.String("database-path", "", "Path to the local repository database")
	flags.String("log-level", "", "Log level")
	flags.String("log-file", "", "Also write logs to this rotated file")

	if err := bindFlags(opts.viper, flags); err != nil {
		panic(err)
	}

	cmd.AddCommand(
		newAddCmd(opts),
		newEditCmd(opts),
		newGetCmd(opts),
		newListCmd(opts),
		newDeleteCmd(opts),
		newSyncCmd(opts),
		newFilterCmd(),
		newVersionCmd(),
	)

	return cmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

func (o *rootOptions) initApp(cmd *cobra.Command) error {
	cfg, err := config.Load(o.viper, o.configFile)
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg, o.debug, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	o.app = app
	return nil
}

// skipApp replaces the root hook for commands that need no repository backend
func skipApp(*cobra.Command, []string) error {
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print the version",
		Args:              cobra.NoArgs,
		PersistentPreRunE: skipApp,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
