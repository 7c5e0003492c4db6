// Package config loads the pkgrepo configuration from file, environment and flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	customerrors "github.com/cropalato/pkgrepo/pkg/errors"
)

// Backends
const (
	BackendLocal = "local"
	BackendGRPC  = "grpc"
)

// EnvPrefix prefixes every environment variable, e.g. PKGREPO_GRPC_ADDRESS
const EnvPrefix = "PKGREPO"

type Config struct {
	Backend      string        `mapstructure:"backend"`
	GRPC         GRPCConfig    `mapstructure:"grpc"`
	Cluster      string        `mapstructure:"cluster"`
	Namespace    string        `mapstructure:"namespace"`
	Kubeconfig   string        `mapstructure:"kubeconfig"`
	KubeContext  string        `mapstructure:"kube_context"`
	Helm         HelmConfig    `mapstructure:"helm"`
	DatabasePath string        `mapstructure:"database_path"`
	Metrics      MetricsConfig `mapstructure:"metrics"`
	RefreshRate  time.Duration `mapstructure:"refresh_rate"`
	Log          LogConfig     `mapstructure:"log"`
}

type GRPCConfig struct {
	Address  string        `mapstructure:"address"`
	Insecure bool          `mapstructure:"insecure"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// HelmConfig overrides the helm paths; empty values keep helm's defaults
type HelmConfig struct {
	RepositoryConfig string `mapstructure:"repository_config"`
	RepositoryCache  string `mapstructure:"repository_cache"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendLocal)
	v.SetDefault("grpc.address", "")
	v.SetDefault("grpc.insecure", false)
	v.SetDefault("grpc.token", "")
	v.SetDefault("grpc.timeout", 30*time.Second)
	v.SetDefault("cluster", "")
	v.SetDefault("namespace", "")
	v.SetDefault("kubeconfig", "")
	v.SetDefault("kube_context", "")
	v.SetDefault("helm.repository_config", "")
	v.SetDefault("helm.repository_cache", "")
	v.SetDefault("database_path", defaultDatabasePath())
	v.SetDefault("metrics.address", ":2112")
	v.SetDefault("refresh_rate", 5*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
}

// Load reads the configuration. An explicit configFile must exist; otherwise
// config.yaml is looked up in /etc/pkgrepo, $HOME/.pkgrepo and the working
// directory, and its absence is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/pkgrepo/")
		v.AddConfigPath("$HOME/.pkgrepo")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, customerrors.NewConfigError("config_file", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that cannot be defaulted
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLocal:
	case BackendGRPC:
		if c.GRPC.Address == "" {
			return customerrors.NewConfigError("grpc.address", c.GRPC.Address,
				customerrors.New("required by the grpc backend"))
		}
	default:
		return customerrors.NewConfigError("backend", c.Backend,
			fmt.Errorf("must be %q or %q", BackendLocal, BackendGRPC))
	}

	if c.RefreshRate <= 0 {
		return customerrors.NewConfigError("refresh_rate", c.RefreshRate, customerrors.New("must be positive"))
	}
	if c.DatabasePath == "" && c.Backend == BackendLocal {
		return customerrors.NewConfigError("database_path", c.DatabasePath, customerrors.New("required by the local backend"))
	}
	return nil
}

func defaultDatabasePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "pkgrepo.db"
	}
	return filepath.Join(dir, "pkgrepo", "pkgrepo.db")
}
