package repository

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"helm.sh/helm/v3/pkg/cli"
	"helm.sh/helm/v3/pkg/getter"

	"github.com/cropalato/pkgrepo/internal/filter"
)

// DefaultInterval is the sync interval, in seconds, of a new repository
const DefaultInterval uint32 = 3600

// StorageType is the packaging format a plugin expects from a repository
type StorageType string

const (
	StorageHelm               StorageType = "helm"
	StorageOCI                StorageType = "oci"
	StorageCarvelInline       StorageType = "inline"
	StorageCarvelImage        StorageType = "image"
	StorageCarvelImgpkgBundle StorageType = "imgpkgBundle"
	StorageCarvelHTTP         StorageType = "http"
	StorageCarvelGit          StorageType = "git"
)

// StorageTypes lists every known storage type
var StorageTypes = []StorageType{
	StorageHelm,
	StorageOCI,
	StorageCarvelInline,
	StorageCarvelImage,
	StorageCarvelImgpkgBundle,
	StorageCarvelHTTP,
	StorageCarvelGit,
}

// Valid reports whether the storage type is known
func (s StorageType) Valid() bool {
	for _, t := range StorageTypes {
		if s == t {
			return true
		}
	}
	return false
}

// Carvel reports whether the storage type belongs to the kapp-controller family
func (s StorageType) Carvel() bool {
	return s.Valid() && s != StorageHelm && s != StorageOCI
}

// Plugin names as registered by the packages API server
const (
	PluginHelm = "helm.packages"
	PluginFlux = "fluxv2.packages"
	PluginKapp = "kapp_controller.packages"
)

// Plugin identifies the backend handling a repository
type Plugin struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

var plugins = map[string]Plugin{
	PluginHelm: {Name: PluginHelm, Version: "v1alpha1"},
	PluginFlux: {Name: PluginFlux, Version: "v1alpha1"},
	PluginKapp: {Name: PluginKapp, Version: "v1alpha1"},
}

// PluginByName returns the plugin registered under name. The short names
// helm, flux and kapp are accepted too.
func PluginByName(name string) (Plugin, bool) {
	switch strings.ToLower(name) {
	case "helm":
		name = PluginHelm
	case "flux", "fluxv2":
		name = PluginFlux
	case "kapp", "carvel", "kapp_controller":
		name = PluginKapp
	}
	p, ok := plugins[name]
	return p, ok
}

// AuthType is the credential scheme used to reach a repository
type AuthType int

const (
	AuthNone AuthType = iota
	AuthBasic
	AuthBearer
	AuthDockerConfigJSON
	AuthHeader
)

var authTypeNames = map[AuthType]string{
	AuthNone:             "PACKAGE_REPOSITORY_AUTH_TYPE_UNSPECIFIED",
	AuthBasic:            "PACKAGE_REPOSITORY_AUTH_TYPE_BASIC_AUTH",
	AuthBearer:           "PACKAGE_REPOSITORY_AUTH_TYPE_BEARER",
	AuthDockerConfigJSON: "PACKAGE_REPOSITORY_AUTH_TYPE_DOCKER_CONFIG_JSON",
	AuthHeader:           "PACKAGE_REPOSITORY_AUTH_TYPE_AUTHORIZATION_HEADER",
}

func (a AuthType) String() string {
	if name, ok := authTypeNames[a]; ok {
		return name
	}
	return fmt.Sprintf("AuthType(%d)", int(a))
}

// ParseAuthType accepts the wire names as well as none, basic, bearer, docker and header.
func ParseAuthType(s string) (AuthType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return AuthNone, nil
	case "basic":
		return AuthBasic, nil
	case "bearer":
		return AuthBearer, nil
	case "docker", "dockerconfigjson":
		return AuthDockerConfigJSON, nil
	case "header", "custom":
		return AuthHeader, nil
	}
	for t, name := range authTypeNames {
		if name == s {
			return t, nil
		}
	}
	return AuthNone, fmt.Errorf("unknown auth type %q", s)
}

// MarshalText encodes the auth type with its wire name
func (a AuthType) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a wire name
func (a *AuthType) UnmarshalText(text []byte) error {
	t, err := ParseAuthType(string(text))
	if err != nil {
		return err
	}
	*a = t
	return nil
}

// Context locates a repository
type Context struct {
	Cluster   string `json:"cluster"`
	Namespace string `json:"namespace"`
}

// Reference identifies a repository
type Reference struct {
	Identifier string  `json:"identifier"`
	Context    Context `json:"context"`
	Plugin     Plugin  `json:"plugin"`
}

type UsernamePassword struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type DockerCredentials struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

// Auth carries every credential shape; only the one matching Type is consulted.
type Auth struct {
	Type             AuthType          `json:"type"`
	Header           string            `json:"header"`
	PassCredentials  bool              `json:"passCredentials"`
	UsernamePassword UsernamePassword  `json:"usernamePassword"`
	DockerCreds      DockerCredentials `json:"dockerCreds"`
	SecretRef        string            `json:"secretRef,omitempty"`
}

type TLSConfig struct {
	InsecureSkipVerify bool   `json:"insecureSkipVerify"`
	CertAuthority      string `json:"certAuthority,omitempty"`
	SecretRef          string `json:"secretRef,omitempty"`
}

// CustomDetail is the storage specific part of a repository
type CustomDetail struct {
	OCIRepositories       []string     `json:"ociRepositories"`
	FilterRule            *filter.Rule `json:"filterRule,omitempty"`
	PerformValidation     bool         `json:"performValidation"`
	DockerRegistrySecrets []string     `json:"dockerRegistrySecrets"`
}

// Config is the full description of a package repository
type Config struct {
	Name            string       `json:"name"`
	Context         Context      `json:"context"`
	Plugin          Plugin       `json:"plugin"`
	NamespaceScoped bool         `json:"namespaceScoped"`
	Type            StorageType  `json:"type"`
	URL             string       `json:"url"`
	Description     string       `json:"description,omitempty"`
	Interval        uint32       `json:"interval"`
	TLS             TLSConfig    `json:"tlsConfig"`
	Auth            Auth         `json:"auth"`
	CustomDetail    CustomDetail `json:"customDetail"`
}

// Reference returns the reference of the repository
func (c Config) Reference() Reference {
	return Reference{
		Identifier: c.Name,
		Context:    c.Context,
		Plugin:     c.Plugin,
	}
}

// HelmIndexed reports whether helm itself can consume the repository index
func (c Config) HelmIndexed() bool {
	return c.Type == StorageHelm && c.Plugin.Name != PluginKapp
}

// Summary is the listing view of a repository
type Summary struct {
	Reference       Reference   `json:"packageRepoRef"`
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	NamespaceScoped bool        `json:"namespaceScoped"`
	Type            StorageType `json:"type"`
	URL             string      `json:"url"`
	RequiresAuth    bool        `json:"requiresAuth"`
}

// SummaryOf builds the listing view of a config
func SummaryOf(c Config) Summary {
	return Summary{
		Reference:       c.Reference(),
		Name:            c.Name,
		Description:     c.Description,
		NamespaceScoped: c.NamespaceScoped,
		Type:            c.Type,
		URL:             c.URL,
		RequiresAuth:    c.Auth.Type != AuthNone || c.Auth.SecretRef != "",
	}
}

// Manager handles package repositories backed by the local Helm configuration
type Manager struct {
	settings *cli.EnvSettings
	store    Store
	logger   *zap.Logger
	getters  getter.Providers
	recorder SyncRecorder

	// guards read-modify-write cycles on the repositories file
	mu sync.Mutex
}

// RepoInfo contains information about a synchronized Helm repository
type RepoInfo struct {
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	LastSynced    time.Time `json:"last_synced"`
	ChartCount    int       `json:"chart_count"`
	FilteredOut   int       `json:"filtered_out"`
	CacheFile     string    `json:"cache_file"`
	HasIndexFile  bool      `json:"has_index_file"`
	LatestVersion string    `json:"latest_version,omitempty"`
}

// ChartInfo describes a chart available in a synchronized repository
type ChartInfo struct {
	Name          string `json:"name"`
	LatestVersion string `json:"latest_version"`
	Versions      int    `json:"versions"`
}

// SyncResult contains the result of a repository sync operation
type SyncResult struct {
	Successful []string          `json:"successful"`
	Skipped    []string          `json:"skipped"`
	Failed     map[string]string `json:"failed"`
}
