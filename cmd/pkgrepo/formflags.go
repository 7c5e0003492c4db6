package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/cropalato/pkgrepo/internal/repository"
)

// formFlags are the repository form fields settable from the command line.
// Only the flags given explicitly are applied to the form.
type formFlags struct {
	url             string
	description     string
	storageType     string
	interval        uint32
	namespaceScoped bool

	auth            string
	authHeader      string
	bearerToken     string
	username        string
	password        string
	dockerServer    string
	dockerUsername  string
	dockerPassword  string
	dockerEmail     string
	authSecret      string
	tlsSecret       string
	passCredentials bool

	caFile  string
	skipTLS bool

	ociRepositories string
	registrySecrets string
	validate        bool
	filterNames     string
	filterRegex     bool
	filterExclude   bool
}

func addFormFlags(flags *pflag.FlagSet, withURL bool) *formFlags {
	o := &formFlags{}

	if withURL {
		flags.StringVar(&o.url, "url", "", "Repository URL")
	}
	flags.StringVar(&o.description, "description", "", "Repository description")
	flags.StringVar(&o.storageType, "type", "", "Storage type (helm, oci, inline, image, imgpkgBundle, http, git)")
	flags.Uint32Var(&o.interval, "interval", repository.DefaultInterval, "Synchronization interval in seconds")
	flags.BoolVar(&o.namespaceScoped, "namespace-scoped", false, "Make the repository visible to its namespace only")

	flags.StringVar(&o.auth, "auth", "none", "Auth method (none, basic, bearer, docker, header)")
	flags.StringVar(&o.authHeader, "auth-header", "", "Raw authorization header for --auth header")
	flags.StringVar(&o.bearerToken, "bearer-token", "", "Token for --auth bearer")
	flags.StringVar(&o.username, "username", "", "User for --auth basic")
	flags.StringVar(&o.password, "password", "", "Password for --auth basic")
	flags.StringVar(&o.dockerServer, "docker-server", "", "Registry server for --auth docker")
	flags.StringVar(&o.dockerUsername, "docker-username", "", "Registry user for --auth docker")
	flags.StringVar(&o.dockerPassword, "docker-password", "", "Registry password for --auth docker")
	flags.StringVar(&o.dockerEmail, "docker-email", "", "Registry email for --auth docker")
	flags.StringVar(&o.authSecret, "auth-secret", "", "Existing secret holding the credentials")
	flags.StringVar(&o.tlsSecret, "tls-secret", "", "Existing secret holding the CA certificate")
	flags.BoolVar(&o.passCredentials, "pass-credentials", false, "Pass the credentials to every domain")

	flags.StringVar(&o.caFile, "ca-file", "", "PEM file of the custom certificate authority")
	flags.BoolVar(&o.skipTLS, "insecure-skip-tls-verify", false, "Skip TLS verification of the repository")

	flags.StringVar(&o.ociRepositories, "oci-repositories", "", "Comma separated OCI repositories")
	flags.StringVar(&o.registrySecrets, "registry-secrets", "", "Comma separated docker registry secrets")
	flags.BoolVar(&o.validate, "validate", true, "Validate the repository before saving it")
	flags.StringVar(&o.filterNames, "filter", "", "Comma separated package names to keep")
	flags.BoolVar(&o.filterRegex, "filter-regex", false, "Treat the --filter names as regular expressions")
	flags.BoolVar(&o.filterExclude, "filter-exclude", false, "Drop the --filter packages instead of keeping them")

	return o
}

// editor parses the given flags and returns the edit they make to a form
func (o *formFlags) editor(flags *pflag.FlagSet) (func(*repository.FormFields), error) {
	authMethod, err := repository.ParseAuthType(o.auth)
	if err != nil {
		return nil, err
	}

	var ca string
	if flags.Changed("ca-file") && o.caFile != "" {
		data, err := os.ReadFile(o.caFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		ca = string(data)
	}

	return func(f *repository.FormFields) {
		overlay(flags, "url", &f.URL, o.url)
		overlay(flags, "description", &f.Description, o.description)
		overlay(flags, "type", &f.Type, repository.StorageType(o.storageType))
		overlay(flags, "interval", &f.Interval, o.interval)
		overlay(flags, "namespace-scoped", &f.NamespaceScoped, o.namespaceScoped)

		overlay(flags, "auth", &f.AuthMethod, authMethod)
		overlay(flags, "auth-header", &f.AuthCustomHeader, o.authHeader)
		overlay(flags, "bearer-token", &f.BearerToken, o.bearerToken)
		overlay(flags, "username", &f.BasicUser, o.username)
		overlay(flags, "password", &f.BasicPassword, o.password)
		overlay(flags, "docker-server", &f.SecretServer, o.dockerServer)
		overlay(flags, "docker-username", &f.SecretUser, o.dockerUsername)
		overlay(flags, "docker-password", &f.SecretPassword, o.dockerPassword)
		overlay(flags, "docker-email", &f.SecretEmail, o.dockerEmail)
		overlay(flags, "auth-secret", &f.SecretAuthName, o.authSecret)
		overlay(flags, "tls-secret", &f.SecretTLSName, o.tlsSecret)
		overlay(flags, "pass-credentials", &f.PassCredentials, o.passCredentials)

		overlay(flags, "ca-file", &f.CustomCA, ca)
		overlay(flags, "insecure-skip-tls-verify", &f.SkipTLS, o.skipTLS)

		overlay(flags, "oci-repositories", &f.OCIRepositories, o.ociRepositories)
		overlay(flags, "registry-secrets", &f.RegistrySecrets, o.registrySecrets)
		overlay(flags, "validate", &f.PerformValidation, o.validate)
		overlay(flags, "filter", &f.FilterNames, o.filterNames)
		overlay(flags, "filter-regex", &f.FilterRegex, o.filterRegex)
		overlay(flags, "filter-exclude", &f.FilterExclude, o.filterExclude)
	}, nil
}

func overlay[T any](flags *pflag.FlagSet, name string, dst *T, value T) {
	if flags.Lookup(name) != nil && flags.Changed(name) {
		*dst = value
	}
}

// pluginFlag registers the --plugin flag shared by the repository commands
func pluginFlag(flags *pflag.FlagSet, dst *string) {
	flags.StringVarP(dst, "plugin", "p", "helm", "Packaging plugin (helm, flux, kapp)")
}

func parsePlugin(name string) (repository.Plugin, error) {
	p, ok := repository.PluginByName(name)
	if !ok {
		return repository.Plugin{}, fmt.Errorf("unknown plugin %q", name)
	}
	return p, nil
}
