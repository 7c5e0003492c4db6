package repository

import (
	"crypto/x509"
	"net/url"
	"strings"

	customerrors "github.com/cropalato/pkgrepo/pkg/errors"
)

// Validate checks a configuration before it is submitted
func Validate(c Config) error {
	var violations []*customerrors.ValidationError
	add := func(field string, value interface{}, msg string) {
		violations = append(violations, &customerrors.ValidationError{Field: field, Value: value, Message: msg})
	}

	if c.Name == "" {
		add("name", nil, "cannot be empty")
	}

	if c.URL == "" {
		add("url", nil, "cannot be empty")
	} else if c.Plugin.Name != PluginKapp {
		if _, err := url.ParseRequestURI(c.URL); err != nil {
			add("url", c.URL, err.Error())
		}
	}

	if _, ok := PluginByName(c.Plugin.Name); !ok {
		add("plugin", c.Plugin.Name, "unknown plugin")
	}

	switch {
	case !c.Type.Valid():
		add("type", c.Type, "unknown storage type")
	case c.Plugin.Name == PluginKapp && !c.Type.Carvel():
		add("type", c.Type, "kapp_controller repositories need a carvel storage type")
	case c.Plugin.Name != PluginKapp && c.Type.Carvel():
		add("type", c.Type, "carvel storage types need the kapp_controller plugin")
	case c.Plugin.Name == PluginFlux && c.Type == StorageOCI:
		add("type", c.Type, "flux repositories do not support oci storage")
	}

	if c.TLS.CertAuthority != "" {
		if c.TLS.InsecureSkipVerify {
			add("tlsConfig.certAuthority", nil, "cannot be combined with insecureSkipVerify")
		} else if !x509.NewCertPool().AppendCertsFromPEM([]byte(c.TLS.CertAuthority)) {
			add("tlsConfig.certAuthority", nil, "no PEM certificate found")
		}
	}

	switch c.Auth.Type {
	case AuthNone:
	case AuthBasic:
		if c.Auth.SecretRef == "" && c.Auth.UsernamePassword.Username == "" {
			add("auth.usernamePassword.username", nil, "required for basic auth")
		}
	case AuthBearer:
		token := strings.TrimSpace(strings.TrimPrefix(c.Auth.Header, bearerPrefix))
		if c.Auth.SecretRef == "" && token == "" {
			add("auth.header", nil, "bearer token required")
		}
	case AuthHeader:
		if c.Auth.SecretRef == "" && strings.TrimSpace(c.Auth.Header) == "" {
			add("auth.header", nil, "required for header based auth")
		}
	case AuthDockerConfigJSON:
		if c.Auth.SecretRef == "" && c.Auth.DockerCreds.Server == "" {
			add("auth.dockerCreds.server", nil, "required for docker credentials")
		}
	default:
		add("auth.type", c.Auth.Type, "unknown auth type")
	}

	if len(violations) > 0 {
		return &customerrors.InvalidRepositoryError{Repo: c.Name, Violations: violations}
	}
	return nil
}
