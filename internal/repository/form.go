package repository

import (
	"strings"

	"go.uber.org/zap"

	"github.com/cropalato/pkgrepo/internal/filter"
)

const bearerPrefix = "Bearer "

// FormFields is the flat state edited by users
type FormFields struct {
	Name            string
	URL             string
	Description     string
	Plugin          Plugin
	Type            StorageType
	Interval        uint32
	Context         Context
	NamespaceScoped bool

	AuthMethod       AuthType
	AuthCustomHeader string
	BearerToken      string
	BasicUser        string
	BasicPassword    string
	SecretServer     string
	SecretUser       string
	SecretPassword   string
	SecretEmail      string
	SecretAuthName   string
	SecretTLSName    string
	PassCredentials  bool

	CustomCA string
	SkipTLS  bool

	OCIRepositories   string
	RegistrySecrets   string
	PerformValidation bool
	FilterNames       string
	FilterRegex       bool
	FilterExclude     bool
}

// NewFormFields returns the state of an empty form
func NewFormFields() FormFields {
	return FormFields{
		Interval:          DefaultInterval,
		AuthMethod:        AuthNone,
		PerformValidation: true,
	}
}

// SelectPlugin switches the plugin and suggests the matching storage type
func (f *FormFields) SelectPlugin(p Plugin) {
	f.Plugin = p
	if t := SuggestStorageType(p); t != "" {
		f.Type = t
	}
}

// SuggestStorageType returns the default storage type of a plugin
func SuggestStorageType(p Plugin) StorageType {
	switch p.Name {
	case PluginHelm, PluginFlux:
		return StorageHelm
	case PluginKapp:
		return StorageCarvelImgpkgBundle
	}
	return ""
}

// HeaderFor computes the header sent for the selected auth method
func HeaderFor(method AuthType, bearerToken, customHeader string) string {
	switch method {
	case AuthBearer:
		return bearerPrefix + bearerToken
	case AuthHeader:
		return customHeader
	case AuthNone, AuthBasic, AuthDockerConfigJSON:
		return ""
	}
	return ""
}

// NormalizeURL assumes https when no scheme is given, except for the kapp
// plugin which expects bare image references.
func NormalizeURL(url string, p Plugin) string {
	if p.Name == PluginKapp || strings.HasPrefix(url, "http") {
		return url
	}
	return "https://" + url
}

// SplitList turns a comma separated field into a list of trimmed values
func SplitList(csv string) []string {
	if csv == "" {
		return []string{}
	}
	parts := strings.Split(csv, ",")
	list := make([]string, 0, len(parts))
	for _, p := range parts {
		list = append(list, strings.TrimSpace(p))
	}
	return list
}

// BuildConfig assembles a repository configuration from the form state
func BuildConfig(f FormFields) Config {
	var rule *filter.Rule
	if f.Type == StorageHelm && f.FilterNames != "" {
		rule = filter.Encode(f.FilterNames, f.FilterRegex, f.FilterExclude)
	}

	return Config{
		Name:            f.Name,
		Context:         f.Context,
		Plugin:          f.Plugin,
		NamespaceScoped: f.NamespaceScoped,
		Type:            f.Type,
		URL:             NormalizeURL(f.URL, f.Plugin),
		Description:     f.Description,
		Interval:        f.Interval,
		TLS: TLSConfig{
			InsecureSkipVerify: f.SkipTLS,
			CertAuthority:      f.CustomCA,
			SecretRef:          f.SecretTLSName,
		},
		Auth: Auth{
			Type:            f.AuthMethod,
			Header:          HeaderFor(f.AuthMethod, f.BearerToken, f.AuthCustomHeader),
			PassCredentials: f.PassCredentials,
			UsernamePassword: UsernamePassword{
				Username: f.BasicUser,
				Password: f.BasicPassword,
			},
			DockerCreds: DockerCredentials{
				Server:   f.SecretServer,
				Username: f.SecretUser,
				Password: f.SecretPassword,
				Email:    f.SecretEmail,
			},
			SecretRef: f.SecretAuthName,
		},
		CustomDetail: CustomDetail{
			OCIRepositories:       SplitList(f.OCIRepositories),
			FilterRule:            rule,
			PerformValidation:     f.PerformValidation,
			DockerRegistrySecrets: SplitList(f.RegistrySecrets),
		},
	}
}

// PopulateForm recovers the form state of an existing configuration.
// Every credential field is filled whatever the active auth method.
func PopulateForm(c Config, logger *zap.Logger) FormFields {
	params := filter.Decode(c.CustomDetail.FilterRule, logger)

	return FormFields{
		Name:            c.Name,
		URL:             c.URL,
		Description:     c.Description,
		Plugin:          c.Plugin,
		Type:            c.Type,
		Interval:        c.Interval,
		Context:         c.Context,
		NamespaceScoped: c.NamespaceScoped,

		AuthMethod:       c.Auth.Type,
		AuthCustomHeader: c.Auth.Header,
		BearerToken:      strings.TrimPrefix(c.Auth.Header, bearerPrefix),
		BasicUser:        c.Auth.UsernamePassword.Username,
		BasicPassword:    c.Auth.UsernamePassword.Password,
		SecretServer:     c.Auth.DockerCreds.Server,
		SecretUser:       c.Auth.DockerCreds.Username,
		SecretPassword:   c.Auth.DockerCreds.Password,
		SecretEmail:      c.Auth.DockerCreds.Email,
		SecretAuthName:   c.Auth.SecretRef,
		SecretTLSName:    c.TLS.SecretRef,
		PassCredentials:  c.Auth.PassCredentials,

		CustomCA: c.TLS.CertAuthority,
		SkipTLS:  c.TLS.InsecureSkipVerify,

		OCIRepositories:   strings.Join(c.CustomDetail.OCIRepositories, ", "),
		RegistrySecrets:   strings.Join(c.CustomDetail.DockerRegistrySecrets, ", "),
		PerformValidation: c.CustomDetail.PerformValidation,
		FilterNames:       params.NamesCSV(),
		FilterRegex:       params.Regex,
		FilterExclude:     params.Exclude,
	}
}
