package client

import (
	"github.com/cropalato/pkgrepo/internal/filter"
	"github.com/cropalato/pkgrepo/internal/repository"
)

const (
	serviceName = "kubeappsapis.core.packages.v1alpha1.RepositoriesService"

	helmCustomDetailType = "type.googleapis.com/kubeappsapis.plugins.helm.packages.v1alpha1.HelmPackageRepositoryCustomDetail"

	dockerConfigJSONKey = ".dockerconfigjson"
	caCertKey           = "ca.crt"
)

// Messages of the repositories service. They follow the proto JSON field
// names but are exchanged through Codec, so the server must register a
// matching "json" codec. Stock protobuf servers will reject them.

type SecretKeyReference struct {
	Name string `json:"name"`
	Key  string `json:"key,omitempty"`
}

type TLSConfig struct {
	InsecureSkipVerify bool                `json:"insecureSkipVerify,omitempty"`
	CertAuthority      string              `json:"certAuthority,omitempty"`
	SecretRef          *SecretKeyReference `json:"secretRef,omitempty"`
}

type Auth struct {
	Type             repository.AuthType           `json:"type"`
	UsernamePassword *repository.UsernamePassword  `json:"usernamePassword,omitempty"`
	DockerCreds      *repository.DockerCredentials `json:"dockerCreds,omitempty"`
	Header           string                        `json:"header,omitempty"`
	SecretRef        *SecretKeyReference           `json:"secretRef,omitempty"`
	PassCredentials  bool                          `json:"passCredentials,omitempty"`
}

// FilterRule binds every jq variable to a single string
type FilterRule struct {
	JQ        string            `json:"jq"`
	Variables map[string]string `json:"variables,omitempty"`
}

type ImagesPullSecret struct {
	SecretRef string `json:"secretRef,omitempty"`
}

// HelmCustomDetail is the Any-shaped custom detail understood by the helm plugin
type HelmCustomDetail struct {
	Type              string            `json:"@type"`
	ImagesPullSecret  *ImagesPullSecret `json:"imagesPullSecret,omitempty"`
	OCIRepositories   []string          `json:"ociRepositories,omitempty"`
	PerformValidation bool              `json:"performValidation"`
	FilterRule        *FilterRule       `json:"filterRule,omitempty"`
}

type Status struct {
	OK         bool   `json:"ok"`
	Reason     string `json:"reason,omitempty"`
	UserReason string `json:"userReason,omitempty"`
}

type AddPackageRepositoryRequest struct {
	Context         repository.Context `json:"context"`
	Name            string             `json:"name"`
	Description     string             `json:"description,omitempty"`
	NamespaceScoped bool               `json:"namespaceScoped,omitempty"`
	Type            string             `json:"type"`
	URL             string             `json:"url"`
	Interval        uint32             `json:"interval,omitempty"`
	TLSConfig       *TLSConfig         `json:"tlsConfig,omitempty"`
	Auth            *Auth              `json:"auth,omitempty"`
	Plugin          repository.Plugin  `json:"plugin"`
	CustomDetail    *HelmCustomDetail  `json:"customDetail,omitempty"`
}

type AddPackageRepositoryResponse struct {
	PackageRepoRef repository.Reference `json:"packageRepoRef"`
}

type UpdatePackageRepositoryRequest struct {
	PackageRepoRef repository.Reference `json:"packageRepoRef"`
	URL            string               `json:"url"`
	Description    string               `json:"description,omitempty"`
	Interval       uint32               `json:"interval,omitempty"`
	TLSConfig      *TLSConfig           `json:"tlsConfig,omitempty"`
	Auth           *Auth                `json:"auth,omitempty"`
	CustomDetail   *HelmCustomDetail    `json:"customDetail,omitempty"`
}

type UpdatePackageRepositoryResponse struct {
	PackageRepoRef repository.Reference `json:"packageRepoRef"`
}

type GetPackageRepositoryDetailRequest struct {
	PackageRepoRef repository.Reference `json:"packageRepoRef"`
}

type PackageRepositoryDetail struct {
	PackageRepoRef  repository.Reference `json:"packageRepoRef"`
	Name            string               `json:"name"`
	Description     string               `json:"description,omitempty"`
	NamespaceScoped bool                 `json:"namespaceScoped,omitempty"`
	Type            string               `json:"type"`
	URL             string               `json:"url"`
	Interval        uint32               `json:"interval,omitempty"`
	TLSConfig       *TLSConfig           `json:"tlsConfig,omitempty"`
	Auth            *Auth                `json:"auth,omitempty"`
	CustomDetail    *HelmCustomDetail    `json:"customDetail,omitempty"`
	Status          *Status              `json:"status,omitempty"`
}

type GetPackageRepositoryDetailResponse struct {
	Detail PackageRepositoryDetail `json:"detail"`
}

type GetPackageRepositorySummariesRequest struct {
	Context repository.Context `json:"context"`
}

type PackageRepositorySummary struct {
	PackageRepoRef  repository.Reference `json:"packageRepoRef"`
	Name            string               `json:"name"`
	Description     string               `json:"description,omitempty"`
	NamespaceScoped bool                 `json:"namespaceScoped,omitempty"`
	Type            string               `json:"type"`
	URL             string               `json:"url"`
	RequiresAuth    bool                 `json:"requiresAuth,omitempty"`
	Status          *Status              `json:"status,omitempty"`
}

type GetPackageRepositorySummariesResponse struct {
	PackageRepositorySummaries []PackageRepositorySummary `json:"packageRepositorySummaries"`
}

type DeletePackageRepositoryRequest struct {
	PackageRepoRef repository.Reference `json:"packageRepoRef"`
}

type DeletePackageRepositoryResponse struct{}

// NewAddRequest builds the request creating cfg
func NewAddRequest(cfg repository.Config) *AddPackageRepositoryRequest {
	return &AddPackageRepositoryRequest{
		Context:         cfg.Context,
		Name:            cfg.Name,
		Description:     cfg.Description,
		NamespaceScoped: cfg.NamespaceScoped,
		Type:            string(cfg.Type),
		URL:             cfg.URL,
		Interval:        cfg.Interval,
		TLSConfig:       tlsToWire(cfg.TLS),
		Auth:            authToWire(cfg.Auth),
		Plugin:          cfg.Plugin,
		CustomDetail:    customDetailToWire(cfg),
	}
}

// NewUpdateRequest builds the request replacing the configuration of cfg
func NewUpdateRequest(cfg repository.Config) *UpdatePackageRepositoryRequest {
	return &UpdatePackageRepositoryRequest{
		PackageRepoRef: cfg.Reference(),
		URL:            cfg.URL,
		Description:    cfg.Description,
		Interval:       cfg.Interval,
		TLSConfig:      tlsToWire(cfg.TLS),
		Auth:           authToWire(cfg.Auth),
		CustomDetail:   customDetailToWire(cfg),
	}
}

// ConfigFromDetail converts a fetched repository detail back into a configuration
func ConfigFromDetail(d PackageRepositoryDetail) repository.Config {
	cfg := repository.Config{
		Name:            d.Name,
		Context:         d.PackageRepoRef.Context,
		Plugin:          d.PackageRepoRef.Plugin,
		NamespaceScoped: d.NamespaceScoped,
		Type:            repository.StorageType(d.Type),
		URL:             d.URL,
		Description:     d.Description,
		Interval:        d.Interval,
		CustomDetail: repository.CustomDetail{
			OCIRepositories:       []string{},
			DockerRegistrySecrets: []string{},
		},
	}
	if cfg.Name == "" {
		cfg.Name = d.PackageRepoRef.Identifier
	}

	if t := d.TLSConfig; t != nil {
		cfg.TLS.InsecureSkipVerify = t.InsecureSkipVerify
		cfg.TLS.CertAuthority = t.CertAuthority
		if t.SecretRef != nil {
			cfg.TLS.SecretRef = t.SecretRef.Name
		}
	}

	if a := d.Auth; a != nil {
		cfg.Auth.Type = a.Type
		cfg.Auth.Header = a.Header
		cfg.Auth.PassCredentials = a.PassCredentials
		if a.UsernamePassword != nil {
			cfg.Auth.UsernamePassword = *a.UsernamePassword
		}
		if a.DockerCreds != nil {
			cfg.Auth.DockerCreds = *a.DockerCreds
		}
		if a.SecretRef != nil {
			cfg.Auth.SecretRef = a.SecretRef.Name
		}
	}

	if cd := d.CustomDetail; cd != nil {
		cfg.CustomDetail.PerformValidation = cd.PerformValidation
		if len(cd.OCIRepositories) > 0 {
			cfg.CustomDetail.OCIRepositories = cd.OCIRepositories
		}
		if cd.ImagesPullSecret != nil && cd.ImagesPullSecret.SecretRef != "" {
			cfg.CustomDetail.DockerRegistrySecrets = []string{cd.ImagesPullSecret.SecretRef}
		}
		cfg.CustomDetail.FilterRule = filterFromWire(cd.FilterRule)
	}

	return cfg
}

// SummaryFromWire converts a listed repository
func SummaryFromWire(s PackageRepositorySummary) repository.Summary {
	name := s.Name
	if name == "" {
		name = s.PackageRepoRef.Identifier
	}
	return repository.Summary{
		Reference:       s.PackageRepoRef,
		Name:            name,
		Description:     s.Description,
		NamespaceScoped: s.NamespaceScoped,
		Type:            repository.StorageType(s.Type),
		URL:             s.URL,
		RequiresAuth:    s.RequiresAuth,
	}
}

// tlsToWire returns nil unless a CA, skip-verify or a TLS secret is set
func tlsToWire(t repository.TLSConfig) *TLSConfig {
	if t.CertAuthority == "" && !t.InsecureSkipVerify && t.SecretRef == "" {
		return nil
	}
	out := &TLSConfig{
		InsecureSkipVerify: t.InsecureSkipVerify,
		CertAuthority:      t.CertAuthority,
	}
	if t.SecretRef != "" {
		out.SecretRef = &SecretKeyReference{Name: t.SecretRef, Key: caCertKey}
	}
	return out
}

func authToWire(a repository.Auth) *Auth {
	out := &Auth{
		Type:            a.Type,
		Header:          a.Header,
		PassCredentials: a.PassCredentials,
	}

	if a.SecretRef != "" {
		out.SecretRef = &SecretKeyReference{Name: a.SecretRef, Key: dockerConfigJSONKey}
		return out
	}

	switch a.Type {
	case repository.AuthBasic:
		up := a.UsernamePassword
		out.UsernamePassword = &up
	case repository.AuthDockerConfigJSON:
		dc := a.DockerCreds
		out.DockerCreds = &dc
	case repository.AuthNone, repository.AuthBearer, repository.AuthHeader:
	}
	return out
}

// customDetailToWire only produces a detail for the helm plugin
func customDetailToWire(cfg repository.Config) *HelmCustomDetail {
	if cfg.Plugin.Name != repository.PluginHelm {
		return nil
	}

	cd := &HelmCustomDetail{
		Type:              helmCustomDetailType,
		OCIRepositories:   cfg.CustomDetail.OCIRepositories,
		PerformValidation: cfg.CustomDetail.PerformValidation,
		FilterRule:        filterToWire(cfg.CustomDetail.FilterRule),
	}
	if secrets := cfg.CustomDetail.DockerRegistrySecrets; len(secrets) > 0 && secrets[0] != "" {
		cd.ImagesPullSecret = &ImagesPullSecret{SecretRef: secrets[0]}
	}
	return cd
}

// filterToWire sends rules built by the form with one string per variable.
// Other rules keep their expression, with single values sent as plain strings.
func filterToWire(rule *filter.Rule) *FilterRule {
	if rule == nil {
		return nil
	}
	if jq, vars, err := filter.Flatten(rule); err == nil {
		return &FilterRule{JQ: jq, Variables: vars}
	}

	out := &FilterRule{JQ: rule.JQ}
	if len(rule.Variables) > 0 {
		out.Variables = make(map[string]string, len(rule.Variables))
		for k, v := range rule.Variables {
			if len(v) == 1 {
				out.Variables[k] = v[0]
				continue
			}
			encoded, err := json.MarshalToString(v)
			if err != nil {
				continue
			}
			out.Variables[k] = encoded
		}
	}
	return out
}

func filterFromWire(rule *FilterRule) *filter.Rule {
	if rule == nil || rule.JQ == "" {
		return nil
	}
	if r, err := filter.Unflatten(rule.JQ, rule.Variables); err == nil {
		return r
	}

	out := &filter.Rule{JQ: rule.JQ}
	if len(rule.Variables) > 0 {
		out.Variables = make(map[string][]string, len(rule.Variables))
		for k, v := range rule.Variables {
			var list []string
			if err := json.UnmarshalFromString(v, &list); err != nil {
				list = []string{v}
			}
			out.Variables[k] = list
		}
	}
	return out
}
