// Package kube resolves the default cluster and namespace from a kubeconfig.
package kube

import (
	"go.uber.org/zap"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	// DefaultCluster is used when no kubeconfig context names a cluster
	DefaultCluster   = "default"
	DefaultNamespace = "default"
)

// Context is the cluster and namespace selected by a kubeconfig
type Context struct {
	Cluster   string
	Namespace string
}

// CurrentContext reads kubeconfig (or the default loading rules when empty)
// and returns the cluster and namespace of kubeContext, or of the current
// context when kubeContext is empty. Missing or unreadable kubeconfigs yield
// the defaults.
func CurrentContext(kubeconfig, kubeContext string, logger *zap.Logger) Context {
	result := Context{Cluster: DefaultCluster, Namespace: DefaultNamespace}
	if logger == nil {
		logger = zap.NewNop()
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	loader := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides)

	raw, err := loader.RawConfig()
	if err != nil {
		logger.Debug("unable to read kubeconfig, using defaults", zap.Error(err))
		return result
	}

	name := kubeContext
	if name == "" {
		name = raw.CurrentContext
	}
	if kc, ok := raw.Contexts[name]; ok && kc != nil {
		if kc.Cluster != "" {
			result.Cluster = kc.Cluster
		}
	}

	if ns, _, err := loader.Namespace(); err == nil && ns != "" {
		result.Namespace = ns
	}
	return result
}

// Resolve fills the empty fields of cluster and namespace from the kubeconfig
func Resolve(cluster, namespace, kubeconfig, kubeContext string, logger *zap.Logger) (string, string) {
	if cluster != "" && namespace != "" {
		return cluster, namespace
	}
	current := CurrentContext(kubeconfig, kubeContext, logger)
	if cluster == "" {
		cluster = current.Cluster
	}
	if namespace == "" {
		namespace = current.Namespace
	}
	return cluster, namespace
}
