// Package k8s builds the Kubernetes client used to read storage credentials
// when the backend runs inside a cluster.
package k8s

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/loiht2/ctr-aiops/backend/logger"
)

// RestConfig returns the in-cluster config when kubeconfig is empty, and the
// config from the kubeconfig file otherwise.
func RestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		cfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to build in-cluster config: %w", err)
		}
		return cfg, nil
	}

	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build config from %s: %w", kubeconfig, err)
	}
	return cfg, nil
}

// NewClientset creates a clientset. No request is sent until it is used.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	cfg, err := RestConfig(kubeconfig)
	if err != nil {
		return nil, err
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	logger.Infof("Kubernetes client initialized (host: %s)", cfg.Host)
	return clientset, nil
}
