// Package promreg registers Prometheus collectors that may be shared by several instances of a component.
package promreg

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"
)

// Register collector with registerer and returns it, or returns the equivalent collector registered
// earlier. A nil registerer leaves collector unregistered.
func Register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if registerer == nil {
		return collector
	}
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing
		}
	}
	klog.Warningf("failed to register metric: %v", err)
	return collector
}
