package jshost

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cryguy/jshost/internal/registry"
)

// NewCollector returns a Prometheus collector reporting h's in-flight
// operations by kind and whether h has closed. The collector does not keep
// h reachable.
func NewCollector(h *Host, constLabels prometheus.Labels) prometheus.Collector {
	c := h.core
	return registry.NewCollector(c.reg, c.closed.Load, constLabels)
}
