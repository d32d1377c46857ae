package registry

import "github.com/prometheus/client_golang/prometheus"

// Collector exports the in-flight counts of a Registry as Prometheus gauges.
type Collector struct {
	reg    *Registry
	closed func() bool

	inflight *prometheus.Desc
	closedD  *prometheus.Desc
}

// NewCollector returns a collector for reg. closed may be nil; when set it
// feeds the jshost_closed gauge. constLabels distinguish hosts sharing one
// Prometheus registry.
func NewCollector(reg *Registry, closed func() bool, constLabels prometheus.Labels) *Collector {
	return &Collector{
		reg:    reg,
		closed: closed,
		inflight: prometheus.NewDesc(
			"jshost_inflight_operations",
			"Outstanding asynchronous operations by kind.",
			[]string{"kind"}, constLabels,
		),
		closedD: prometheus.NewDesc(
			"jshost_closed",
			"1 once the host has been closed.",
			nil, constLabels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inflight
	ch <- c.closedD
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counts := c.reg.Counts()
	for _, k := range Kinds {
		ch <- prometheus.MustNewConstMetric(c.inflight, prometheus.GaugeValue, float64(counts.Of(k)), string(k))
	}
	v := 0.0
	if c.closed != nil && c.closed() {
		v = 1
	}
	ch <- prometheus.MustNewConstMetric(c.closedD, prometheus.GaugeValue, v)
}
