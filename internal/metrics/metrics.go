// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package metrics exposes the coordinator's running-average timings and
// queue depths, grounded on the teacher's own `metrics` package convention
// of registering named go-metrics instruments against a single process
// registry and exporting them to Prometheus.
package metrics

import (
	rmetrics "github.com/rcrowley/go-metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the coordinator's go-metrics registry, analogous to the
// teacher's package-level `metrics.DefaultRegistry`.
var Registry = rmetrics.NewRegistry()

// CircuitGauges holds the per-circuit instruments. ForCircuit registers
// them; the Circuit Queue Manager, Verification Worker and Timeout
// Controller do not call it or update these values.
type CircuitGauges struct {
	QueueDepth          rmetrics.Gauge
	CompletedContribs   rmetrics.Gauge
	FailedContribs      rmetrics.Gauge
	AvgContributeMillis rmetrics.Gauge
	AvgVerifyMillis     rmetrics.Gauge
	Evictions           rmetrics.Counter
}

// ForCircuit returns (registering on first use) the gauge set for
// circuitID, named the way the teacher namespaces per-shard metrics
// (e.g. "eth/db/chaindata/..." style dotted paths).
func ForCircuit(circuitID string) CircuitGauges {
	prefix := "ceremony/circuit/" + circuitID + "/"
	return CircuitGauges{
		QueueDepth:          rmetrics.GetOrRegisterGauge(prefix+"queueDepth", Registry),
		CompletedContribs:   rmetrics.GetOrRegisterGauge(prefix+"completedContributions", Registry),
		FailedContribs:      rmetrics.GetOrRegisterGauge(prefix+"failedContributions", Registry),
		AvgContributeMillis: rmetrics.GetOrRegisterGauge(prefix+"avgContributionMillis", Registry),
		AvgVerifyMillis:     rmetrics.GetOrRegisterGauge(prefix+"avgVerifyMillis", Registry),
		Evictions:           rmetrics.GetOrRegisterCounter(prefix+"evictions", Registry),
	}
}

// PrometheusCollector adapts Registry to prometheus.Collector so a single
// `/metrics` HTTP handler can serve both worlds, the same bridge pattern
// the teacher's node package wires in for its own go-metrics registry.
type PrometheusCollector struct {
	registry rmetrics.Registry
}

// NewPrometheusCollector wraps Registry for scraping.
func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{registry: Registry}
}

func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	// Dynamic metric set: descriptions are emitted lazily from Collect,
	// matching Prometheus's "unchecked collector" pattern for registries
	// whose metric names aren't known at startup.
}

func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	c.registry.Each(func(name string, i any) {
		switch v := i.(type) {
		case rmetrics.Gauge:
			desc := prometheus.NewDesc(sanitize(name), name, nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(v.Value()))
		case rmetrics.Counter:
			desc := prometheus.NewDesc(sanitize(name), name, nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v.Count()))
		}
	})
}

func sanitize(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		switch c := name[i]; {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
