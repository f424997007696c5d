// Package udpmetrics exposes an Endpoint's traffic counters as Prometheus
// metrics, kept as a separate package so the core udp package has no
// dependency on github.com/prometheus/client_golang.
//
// Grounded on nabbar-golib's prometheus wiring (its monitor/prometheus
// package registers gauges/counters against a shared registry on a timer);
// this package takes the same "Collector implements prometheus.Collector,
// sampled on demand by the registry" shape rather than golib's
// push-on-timer style, since an Endpoint's Counters snapshot is already
// cheap and consistent to read synchronously.
package udpmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"netudp/udp"
)

// Source is the subset of *udp.Endpoint the collector needs.
type Source interface {
	Counters() (totals, perSecond udp.CounterSample)
	JoinedGroups() []string
}

// Collector adapts a Source's counters to prometheus.Collector.
type Collector struct {
	source Source

	rxBytes      *prometheus.Desc
	txBytes      *prometheus.Desc
	rxPackets    *prometheus.Desc
	txPackets    *prometheus.Desc
	rxInvalid    *prometheus.Desc
	joinedGroups *prometheus.Desc
}

// NewCollector returns a Collector sampling source's counters whenever
// Prometheus scrapes it. label values the series with the endpoint's name
// (e.g. a config profile or listener address) for deployments running more
// than one Endpoint.
func NewCollector(source Source, label string) *Collector {
	constLabels := prometheus.Labels{"endpoint": label}
	return &Collector{
		source: source,
		rxBytes: prometheus.NewDesc(
			"netudp_rx_bytes_total", "Total bytes received.", nil, constLabels),
		txBytes: prometheus.NewDesc(
			"netudp_tx_bytes_total", "Total bytes sent.", nil, constLabels),
		rxPackets: prometheus.NewDesc(
			"netudp_rx_packets_total", "Total datagrams received.", nil, constLabels),
		txPackets: prometheus.NewDesc(
			"netudp_tx_packets_total", "Total datagrams sent.", nil, constLabels),
		rxInvalid: prometheus.NewDesc(
			"netudp_rx_invalid_total", "Total zero-length or oversized datagrams discarded on receive.", nil, constLabels),
		joinedGroups: prometheus.NewDesc(
			"netudp_joined_groups", "Number of multicast groups currently joined on at least one interface.", nil, constLabels),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rxBytes
	ch <- c.txBytes
	ch <- c.rxPackets
	ch <- c.txPackets
	ch <- c.rxInvalid
	ch <- c.joinedGroups
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	totals, _ := c.source.Counters()
	ch <- prometheus.MustNewConstMetric(c.rxBytes, prometheus.CounterValue, float64(totals.RxBytes))
	ch <- prometheus.MustNewConstMetric(c.txBytes, prometheus.CounterValue, float64(totals.TxBytes))
	ch <- prometheus.MustNewConstMetric(c.rxPackets, prometheus.CounterValue, float64(totals.RxPackets))
	ch <- prometheus.MustNewConstMetric(c.txPackets, prometheus.CounterValue, float64(totals.TxPackets))
	ch <- prometheus.MustNewConstMetric(c.rxInvalid, prometheus.CounterValue, float64(totals.RxInvalid))
	ch <- prometheus.MustNewConstMetric(c.joinedGroups, prometheus.GaugeValue, float64(len(c.source.JoinedGroups())))
}
