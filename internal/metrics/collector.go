// Package metrics exposes one session's transfer counters as Prometheus
// metrics. The custom prometheus.Collector shape (a struct of *prometheus.
// Desc paired with a Collect method that reads live state under a mutex) is
// grounded on runZeroInc-sockstats's TCPInfoCollector, generalized from
// per-connection TCP_INFO samples to per-session transfer counters.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/soyunomas/pycast/internal/session"
)

// SessionCollector reports live counters for one transfer session:
// confirmed blocks, NACKs received, repair rounds spent, and bytes sent or
// written. Either a sender or a receiver can own one; whichever fields
// don't apply to that role are simply never incremented.
type SessionCollector struct {
	mu        sync.Mutex
	sessionID session.ID

	blocksConfirmed int
	blocksTotal     int
	nacksReceived   int
	repairRounds    int
	bytesTransferred int64

	blocksConfirmedDesc  *prometheus.Desc
	blocksTotalDesc      *prometheus.Desc
	nacksReceivedDesc    *prometheus.Desc
	repairRoundsDesc     *prometheus.Desc
	bytesTransferredDesc *prometheus.Desc
}

// NewSessionCollector returns a collector for sessionID. Register it with a
// prometheus.Registry to expose it on a /metrics endpoint.
func NewSessionCollector(sessionID session.ID) *SessionCollector {
	labels := prometheus.Labels{"session_id": sessionID.String()}
	return &SessionCollector{
		sessionID: sessionID,
		blocksConfirmedDesc: prometheus.NewDesc(
			"pycast_blocks_confirmed_total", "Blocks fully confirmed (no missing packets).", nil, labels),
		blocksTotalDesc: prometheus.NewDesc(
			"pycast_blocks_total", "Total blocks in the transfer.", nil, labels),
		nacksReceivedDesc: prometheus.NewDesc(
			"pycast_nacks_received_total", "Missing sequence numbers reported in NACK control records received or sent.", nil, labels),
		repairRoundsDesc: prometheus.NewDesc(
			"pycast_repair_rounds_spent_total", "Repair rounds spent across all blocks.", nil, labels),
		bytesTransferredDesc: prometheus.NewDesc(
			"pycast_bytes_transferred_total", "Payload bytes sent or written so far.", nil, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *SessionCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.blocksConfirmedDesc
	descs <- c.blocksTotalDesc
	descs <- c.nacksReceivedDesc
	descs <- c.repairRoundsDesc
	descs <- c.bytesTransferredDesc
}

// Collect implements prometheus.Collector.
func (c *SessionCollector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics <- prometheus.MustNewConstMetric(c.blocksConfirmedDesc, prometheus.CounterValue, float64(c.blocksConfirmed))
	metrics <- prometheus.MustNewConstMetric(c.blocksTotalDesc, prometheus.GaugeValue, float64(c.blocksTotal))
	metrics <- prometheus.MustNewConstMetric(c.nacksReceivedDesc, prometheus.CounterValue, float64(c.nacksReceived))
	metrics <- prometheus.MustNewConstMetric(c.repairRoundsDesc, prometheus.CounterValue, float64(c.repairRounds))
	metrics <- prometheus.MustNewConstMetric(c.bytesTransferredDesc, prometheus.CounterValue, float64(c.bytesTransferred))
}

// SetBlocksTotal records the transfer's total block count, known once
// metadata has been sent or received.
func (c *SessionCollector) SetBlocksTotal(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocksTotal = n
}

// RecordBlockConfirmed increments the confirmed-block counter.
func (c *SessionCollector) RecordBlockConfirmed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocksConfirmed++
}

// RecordRepairRounds adds n repair rounds to the running total.
func (c *SessionCollector) RecordRepairRounds(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repairRounds += n
}

// RecordNack adds n to the NACK counter, where n is the number of missing
// sequence numbers a NACK reports (a single NACK control message may list
// several at once).
func (c *SessionCollector) RecordNack(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nacksReceived += n
}

// AddBytesTransferred adds n bytes to the running payload total.
func (c *SessionCollector) AddBytesTransferred(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesTransferred += n
}
