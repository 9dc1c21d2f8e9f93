package proxy

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NicolasHaas/poolproxy/pkg/model"
	"github.com/NicolasHaas/poolproxy/pkg/version"
)

// Metrics tracks proxy runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections     atomic.Int64 // lifetime miner connections accepted
	ActiveConnections    atomic.Int64 // current relayed sessions
	TotalDisconnects     atomic.Int64 // sessions torn down
	UpstreamDialFailures atomic.Int64 // miners dropped because the pool was unreachable

	// Relay counters
	BytesFromClient   atomic.Int64
	BytesFromUpstream atomic.Int64

	// Inspection counters
	MessagesDecoded    atomic.Int64
	FramingErrors      atomic.Int64
	SubmitsSeen        atomic.Int64
	SharesAccepted     atomic.Int64
	SharesRejected     atomic.Int64
	UnmatchedResponses atomic.Int64 // upstream responses matching no pending submit

	// Accounting counters
	PayoutsRecorded    atomic.Int64
	EvaluationFailures atomic.Int64
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

func (m *Metrics) addBytes(dir Direction, n int) {
	if dir == FromClient {
		m.BytesFromClient.Add(int64(n))
	} else {
		m.BytesFromUpstream.Add(int64(n))
	}
}

// PayoutRecorded counts a stored share credit.
func (m *Metrics) PayoutRecorded(_ *model.PayoutRecord) {
	m.PayoutsRecorded.Add(1)
}

// EvaluationFailed counts an accepted share that produced no credit.
func (m *Metrics) EvaluationFailed(_ error) {
	m.EvaluationFailures.Add(1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections    int64 `json:"active_connections"`
	TotalConnections     int64 `json:"total_connections"`
	TotalDisconnects     int64 `json:"total_disconnects"`
	UpstreamDialFailures int64 `json:"upstream_dial_failures"`

	BytesFromClient   int64 `json:"bytes_from_client"`
	BytesFromUpstream int64 `json:"bytes_from_upstream"`

	MessagesDecoded    int64 `json:"messages_decoded"`
	FramingErrors      int64 `json:"framing_errors"`
	SubmitsSeen        int64 `json:"submits_seen"`
	SharesAccepted     int64 `json:"shares_accepted"`
	SharesRejected     int64 `json:"shares_rejected"`
	UnmatchedResponses int64 `json:"unmatched_responses"`

	PayoutsRecorded    int64 `json:"payouts_recorded"`
	EvaluationFailures int64 `json:"evaluation_failures"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:               uptime.Truncate(time.Second).String(),
		UptimeSeconds:        int64(uptime.Seconds()),
		ActiveConnections:    m.ActiveConnections.Load(),
		TotalConnections:     m.TotalConnections.Load(),
		TotalDisconnects:     m.TotalDisconnects.Load(),
		UpstreamDialFailures: m.UpstreamDialFailures.Load(),
		BytesFromClient:      m.BytesFromClient.Load(),
		BytesFromUpstream:    m.BytesFromUpstream.Load(),
		MessagesDecoded:      m.MessagesDecoded.Load(),
		FramingErrors:        m.FramingErrors.Load(),
		SubmitsSeen:          m.SubmitsSeen.Load(),
		SharesAccepted:       m.SharesAccepted.Load(),
		SharesRejected:       m.SharesRejected.Load(),
		UnmatchedResponses:   m.UnmatchedResponses.Load(),
		PayoutsRecorded:      m.PayoutsRecorded.Load(),
		EvaluationFailures:   m.EvaluationFailures.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"shares_accepted", s.SharesAccepted,
		"shares_rejected", s.SharesRejected,
		"payouts_recorded", s.PayoutsRecorded,
		"framing_errors", s.FramingErrors,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}

type counterDesc struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(*Metrics) int64
}

func newDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc("poolproxy_"+name, help, nil, nil)
}

var (
	uptimeDesc    = newDesc("uptime_seconds", "Proxy uptime in seconds.")
	buildInfoDesc = prometheus.NewDesc("poolproxy_build_info", "Build of the running proxy. Always 1.",
		[]string{"version", "commit", "goversion"}, nil)

	counterDescs = []counterDesc{
		{newDesc("connections_active", "Current relayed sessions."), prometheus.GaugeValue,
			func(m *Metrics) int64 { return m.ActiveConnections.Load() }},
		{newDesc("connections_total", "Lifetime miner connections accepted."), prometheus.CounterValue,
			func(m *Metrics) int64 { return m.TotalConnections.Load() }},
		{newDesc("disconnects_total", "Sessions torn down."), prometheus.CounterValue,
			func(m *Metrics) int64 { return m.TotalDisconnects.Load() }},
		{newDesc("upstream_dial_failures_total", "Upstream connections that could not be established."), prometheus.CounterValue,
			func(m *Metrics) int64 { return m.UpstreamDialFailures.Load() }},
		{newDesc("client_bytes_total", "Bytes relayed from miners to the pool."), prometheus.CounterValue,
			func(m *Metrics) int64 { return m.BytesFromClient.Load() }},
		{newDesc("upstream_bytes_total", "Bytes relayed from the pool to miners."), prometheus.CounterValue,
			func(m *Metrics) int64 { return m.BytesFromUpstream.Load() }},
		{newDesc("messages_decoded_total", "Stratum messages decoded in either direction."), prometheus.CounterValue,
			func(m *Metrics) int64 { return m.MessagesDecoded.Load() }},
		{newDesc("framing_errors_total", "Lines that could not be framed or decoded."), prometheus.CounterValue,
			func(m *Metrics) int64 { return m.FramingErrors.Load() }},
		{newDesc("submits_total", "mining.submit requests seen."), prometheus.CounterValue,
			func(m *Metrics) int64 { return m.SubmitsSeen.Load() }},
		{newDesc("shares_accepted_total", "Submits acknowledged without error."), prometheus.CounterValue,
			func(m *Metrics) int64 { return m.SharesAccepted.Load() }},
		{newDesc("shares_rejected_total", "Submits acknowledged with an error."), prometheus.CounterValue,
			func(m *Metrics) int64 { return m.SharesRejected.Load() }},
		{newDesc("unmatched_responses_total", "Upstream responses matching no pending submit."), prometheus.CounterValue,
			func(m *Metrics) int64 { return m.UnmatchedResponses.Load() }},
		{newDesc("payouts_recorded_total", "Payout records stored."), prometheus.CounterValue,
			func(m *Metrics) int64 { return m.PayoutsRecorded.Load() }},
		{newDesc("evaluation_failures_total", "Accepted shares that produced no payout record."), prometheus.CounterValue,
			func(m *Metrics) int64 { return m.EvaluationFailures.Load() }},
	}
)

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- uptimeDesc
	ch <- buildInfoDesc
	for _, c := range counterDescs {
		ch <- c.desc
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(uptimeDesc, prometheus.GaugeValue, time.Since(m.startTime).Seconds())
	build := version.Get()
	ch <- prometheus.MustNewConstMetric(buildInfoDesc, prometheus.GaugeValue, 1, build.String(), build.Commit, build.Go)
	for _, c := range counterDescs {
		ch <- prometheus.MustNewConstMetric(c.desc, c.kind, float64(c.value(m)))
	}
}
