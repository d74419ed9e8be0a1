package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime         time.Time
	requests          atomic.Int64
	serverErrors      atomic.Int64
	clientErrors      atomic.Int64
	pullRequests      atomic.Int64
	overridesAccepted atomic.Int64
	toggleWrites      atomic.Int64
	rateLimited       atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	Requests          int64   `json:"requests"`
	ServerErrors      int64   `json:"server_errors"`
	ClientErrors      int64   `json:"client_errors"`
	PullRequests      int64   `json:"pull_requests"`
	OverridesAccepted int64   `json:"overrides_accepted"`
	ToggleWrites      int64   `json:"toggle_writes"`
	RateLimited       int64   `json:"rate_limited"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

// RecordPullRequest increments the pull request counter.
func (m *Metrics) RecordPullRequest() {
	m.pullRequests.Add(1)
}

// RecordOverrides adds n to the accepted override counter.
func (m *Metrics) RecordOverrides(n int64) {
	m.overridesAccepted.Add(n)
}

// RecordToggleWrite counts an admin upsert or delete.
func (m *Metrics) RecordToggleWrite() {
	m.toggleWrites.Add(1)
}

// RecordRateLimited counts a rejected request.
func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Add(1)
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:     time.Since(m.startTime).Seconds(),
		Requests:          m.requests.Load(),
		ServerErrors:      m.serverErrors.Load(),
		ClientErrors:      m.clientErrors.Load(),
		PullRequests:      m.pullRequests.Load(),
		OverridesAccepted: m.overridesAccepted.Load(),
		ToggleWrites:      m.toggleWrites.Load(),
		RateLimited:       m.rateLimited.Load(),
	}
}
