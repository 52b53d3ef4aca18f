// Package metrics keeps in-memory counters for the approval lifecycle.
package metrics

import (
	"sync"
	"time"
)

var latencyBucketUpperBoundsMs = []int64{
	1000, 5000, 15000, 30000, 60000, 120000, 300000,
}

// Snapshot contains aggregated lifecycle counters.
type Snapshot struct {
	StartedAt time.Time     `json:"started_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Requests  RequestStats  `json:"requests"`
	Redeem    RedeemStats   `json:"redeem"`
	Channel   ChannelStats  `json:"channel"`
	Decision  DecisionStats `json:"decision"`
}

// RequestStats counts requests by outcome.
type RequestStats struct {
	Created  int64 `json:"created"`
	Approved int64 `json:"approved"`
	Denied   int64 `json:"denied"`
	Expired  int64 `json:"expired"`
}

// DecidedRatio returns approved+denied over created in [0,1].
func (r RequestStats) DecidedRatio() float64 {
	if r.Created <= 0 {
		return 0
	}
	return float64(r.Approved+r.Denied) / float64(r.Created)
}

// RedeemStats counts token redemption attempts.
type RedeemStats struct {
	Attempts  int64            `json:"attempts"`
	Accepted  int64            `json:"accepted"`
	Rejected  map[string]int64 `json:"rejected,omitempty"`
	FailClose int64            `json:"fail_closed"`
}

// ChannelStats tracks prompt delivery.
type ChannelStats struct {
	PublishAttempts int64 `json:"publish_attempts"`
	PublishFailures int64 `json:"publish_failures"`
	UpdateFailures  int64 `json:"update_failures"`
}

// FailureRatio returns publish failures/attempts in [0,1].
func (c ChannelStats) FailureRatio() float64 {
	if c.PublishAttempts <= 0 {
		return 0
	}
	return float64(c.PublishFailures) / float64(c.PublishAttempts)
}

// DecisionStats tracks how long humans take to decide.
type DecisionStats struct {
	Total             int64 `json:"total"`
	TotalLatencyMs    int64 `json:"total_latency_ms"`
	MaxLatencyMs      int64 `json:"max_latency_ms"`
	P95ProxyLatencyMs int64 `json:"p95_proxy_latency_ms"`
}

// AvgLatencyMs returns average decision latency in milliseconds.
func (d DecisionStats) AvgLatencyMs() float64 {
	if d.Total <= 0 {
		return 0
	}
	return float64(d.TotalLatencyMs) / float64(d.Total)
}

// Recorder aggregates lifecycle metrics. A nil Recorder is a no-op.
type Recorder struct {
	now func() time.Time

	mu      sync.Mutex
	snap    Snapshot
	buckets []int64
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	now := time.Now().UTC()
	return &Recorder{
		now:     time.Now,
		snap:    Snapshot{StartedAt: now, UpdatedAt: now},
		buckets: make([]int64, len(latencyBucketUpperBoundsMs)+1),
	}
}

// Snapshot returns a copy of the current counters.
func (m *Recorder) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snap
	if m.snap.Redeem.Rejected != nil {
		snap.Redeem.Rejected = make(map[string]int64, len(m.snap.Redeem.Rejected))
		for k, v := range m.snap.Redeem.Rejected {
			snap.Redeem.Rejected[k] = v
		}
	}
	return snap
}

// RecordRequestCreated counts a new pending request.
func (m *Recorder) RecordRequestCreated() {
	m.update(func(s *Snapshot) { s.Requests.Created++ })
}

// RecordTransition counts a terminal status. Human decisions also feed the
// decision latency histogram.
func (m *Recorder) RecordTransition(status string, latency time.Duration) {
	if m == nil {
		return
	}
	latencyMs := latency.Milliseconds()
	if latencyMs < 0 {
		latencyMs = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.UpdatedAt = m.now().UTC()
	switch status {
	case "approved":
		m.snap.Requests.Approved++
	case "denied":
		m.snap.Requests.Denied++
	case "expired":
		m.snap.Requests.Expired++
		return
	default:
		return
	}

	m.snap.Decision.Total++
	m.snap.Decision.TotalLatencyMs += latencyMs
	if latencyMs > m.snap.Decision.MaxLatencyMs {
		m.snap.Decision.MaxLatencyMs = latencyMs
	}
	m.buckets[latencyBucketIndex(latencyMs)]++
	m.snap.Decision.P95ProxyLatencyMs = p95ProxyFromBuckets(m.buckets, m.snap.Decision.Total)
}

// RecordRedeem counts a redemption outcome. reason is empty on success.
func (m *Recorder) RecordRedeem(accepted bool, reason string) {
	m.update(func(s *Snapshot) {
		s.Redeem.Attempts++
		if accepted {
			s.Redeem.Accepted++
			return
		}
		if s.Redeem.Rejected == nil {
			s.Redeem.Rejected = make(map[string]int64)
		}
		s.Redeem.Rejected[reason]++
	})
}

// RecordFailClosed counts a redemption denied because the gate was unavailable.
func (m *Recorder) RecordFailClosed() {
	m.update(func(s *Snapshot) { s.Redeem.FailClose++ })
}

// RecordPublish counts a prompt publish attempt.
func (m *Recorder) RecordPublish(success bool) {
	m.update(func(s *Snapshot) {
		s.Channel.PublishAttempts++
		if !success {
			s.Channel.PublishFailures++
		}
	})
}

// RecordUpdateFailure counts a prompt that could not be refreshed.
func (m *Recorder) RecordUpdateFailure() {
	m.update(func(s *Snapshot) { s.Channel.UpdateFailures++ })
}

func (m *Recorder) update(fn func(*Snapshot)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.UpdatedAt = m.now().UTC()
	fn(&m.snap)
}

func latencyBucketIndex(latencyMs int64) int {
	for i, upper := range latencyBucketUpperBoundsMs {
		if latencyMs <= upper {
			return i
		}
	}
	return len(latencyBucketUpperBoundsMs)
}

func p95ProxyFromBuckets(buckets []int64, total int64) int64 {
	if total <= 0 {
		return 0
	}
	target := int64(float64(total) * 0.95)
	if target <= 0 {
		target = 1
	}

	var cumulative int64
	for i, count := range buckets {
		cumulative += count
		if cumulative < target {
			continue
		}
		if i >= len(latencyBucketUpperBoundsMs) {
			return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
		}
		return latencyBucketUpperBoundsMs[i]
	}
	return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
}
