package assetlock

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates the allocator's claim counters. A nil *Metrics is valid
// and turns every recording call into a no-op, so embedding programs only pay
// for what they scrape.
type Metrics struct {
	ClaimAttempts  prometheus.Counter
	ClaimSuccesses prometheus.Counter
	ClaimContended prometheus.Counter
	Releases       prometheus.Counter
	WaitTimeouts   prometheus.Counter
}

// NewMetrics builds and registers the counters with reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ClaimAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assetlock",
			Name:      "claim_attempts_total",
			Help:      "Reserve attempts issued against the lock service.",
		}),
		ClaimSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assetlock",
			Name:      "claim_successes_total",
			Help:      "Reserve attempts that produced an owned asset.",
		}),
		ClaimContended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assetlock",
			Name:      "claim_contended_total",
			Help:      "Reserve attempts lost to remote contention.",
		}),
		Releases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assetlock",
			Name:      "releases_total",
			Help:      "Assets released after workflow completion.",
		}),
		WaitTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assetlock",
			Name:      "wait_timeouts_total",
			Help:      "Claim attempts abandoned on wait-for-free timeout.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ClaimAttempts, m.ClaimSuccesses, m.ClaimContended, m.Releases, m.WaitTimeouts)
	}
	return m
}

func (m *Metrics) claimAttempt() {
	if m == nil {
		return
	}
	m.ClaimAttempts.Inc()
}

func (m *Metrics) claimSuccess() {
	if m == nil {
		return
	}
	m.ClaimSuccesses.Inc()
}

func (m *Metrics) claimContended() {
	if m == nil {
		return
	}
	m.ClaimContended.Inc()
}

func (m *Metrics) released() {
	if m == nil {
		return
	}
	m.Releases.Inc()
}

func (m *Metrics) waitTimeout() {
	if m == nil {
		return
	}
	m.WaitTimeouts.Inc()
}
