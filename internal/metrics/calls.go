// Package metrics exposes prometheus counters for call sessions and the relay.
package metrics

import (
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Calls records session lifecycle transitions. It satisfies call.Recorder.
type Calls struct {
	started      *prometheus.CounterVec
	activated    *prometheus.CounterVec
	ended        *prometheus.CounterVec
	linkFailures *prometheus.CounterVec
	live         prometheus.Gauge
}

func NewCalls(reg prometheus.Registerer) *Calls {
	f := promauto.With(reg)
	return &Calls{
		started: f.NewCounterVec(prometheus.CounterOpts{
			Name: "call_sessions_started_total",
			Help: "Total number of call sessions started",
		}, []string{"mode", "direction"}),
		activated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "call_sessions_active_total",
			Help: "Total number of call sessions that reached active",
		}, []string{"mode"}),
		ended: f.NewCounterVec(prometheus.CounterOpts{
			Name: "call_sessions_ended_total",
			Help: "Total number of call sessions that ended, by final state and reason",
		}, []string{"state", "reason"}),
		linkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "call_link_failures_total",
			Help: "Total number of peer links that failed",
		}, []string{"reason"}),
		live: f.NewGauge(prometheus.GaugeOpts{
			Name: "call_sessions_live",
			Help: "Call sessions currently between start and their end",
		}),
	}
}

func (c *Calls) SessionStarted(mode domain.CallMode, dir domain.Direction) {
	c.started.WithLabelValues(string(mode), string(dir)).Inc()
	c.live.Inc()
}

func (c *Calls) SessionActive(mode domain.CallMode) {
	c.activated.WithLabelValues(string(mode)).Inc()
}

func (c *Calls) SessionEnded(final domain.State, reason string) {
	c.ended.WithLabelValues(string(final), reasonLabel(final, reason)).Inc()
	c.live.Dec()
}

func (c *Calls) LinkFailed(reason string) {
	c.linkFailures.WithLabelValues(reason).Inc()
}

// reasonLabel keeps free-form failure text out of label values.
func reasonLabel(final domain.State, reason string) string {
	switch reason {
	case string(domain.ReasonDeclined), string(domain.ReasonHangup), string(domain.ReasonFailed), domain.RingingTimeout:
		return reason
	case "":
		return "none"
	}
	if final == domain.StateError {
		return "error"
	}
	return "other"
}
