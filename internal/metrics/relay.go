package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay counts traffic through the signaling relay.
type Relay struct {
	connections prometheus.Gauge
	routed      *prometheus.CounterVec
	dropped     *prometheus.CounterVec
}

func NewRelay(reg prometheus.Registerer) *Relay {
	f := promauto.With(reg)
	return &Relay{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connections",
			Help: "Current number of connected participants",
		}),
		routed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_routed_total",
			Help: "Total number of frames delivered, by message type",
		}, []string{"type"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_dropped_total",
			Help: "Total number of frames dropped, by reason",
		}, []string{"reason"}),
	}
}

func (r *Relay) Connected()    { r.connections.Inc() }
func (r *Relay) Disconnected() { r.connections.Dec() }

func (r *Relay) Routed(msgType string) { r.routed.WithLabelValues(msgType).Inc() }

func (r *Relay) Dropped(reason string) { r.dropped.WithLabelValues(reason).Inc() }
