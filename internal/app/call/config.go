package call

import (
	"time"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
)

type Timeouts struct {
	// Ringing bounds how long an invite waits for accept or decline.
	Ringing time.Duration
	// Connecting bounds how long a session may wait for its first link.
	Connecting time.Duration
	// Negotiation bounds each link's offer/answer/candidate exchange.
	Negotiation time.Duration
	// ErrorGrace is how long the error state stays visible before ended.
	ErrorGrace time.Duration
	// SignalingGrace is the tolerated signaling outage during a live call.
	SignalingGrace time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Ringing:        45 * time.Second,
		Connecting:     30 * time.Second,
		Negotiation:    20 * time.Second,
		ErrorGrace:     3 * time.Second,
		SignalingGrace: 15 * time.Second,
	}
}

type Config struct {
	Self     domain.Participant
	Timeouts Timeouts
	// Tick is the period of presentational duration events. Zero means one
	// second; negative disables ticks.
	Tick time.Duration
}

// Recorder receives session lifecycle counters. All methods must be cheap.
type Recorder interface {
	SessionStarted(mode domain.CallMode, dir domain.Direction)
	SessionActive(mode domain.CallMode)
	SessionEnded(final domain.State, reason string)
	LinkFailed(reason string)
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted(domain.CallMode, domain.Direction) {}
func (nopRecorder) SessionActive(domain.CallMode)                    {}
func (nopRecorder) SessionEnded(domain.State, string)                {}
func (nopRecorder) LinkFailed(string)                                {}
