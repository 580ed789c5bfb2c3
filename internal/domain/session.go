package domain

import (
	"time"

	"github.com/google/uuid"
)

type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

type CallKind string

const (
	KindAudio CallKind = "audio"
	KindVideo CallKind = "video"
)

func (k CallKind) Valid() bool { return k == KindAudio || k == KindVideo }

type CallMode string

const (
	ModeDirect CallMode = "direct"
	ModeGroup  CallMode = "group"
)

func (m CallMode) Valid() bool { return m == ModeDirect || m == ModeGroup }

// Direction tells whether the ringing phase waits on the remote side or on us.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

type EndReason string

const (
	ReasonDeclined EndReason = "declined"
	ReasonHangup   EndReason = "hangup"
	ReasonFailed   EndReason = "failed"
)

func (r EndReason) Valid() bool {
	switch r {
	case ReasonDeclined, ReasonHangup, ReasonFailed:
		return true
	}
	return false
}

// RingingTimeout is the local end reason when nobody answered in time.
// It is never sent on the wire.
const RingingTimeout = "ringing timeout"

// Session is the single source of truth for one call attempt.
type Session struct {
	ID        SessionID     `json:"id"`
	Kind      CallKind      `json:"kind"`
	Mode      CallMode      `json:"mode"`
	State     State         `json:"state"`
	Direction Direction     `json:"direction"`
	Initiator ParticipantID `json:"initiator"`
	// Target is the peer id (direct) or the group id (group) the call was started for.
	Target    string    `json:"target,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Duration is presentational only.
func (s Session) Duration(now time.Time) time.Duration {
	if s.StartedAt.IsZero() || s.State != StateActive {
		return 0
	}
	return now.Sub(s.StartedAt)
}
