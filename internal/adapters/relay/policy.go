package relay

import "github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	Disconnect
)

// Policy decides what happens to a participant whose send queue is full.
// strikes counts consecutive dropped frames for that participant.
type Policy interface {
	OnBackpressure(id domain.ParticipantID, strikes int) BackpressureAction
}

// SimplePolicy drops frames and disconnects after MaxStrikes in a row.
type SimplePolicy struct {
	MaxStrikes int
}

func (p SimplePolicy) OnBackpressure(_ domain.ParticipantID, strikes int) BackpressureAction {
	if p.MaxStrikes > 0 && strikes >= p.MaxStrikes {
		return Disconnect
	}
	return DropFrame
}
