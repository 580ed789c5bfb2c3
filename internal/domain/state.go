package domain

type State string

const (
	StateIdle       State = "idle"
	StateInitiating State = "initiating"
	StateRinging    State = "ringing"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateEnded      State = "ended"
	StateError      State = "error"
)

// Rest reports whether a fresh call may start from s.
func (s State) Rest() bool { return s == StateIdle || s == StateEnded }

var transitions = map[State][]State{
	StateIdle:       {StateInitiating},
	StateEnded:      {StateInitiating},
	StateInitiating: {StateRinging, StateConnecting, StateEnded, StateError},
	StateRinging:    {StateConnecting, StateEnded, StateError},
	StateConnecting: {StateActive, StateEnded, StateError},
	StateActive:     {StateActive, StateEnded, StateError},
	StateError:      {StateEnded},
}

// CanTransition is the legal transition table of the call state machine.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NegotiationState is the per-link negotiation progress.
type NegotiationState string

const (
	NegotiationNew           NegotiationState = "new"
	NegotiationOfferSent     NegotiationState = "offer-sent"
	NegotiationAnswerPending NegotiationState = "answer-pending"
	NegotiationConnected     NegotiationState = "connected"
	NegotiationFailed        NegotiationState = "failed"
	NegotiationClosed        NegotiationState = "closed"
)

func (s NegotiationState) Terminal() bool {
	return s == NegotiationFailed || s == NegotiationClosed
}
