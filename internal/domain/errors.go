package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDevice               = errors.New("media device unavailable")
	ErrNegotiationTimeout   = errors.New("negotiation timeout")
	ErrSignalingUnavailable = errors.New("signaling unavailable")
	ErrProtocolViolation    = errors.New("protocol violation")

	ErrCallInProgress    = errors.New("call already in progress")
	ErrInvalidTransition = errors.New("intent not valid in current state")
	ErrNoActiveCall      = errors.New("no active call")
	ErrNoLocalMedia      = errors.New("no local media")
)

// DeviceError reports a failed capture for the given call kind.
type DeviceError struct {
	Kind CallKind
	Err  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("acquire %s media: %v", e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func (e *DeviceError) Is(target error) bool { return target == ErrDevice }
