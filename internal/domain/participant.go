// Package domain contains call entities without logic, just meta-data
package domain

import (
	"errors"
	"time"
)

const (
	MaxParticipantIDLen = 64
	MaxDisplayNameLen   = 64
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrParticipantIDEmpty = errors.New("participant id empty")
	ErrParticipantIDLong  = errors.New("participant id too long")
)

type ParticipantID string

// LocalID is how the registry addresses this client's own participant.
const LocalID ParticipantID = "local"

func (id ParticipantID) Validate() error {
	if len(id) == 0 {
		return ErrParticipantIDEmpty
	}
	if len(id) > MaxParticipantIDLen {
		return ErrParticipantIDLong
	}
	return nil
}

// Participant is one call member as observers see it.
// Streams are not carried here; they are published separately.
type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"displayName"`
	AvatarRef   string        `json:"avatarRef,omitempty"`
	IsMuted     bool          `json:"isMuted"`
	IsCameraOn  bool          `json:"isCameraOn"`
	JoinedAt    time.Time     `json:"joinedAt"`
}

// NewParticipant keeps construction obvious and validates presentation metadata.
func NewParticipant(id ParticipantID, displayName, avatarRef string) (Participant, error) {
	if err := id.Validate(); err != nil {
		return Participant{}, err
	}
	if len(displayName) > MaxDisplayNameLen {
		return Participant{}, ErrDisplayNameTooLong
	}
	if displayName == "" {
		displayName = string(id)
	}
	return Participant{ID: id, DisplayName: displayName, AvatarRef: avatarRef}, nil
}
