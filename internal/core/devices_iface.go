package core

import (
	"context"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/pion/webrtc/v4"
)

// LocalTrack is one captured device track. Enablement is local only and
// never requires renegotiation.
type LocalTrack interface {
	ID() string
	Kind() domain.MediaKind
	Source() domain.TrackSource
	SetEnabled(bool)
	Enabled() bool
	// Stop releases the device. Implementations tolerate repeated calls.
	Stop() error
	// Track is what gets attached to negotiation objects.
	Track() webrtc.TrackLocal
}

type MediaDevices interface {
	// UserMedia opens the microphone, plus the camera for video calls.
	UserMedia(ctx context.Context, kind domain.CallKind) ([]LocalTrack, error)
	// DisplayMedia opens a screen capture video track.
	DisplayMedia(ctx context.Context) (LocalTrack, error)
}

// Directory resolves a group id to its member ids.
type Directory interface {
	Members(ctx context.Context, groupID string) ([]domain.ParticipantID, error)
}
