package core

import (
	"context"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/pion/webrtc/v4"
)

// MediaConnection is the negotiation object owned by exactly one peer link.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool

	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// ApplyOfferAndCreateAnswer sets the remote offer and the local answer.
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	// RollbackOffer drops an outstanding local offer. Without one it is a no-op.
	RollbackOffer() error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error

	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	OnConnectionState(func(webrtc.PeerConnectionState))
	// OnClosed sets a callback for cleanup media session.
	OnClosed(func())

	// AddLocalTrack attaches a local track to the underlying PeerConnection.
	AddLocalTrack(track webrtc.TrackLocal) error
	// ReplaceLocalTrack swaps the sender of the given kind to a new source.
	ReplaceLocalTrack(kind domain.MediaKind, track webrtc.TrackLocal) error
}

type MediaConnectionFactory interface {
	NewConnection(sid domain.SessionID, peer domain.ParticipantID) (MediaConnection, error)
}
