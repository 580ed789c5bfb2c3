package rtc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/core"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrConnectionClosed = errors.New("webrtc connection closed")

// pliInterval is how often a keyframe is requested on remote video.
const pliInterval = 3 * time.Second

// WebRTCConnection is the pion-backed negotiation object for one peer link.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	sid    domain.SessionID
	peer   domain.ParticipantID
	cancel context.CancelFunc
	log    zerolog.Logger

	mu       sync.Mutex
	closed   bool
	onICE    func(webrtc.ICECandidateInit)
	onState  func(webrtc.PeerConnectionState)
	onTrack  func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onClosed func()

	closedOnce sync.Once
}

var _ core.MediaConnection = (*WebRTCConnection)(nil)

func newConnection(pc *webrtc.PeerConnection, sid domain.SessionID, peer domain.ParticipantID) *WebRTCConnection {
	return &WebRTCConnection{
		pc:   pc,
		sid:  sid,
		peer: peer,
		log:  log.With().Str("module", "webrtc").Str("sid", string(sid)).Str("peer", string(peer)).Logger(),
	}
}

func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return ErrConnectionClosed
	}
	c.cancel = cancel
	c.mu.Unlock()

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.log.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(s)
		}
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.fireClosed()
		}
	})

	// Candidates trickle out as they are gathered; nothing waits for
	// gathering to complete.
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go c.requestKeyframes(ctx, track)
		}
		go drainRTCP(receiver)
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(ctx, track, receiver)
		}
	})

	return nil
}

// requestKeyframes sends a PLI right away and then periodically, so the
// remote encoder recovers from loss without waiting for its own keyframe.
func (c *WebRTCConnection) requestKeyframes(ctx context.Context, track *webrtc.TrackRemote) {
	send := func() error {
		return c.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		})
	}
	if err := send(); err != nil {
		return
	}
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := send(); err != nil {
				return
			}
		}
	}
}

// drainRTCP keeps interceptors fed; pion needs inbound RTCP to be read.
func drainRTCP(receiver *webrtc.RTPReceiver) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := receiver.Read(buf); err != nil {
			return
		}
	}
}

func (c *WebRTCConnection) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	if c.IsClosed() {
		return nil, ErrConnectionClosed
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if c.IsClosed() {
		return nil, ErrConnectionClosed
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

// RollbackOffer discards the outstanding local offer and returns the
// connection to the stable signaling state.
func (c *WebRTCConnection) RollbackOffer() error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	pending := c.pc.PendingLocalDescription()
	if c.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer || pending == nil {
		return nil
	}
	// pion parses the SDP of every local description, rollbacks included
	return c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback, SDP: pending.SDP})
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	return c.pc.SetRemoteDescription(answer)
}

func (c *WebRTCConnection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := c.pc.Close(); err != nil {
		c.log.Error().Err(err).Msg("close error")
	} else {
		c.log.Info().Msg("closed")
	}
	c.fireClosed()
}

func (c *WebRTCConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *WebRTCConnection) fireClosed() {
	c.closedOnce.Do(func() {
		c.mu.Lock()
		fn := c.onClosed
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnConnectionState(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

// OnClosed sets application-level callback for cleanup. It fires once.
func (c *WebRTCConnection) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

// AddLocalTrack attaches a local track to the PeerConnection.
func (c *WebRTCConnection) AddLocalTrack(track webrtc.TrackLocal) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	_, err := c.pc.AddTrack(track)
	return err
}

// ReplaceLocalTrack swaps the source of the sender carrying kind. Senders
// are found by transceiver kind, so one whose track was cleared is reused.
// Without such a sender the track is added and the caller must renegotiate.
func (c *WebRTCConnection) ReplaceLocalTrack(kind domain.MediaKind, track webrtc.TrackLocal) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	want := codecType(kind)
	for _, t := range c.pc.GetTransceivers() {
		if s := t.Sender(); s != nil && t.Kind() == want {
			return s.ReplaceTrack(track)
		}
	}
	if track == nil {
		return nil
	}
	_, err := c.pc.AddTrack(track)
	return err
}

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.MediaVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}
