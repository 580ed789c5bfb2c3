package coretest

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/core"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/pion/webrtc/v4"
)

// ErrHaveLocalOffer mirrors the signaling state error a real connection
// returns for a remote offer while its own offer is outstanding.
var ErrHaveLocalOffer = errors.New("remote offer while local offer outstanding")

// Conn is a scripted negotiation object. It reports connected once both
// descriptions are set unless it was created stalled.
type Conn struct {
	Peer  domain.ParticipantID
	stall bool

	mu         sync.Mutex
	offers     int
	answers    int
	applied    int
	rollbacks  int
	offerOut   bool
	candidates []webrtc.ICECandidateInit
	replaced   []domain.MediaKind
	added      int
	closed     bool
	connected  bool
	local      bool
	remote     bool

	onICE    func(webrtc.ICECandidateInit)
	onState  func(webrtc.PeerConnectionState)
	onClosed func()
}

func (c *Conn) Start(context.Context) error { return nil }

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cb := c.onClosed
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	c.offers++
	c.local = true
	c.offerOut = true
	n := c.offers
	c.mu.Unlock()
	c.gather(n)
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + string(c.Peer)}, nil
}

func (c *Conn) ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	if c.offerOut {
		c.mu.Unlock()
		return nil, ErrHaveLocalOffer
	}
	c.answers++
	c.local, c.remote = true, true
	n := c.answers
	c.mu.Unlock()
	c.gather(n)
	c.maybeConnect()
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + string(c.Peer)}, nil
}

func (c *Conn) ApplyAnswer(webrtc.SessionDescription) error {
	c.mu.Lock()
	c.applied++
	c.remote = true
	c.offerOut = false
	c.mu.Unlock()
	c.maybeConnect()
	return nil
}

func (c *Conn) RollbackOffer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offerOut {
		c.offerOut = false
		c.rollbacks++
	}
	return nil
}

func (c *Conn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, ci)
	return nil
}

func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *Conn) OnTrack(func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (c *Conn) OnConnectionState(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *Conn) OnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

func (c *Conn) AddLocalTrack(webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.added++
	return nil
}

func (c *Conn) ReplaceLocalTrack(kind domain.MediaKind, _ webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replaced = append(c.replaced, kind)
	return nil
}

// SetState drives the connection state callback as the transport would.
func (c *Conn) SetState(s webrtc.PeerConnectionState) {
	c.mu.Lock()
	if s == webrtc.PeerConnectionStateConnected {
		c.connected = true
	}
	cb := c.onState
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

func (c *Conn) gather(n int) {
	c.mu.Lock()
	cb := c.onICE
	c.mu.Unlock()
	if cb == nil {
		return
	}
	mid := "0"
	idx := uint16(0)
	cand := webrtc.ICECandidateInit{
		Candidate:     "candidate:" + string(c.Peer) + "-" + strconv.Itoa(n) + " 1 udp 1 127.0.0.1 9 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
	go cb(cand)
}

func (c *Conn) maybeConnect() {
	c.mu.Lock()
	ready := c.local && c.remote && !c.connected && !c.stall && !c.closed
	if ready {
		c.connected = true
	}
	cb := c.onState
	c.mu.Unlock()
	if ready && cb != nil {
		go cb(webrtc.PeerConnectionStateConnected)
	}
}

func (c *Conn) Offers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers
}

func (c *Conn) Answers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answers
}

func (c *Conn) Rollbacks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbacks
}

func (c *Conn) Candidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.candidates...)
}

func (c *Conn) Replaced() []domain.MediaKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.MediaKind(nil), c.replaced...)
}

func (c *Conn) AddedTracks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.added
}

var _ core.MediaConnection = (*Conn)(nil)

// Factory builds Conns and keeps every one it built.
type Factory struct {
	mu    sync.Mutex
	conns []*Conn
	stall map[domain.ParticipantID]bool
	// Manual disables auto-connect on every Conn; tests call SetState.
	Manual bool
}

// Stall makes links to peer never connect on their own.
func (f *Factory) Stall(peer domain.ParticipantID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stall == nil {
		f.stall = make(map[domain.ParticipantID]bool)
	}
	f.stall[peer] = true
}

func (f *Factory) NewConnection(_ domain.SessionID, peer domain.ParticipantID) (core.MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &Conn{Peer: peer, stall: f.Manual || f.stall[peer]}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *Factory) Conns() []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Conn(nil), f.conns...)
}

// Last returns the most recent Conn built for peer.
func (f *Factory) Last(peer domain.ParticipantID) *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.conns) - 1; i >= 0; i-- {
		if f.conns[i].Peer == peer {
			return f.conns[i]
		}
	}
	return nil
}
