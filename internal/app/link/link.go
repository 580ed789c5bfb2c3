// Package link manages one negotiation object per remote participant.
//
// A Set is not safe for concurrent use: it is owned by the call machine
// loop. Callbacks raised by negotiation objects are forwarded through
// Config.Notify and fed back with Set.Handle from that same loop.
package link

import (
	"context"
	"fmt"
	"time"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/core"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Outbound ships negotiation messages for a link.
type Outbound interface {
	Offer(peer domain.ParticipantID, desc webrtc.SessionDescription, renegotiation bool) error
	Answer(peer domain.ParticipantID, desc webrtc.SessionDescription) error
	Candidate(peer domain.ParticipantID, c webrtc.ICECandidateInit) error
}

type Config struct {
	Session domain.SessionID
	// Self breaks offer glare: the side with the smaller id keeps its offer.
	Self               domain.ParticipantID
	Factory            core.MediaConnectionFactory
	Out                Outbound
	Notify             func(Event)
	NegotiationTimeout time.Duration
	// Tracks returns the local tracks attached to every new link.
	Tracks func() []core.LocalTrack
}

type EventKind int

const (
	EventCandidate EventKind = iota
	EventState
	EventTrack
	EventTimeout
)

// Event is raised from negotiation object callbacks.
type Event struct {
	Kind      EventKind
	Peer      domain.ParticipantID
	Serial    uint64
	Candidate webrtc.ICECandidateInit
	State     webrtc.PeerConnectionState
	Track     domain.TrackRef
}

// Outcome tells the machine what a step changed.
type Outcome struct {
	Peer      domain.ParticipantID
	Connected bool
	Failed    bool
	Err       error
	// Stream is a wholesale replacement of the peer's remote stream.
	Stream *domain.Stream
}

type Link struct {
	peer   domain.ParticipantID
	serial uint64
	conn   core.MediaConnection
	state  domain.NegotiationState

	connected    bool
	remoteSet    bool
	inRound      bool
	pendingReneg bool
	buffered     []webrtc.ICECandidateInit
	seen         map[string]struct{}
	tracks       []domain.TrackRef
	revision     uint64
	timer        *time.Timer
	offers       int
}

func (l *Link) Peer() domain.ParticipantID    { return l.peer }
func (l *Link) State() domain.NegotiationState { return l.state }
func (l *Link) Offers() int                   { return l.offers }
func (l *Link) Conn() core.MediaConnection    { return l.conn }

type Set struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	links  map[domain.ParticipantID]*Link
	early  map[domain.ParticipantID][]webrtc.ICECandidateInit
	serial uint64
}

func NewSet(ctx context.Context, cfg Config) *Set {
	ctx, cancel := context.WithCancel(ctx)
	if cfg.Notify == nil {
		cfg.Notify = func(Event) {}
	}
	if cfg.Tracks == nil {
		cfg.Tracks = func() []core.LocalTrack { return nil }
	}
	return &Set{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		links:  make(map[domain.ParticipantID]*Link),
		early:  make(map[domain.ParticipantID][]webrtc.ICECandidateInit),
	}
}

func (s *Set) Get(peer domain.ParticipantID) (*Link, bool) {
	l, ok := s.links[peer]
	return l, ok
}

func (s *Set) Len() int { return len(s.links) }

func (s *Set) Peers() []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(s.links))
	for p := range s.links {
		out = append(out, p)
	}
	return out
}

// Connected counts links whose transport reported a usable path.
func (s *Set) Connected() int {
	n := 0
	for _, l := range s.links {
		if l.connected {
			n++
		}
	}
	return n
}

// Open returns the link for peer, creating it and attaching local tracks
// on first use. The negotiation timeout starts here.
func (s *Set) Open(peer domain.ParticipantID) (*Link, error) {
	if l, ok := s.links[peer]; ok {
		return l, nil
	}
	conn, err := s.cfg.Factory.NewConnection(s.cfg.Session, peer)
	if err != nil {
		return nil, fmt.Errorf("new connection for %s: %w", peer, err)
	}
	s.serial++
	l := &Link{
		peer:   peer,
		serial: s.serial,
		conn:   conn,
		state:  domain.NegotiationNew,
		seen:   make(map[string]struct{}),
	}

	notify, serial := s.cfg.Notify, l.serial
	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		notify(Event{Kind: EventCandidate, Peer: peer, Serial: serial, Candidate: c})
	})
	conn.OnConnectionState(func(st webrtc.PeerConnectionState) {
		notify(Event{Kind: EventState, Peer: peer, Serial: serial, State: st})
	})
	conn.OnTrack(func(_ context.Context, tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		notify(Event{Kind: EventTrack, Peer: peer, Serial: serial, Track: remoteTrackRef(tr)})
	})
	if err := conn.Start(s.ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("start connection for %s: %w", peer, err)
	}
	for _, t := range s.cfg.Tracks() {
		if err := conn.AddLocalTrack(t.Track()); err != nil {
			conn.Close()
			return nil, fmt.Errorf("add %s track for %s: %w", t.Kind(), peer, err)
		}
	}
	if s.cfg.NegotiationTimeout > 0 {
		l.timer = time.AfterFunc(s.cfg.NegotiationTimeout, func() {
			notify(Event{Kind: EventTimeout, Peer: peer, Serial: serial})
		})
	}
	s.links[peer] = l

	log.Info().Str("module", "app.link").Str("sid", string(s.cfg.Session)).Str("peer", string(peer)).Msg("link opened")
	return l, nil
}

// Offer starts a negotiation round from this side.
func (s *Set) Offer(peer domain.ParticipantID) error {
	l, err := s.Open(peer)
	if err != nil {
		return err
	}
	return s.offer(l)
}

func (s *Set) offer(l *Link) error {
	if l.state == domain.NegotiationOfferSent {
		l.pendingReneg = true
		return nil
	}
	desc, err := l.conn.CreateAndSetOffer()
	if err != nil {
		return fmt.Errorf("create offer for %s: %w", l.peer, err)
	}
	reneg := l.connected
	l.state = domain.NegotiationOfferSent
	l.inRound = true
	l.offers++
	if err := s.cfg.Out.Offer(l.peer, *desc, reneg); err != nil {
		return err
	}
	log.Debug().Str("module", "app.link").Str("peer", string(l.peer)).Bool("renegotiation", reneg).Msg("offer sent")
	return nil
}

// AcceptOffer consumes a remote offer, creating the link if needed, and
// answers it.
func (s *Set) AcceptOffer(peer domain.ParticipantID, offer webrtc.SessionDescription) (Outcome, error) {
	l, err := s.Open(peer)
	if err != nil {
		return Outcome{Peer: peer}, err
	}
	if l.state == domain.NegotiationOfferSent {
		if s.cfg.Self < peer {
			log.Debug().Str("module", "app.link").Str("peer", string(peer)).Msg("offer glare, keeping own offer")
			return Outcome{Peer: peer}, nil
		}
		if err := s.rollback(l); err != nil {
			return Outcome{Peer: peer}, err
		}
	}
	answer, err := l.conn.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		return Outcome{Peer: peer}, fmt.Errorf("answer %s: %w", peer, err)
	}
	l.remoteSet = true
	s.flush(l)
	if err := s.cfg.Out.Answer(peer, *answer); err != nil {
		return Outcome{Peer: peer}, err
	}
	if !l.connected {
		l.state = domain.NegotiationAnswerPending
		l.inRound = true
		return Outcome{Peer: peer}, nil
	}
	l.state = domain.NegotiationConnected
	out := s.completeRound(l)
	return out, s.flushRenegotiation(l)
}

// rollback withdraws the outstanding local offer so the remote one can be
// answered. The withdrawn round is replayed once the link is stable again.
func (s *Set) rollback(l *Link) error {
	if err := l.conn.RollbackOffer(); err != nil {
		return fmt.Errorf("rollback offer to %s: %w", l.peer, err)
	}
	l.pendingReneg = true
	l.inRound = false
	if l.connected {
		l.state = domain.NegotiationConnected
	} else {
		l.state = domain.NegotiationNew
	}
	log.Debug().Str("module", "app.link").Str("peer", string(l.peer)).Msg("offer glare, rolled back own offer")
	return nil
}

// ApplyAnswer applies the answer for the outstanding offer. Answers with
// no offer outstanding are duplicates and ignored.
func (s *Set) ApplyAnswer(peer domain.ParticipantID, answer webrtc.SessionDescription) (Outcome, error) {
	l, ok := s.links[peer]
	if !ok || l.state != domain.NegotiationOfferSent {
		log.Debug().Str("module", "app.link").Str("peer", string(peer)).Msg("answer without outstanding offer dropped")
		return Outcome{Peer: peer}, nil
	}
	if err := l.conn.ApplyAnswer(answer); err != nil {
		return Outcome{Peer: peer}, fmt.Errorf("apply answer from %s: %w", peer, err)
	}
	l.remoteSet = true
	s.flush(l)
	if !l.connected {
		l.state = domain.NegotiationAnswerPending
		return Outcome{Peer: peer}, nil
	}
	l.state = domain.NegotiationConnected
	out := s.completeRound(l)
	return out, s.flushRenegotiation(l)
}

// AddRemoteCandidate applies or buffers a remote candidate. Replays and
// candidates for a connected link are no-ops.
func (s *Set) AddRemoteCandidate(peer domain.ParticipantID, c webrtc.ICECandidateInit) error {
	l, ok := s.links[peer]
	if !ok {
		s.early[peer] = append(s.early[peer], c)
		return nil
	}
	return s.addCandidate(l, c)
}

func (s *Set) addCandidate(l *Link, c webrtc.ICECandidateInit) error {
	if l.state == domain.NegotiationConnected || l.state.Terminal() {
		return nil
	}
	key := candidateKey(c)
	if _, dup := l.seen[key]; dup {
		return nil
	}
	l.seen[key] = struct{}{}
	if !l.remoteSet {
		l.buffered = append(l.buffered, c)
		return nil
	}
	if err := l.conn.AddICECandidate(c); err != nil {
		return fmt.Errorf("add candidate from %s: %w", l.peer, err)
	}
	return nil
}

// flush applies candidates that arrived before the remote description.
func (s *Set) flush(l *Link) {
	pending := append(s.early[l.peer], l.buffered...)
	delete(s.early, l.peer)
	l.buffered = nil
	for _, c := range pending {
		if err := s.addCandidate(l, c); err != nil {
			log.Warn().Str("module", "app.link").Str("peer", string(l.peer)).Err(err).Msg("buffered candidate rejected")
		}
	}
}

// Renegotiate repeats the offer/answer exchange on an existing link. A
// request made while a round is outstanding runs once that round ends.
func (s *Set) Renegotiate(peer domain.ParticipantID) error {
	l, ok := s.links[peer]
	if !ok {
		return nil
	}
	if l.inRound || !l.connected {
		l.pendingReneg = true
		return nil
	}
	return s.offer(l)
}

func (s *Set) flushRenegotiation(l *Link) error {
	if !l.pendingReneg || l.inRound || !l.connected {
		return nil
	}
	l.pendingReneg = false
	return s.offer(l)
}

// ReplaceTrack swaps the outgoing track of kind on every link.
func (s *Set) ReplaceTrack(kind domain.MediaKind, track core.LocalTrack) {
	var tl webrtc.TrackLocal
	if track != nil {
		tl = track.Track()
	}
	for _, l := range s.links {
		if err := l.conn.ReplaceLocalTrack(kind, tl); err != nil {
			log.Warn().Str("module", "app.link").Str("peer", string(l.peer)).Err(err).Msg("replace track")
		}
	}
}

// Handle folds one callback event into link state.
func (s *Set) Handle(ev Event) (Outcome, error) {
	out := Outcome{Peer: ev.Peer}
	l, ok := s.links[ev.Peer]
	if !ok || l.serial != ev.Serial {
		return out, nil
	}

	switch ev.Kind {
	case EventCandidate:
		return out, s.cfg.Out.Candidate(l.peer, ev.Candidate)

	case EventTrack:
		l.tracks = append(l.tracks, ev.Track)
		if l.connected && !l.inRound {
			return s.emit(l), nil
		}

	case EventTimeout:
		if l.connected {
			return out, nil
		}
		s.fail(l)
		out.Failed = true
		out.Err = fmt.Errorf("link %s: %w", l.peer, domain.ErrNegotiationTimeout)
		return out, nil

	case EventState:
		switch ev.State {
		case webrtc.PeerConnectionStateConnected:
			if l.connected {
				return out, nil
			}
			l.connected = true
			l.state = domain.NegotiationConnected
			if l.timer != nil {
				l.timer.Stop()
			}
			out = s.completeRound(l)
			out.Connected = true
			return out, s.flushRenegotiation(l)

		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.fail(l)
			out.Failed = true
			out.Err = fmt.Errorf("link %s transport %s", l.peer, ev.State)
			return out, nil
		}
	}
	return out, nil
}

func (s *Set) completeRound(l *Link) Outcome {
	l.inRound = false
	return s.emit(l)
}

func (s *Set) emit(l *Link) Outcome {
	l.revision++
	st := &domain.Stream{
		ID:       "remote-" + string(l.peer),
		Owner:    l.peer,
		Revision: l.revision,
		Tracks:   append([]domain.TrackRef(nil), l.tracks...),
	}
	return Outcome{Peer: l.peer, Stream: st}
}

func (s *Set) fail(l *Link) {
	s.drop(l)
	l.state = domain.NegotiationFailed
	log.Warn().Str("module", "app.link").Str("sid", string(s.cfg.Session)).Str("peer", string(l.peer)).Msg("link failed")
}

// Close tears down the link to peer. Closing an unknown peer is a no-op.
func (s *Set) Close(peer domain.ParticipantID) bool {
	l, ok := s.links[peer]
	if !ok {
		delete(s.early, peer)
		return false
	}
	s.drop(l)
	l.state = domain.NegotiationClosed
	return true
}

func (s *Set) drop(l *Link) {
	if l.timer != nil {
		l.timer.Stop()
	}
	delete(s.links, l.peer)
	delete(s.early, l.peer)
	l.conn.Close()
}

// CloseAll releases every link and returns how many were open.
func (s *Set) CloseAll() int {
	n := len(s.links)
	for _, l := range s.links {
		s.drop(l)
		l.state = domain.NegotiationClosed
	}
	s.early = make(map[domain.ParticipantID][]webrtc.ICECandidateInit)
	s.cancel()
	return n
}

func candidateKey(c webrtc.ICECandidateInit) string {
	key := c.Candidate
	if c.SDPMid != nil {
		key += "|" + *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		key += fmt.Sprintf("|%d", *c.SDPMLineIndex)
	}
	return key
}

func remoteTrackRef(tr *webrtc.TrackRemote) domain.TrackRef {
	kind := domain.MediaAudio
	if tr.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.MediaVideo
	}
	return domain.TrackRef{
		ID:      tr.ID(),
		Kind:    kind,
		Source:  domain.SourceRemote,
		Enabled: true,
		Handle:  tr,
	}
}
