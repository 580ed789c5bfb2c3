package call

import (
	"errors"
	"fmt"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/adapters/signal"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app/link"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/rs/zerolog/log"
)

var _ signal.Handler = (*Machine)(nil)

// OnInvite marks the session as announced before queueing, so frames the
// inviter sends right behind the invite pass the session filter.
func (m *Machine) OnInvite(msg signal.Message, p signal.InvitePayload) {
	m.announce(msg.SessionID, 1)
	if !m.post(func() {
		m.handleInvite(msg, p)
		m.announce(msg.SessionID, -1)
	}) {
		m.announce(msg.SessionID, -1)
	}
}

func (m *Machine) announce(sid domain.SessionID, delta int) {
	m.viewMu.Lock()
	defer m.viewMu.Unlock()
	if n := m.announced[sid] + delta; n > 0 {
		m.announced[sid] = n
	} else {
		delete(m.announced, sid)
	}
}

func (m *Machine) OnAnswer(msg signal.Message, p signal.AnswerPayload) {
	m.post(func() { m.handleAnswer(msg, p) })
}

func (m *Machine) OnCandidate(msg signal.Message, p signal.CandidatePayload) {
	m.post(func() {
		if !m.current(msg) {
			return
		}
		if err := m.links.AddRemoteCandidate(msg.SenderID, p.Candidate); err != nil {
			log.Warn().Str("module", "app.call").Str("sid", string(msg.SessionID)).Str("peer", string(msg.SenderID)).Err(err).Msg("candidate")
		}
	})
}

func (m *Machine) OnParticipantJoined(msg signal.Message, p signal.JoinedPayload) {
	m.post(func() { m.handleJoined(msg, p) })
}

func (m *Machine) OnParticipantLeft(msg signal.Message, p signal.LeftPayload) {
	m.post(func() {
		if !m.current(msg) {
			return
		}
		// only a participant may announce its own departure
		if p.ParticipantID != msg.SenderID {
			log.Warn().Str("module", "app.call").Str("sid", string(msg.SessionID)).Str("peer", string(msg.SenderID)).Msg("participant-left for someone else dropped")
			return
		}
		m.removeRemote(msg.SenderID, string(domain.ReasonHangup))
	})
}

func (m *Machine) OnEnd(msg signal.Message, p signal.EndPayload) {
	m.post(func() {
		if !m.current(msg) {
			return
		}
		m.removeRemote(msg.SenderID, string(p.Reason))
	})
}

func (m *Machine) OnSignalingStatus(up bool) {
	m.post(func() {
		if up {
			if m.signalTimer != nil {
				log.Info().Str("module", "app.call").Str("sid", string(m.sess.ID)).Msg("signaling restored")
			}
			m.stopTimer(&m.signalTimer)
			return
		}
		if m.sess.State.Rest() || m.sess.State == domain.StateError || m.signalTimer != nil {
			return
		}
		log.Warn().Str("module", "app.call").Str("sid", string(m.sess.ID)).Msg("signaling lost")
		m.signalTimer = m.after(m.cfg.Timeouts.SignalingGrace, func() {
			m.signalTimer = nil
			m.fail(fmt.Errorf("%w: %w", domain.ErrSignalingUnavailable, domain.ErrNegotiationTimeout))
		})
	})
}

// current reports whether msg belongs to the live session. Late messages
// for a finished session are an expected race and are dropped.
func (m *Machine) current(msg signal.Message) bool {
	if msg.SessionID != m.sess.ID || m.sess.State.Rest() || m.sess.State == domain.StateError {
		log.Debug().Str("module", "app.call").Str("sid", string(msg.SessionID)).Str("type", string(msg.Type)).Msg("stale message dropped")
		return false
	}
	return true
}

func (m *Machine) handleInvite(msg signal.Message, p signal.InvitePayload) {
	if msg.SessionID == m.sess.ID && !m.sess.State.Rest() {
		if m.sess.State == domain.StateError || p.OfferDescription == nil {
			return
		}
		m.reg.Add(domain.Participant{ID: msg.SenderID})
		if !m.mediaReady {
			m.pendingOffers[msg.SenderID] = p
			return
		}
		m.acceptOffer(msg.SenderID, p)
		return
	}

	if msg.SessionID == m.sess.ID || p.Renegotiation || m.wasFinished(msg.SessionID) {
		log.Debug().Str("module", "app.call").Str("sid", string(msg.SessionID)).Msg("invite for finished session dropped")
		return
	}
	if !m.sess.State.Rest() {
		log.Info().Str("module", "app.call").Str("sid", string(m.sess.ID)).Str("peer", string(msg.SenderID)).Msg("busy, declining invite")
		if err := m.sig.End(msg.SessionID, msg.SenderID, domain.ReasonDeclined); err != nil {
			log.Warn().Str("module", "app.call").Err(err).Msg("busy decline")
		}
		return
	}

	m.begin(msg.SessionID, p.Kind, p.Mode, domain.DirectionIncoming, msg.SenderID, string(msg.SenderID))
	m.reg.Add(domain.Participant{ID: msg.SenderID})
	if p.OfferDescription != nil {
		m.pendingOffers[msg.SenderID] = p
	}
	m.setState(domain.StateRinging, "")
	m.ringTimer = m.after(m.cfg.Timeouts.Ringing, m.onRingTimeout)
}

func (m *Machine) acceptOffer(peer domain.ParticipantID, p signal.InvitePayload) {
	out, err := m.links.AcceptOffer(peer, *p.OfferDescription)
	m.onLinkOutcome(out, err)
}

func (m *Machine) flushPendingOffers() {
	for peer, p := range m.pendingOffers {
		delete(m.pendingOffers, peer)
		m.acceptOffer(peer, p)
	}
}

func (m *Machine) handleAnswer(msg signal.Message, p signal.AnswerPayload) {
	if !m.current(msg) {
		return
	}
	if p.AnswerDescription != nil {
		out, err := m.links.ApplyAnswer(msg.SenderID, *p.AnswerDescription)
		m.onLinkOutcome(out, err)
		return
	}

	// acceptance of our invite
	if !m.invitees[msg.SenderID] {
		return
	}
	delete(m.invitees, msg.SenderID)
	m.reg.Add(domain.Participant{ID: msg.SenderID})
	if m.sess.State == domain.StateRinging {
		m.enterConnecting()
	}
	if len(m.invitees) == 0 {
		m.stopTimer(&m.ringTimer)
	}
	if err := m.links.Offer(msg.SenderID); err != nil {
		m.onLinkOutcome(link.Outcome{Peer: msg.SenderID, Failed: true, Err: err}, nil)
	}
}

func (m *Machine) handleJoined(msg signal.Message, p signal.JoinedPayload) {
	if !m.current(msg) || p.ParticipantID == m.self {
		return
	}
	m.reg.Add(domain.Participant{ID: p.ParticipantID, DisplayName: p.DisplayName, AvatarRef: p.AvatarRef})
	if p.IsMuted != nil || p.IsCameraOn != nil {
		cur, _ := m.reg.Get(p.ParticipantID)
		muted, camera := cur.IsMuted, cur.IsCameraOn
		if p.IsMuted != nil {
			muted = *p.IsMuted
		}
		if p.IsCameraOn != nil {
			camera = *p.IsCameraOn
		}
		m.reg.UpdateFlags(p.ParticipantID, muted, camera)
	}

	// An introduction from the initiator: of the two members, the one with
	// the smaller id offers.
	if m.sess.Mode != domain.ModeGroup || p.ParticipantID == msg.SenderID {
		return
	}
	if _, ok := m.links.Get(p.ParticipantID); ok {
		return
	}
	if m.self < p.ParticipantID && m.mediaReady {
		if err := m.links.Offer(p.ParticipantID); err != nil {
			m.onLinkOutcome(link.Outcome{Peer: p.ParticipantID, Failed: true, Err: err}, nil)
		}
	}
}

// removeRemote handles a remote leaving or ending. In direct mode, and
// while an incoming call rings, it ends the session. Only the other party
// of a direct call can end it.
func (m *Machine) removeRemote(peer domain.ParticipantID, reason string) {
	if m.sess.Mode == domain.ModeDirect {
		if peer != m.counterpart() {
			log.Warn().Str("module", "app.call").Str("sid", string(m.sess.ID)).Str("peer", string(peer)).Msg("end from non-participant dropped")
			return
		}
		m.end(reason)
		return
	}
	incoming := m.sess.Direction == domain.DirectionIncoming && m.sess.State == domain.StateRinging
	if incoming && peer == m.sess.Initiator {
		m.end(reason)
		return
	}
	delete(m.invitees, peer)
	delete(m.pendingOffers, peer)
	m.links.Close(peer)
	m.publishStream(peer, nil)
	m.reg.Remove(peer)
	m.endIfAlone(reason)
}

// counterpart is the other party of a direct call.
func (m *Machine) counterpart() domain.ParticipantID {
	if m.sess.Direction == domain.DirectionIncoming {
		return m.sess.Initiator
	}
	return domain.ParticipantID(m.sess.Target)
}

// endIfAlone ends a group session once no remote is left or pending.
func (m *Machine) endIfAlone(reason string) {
	if m.links.Len() > 0 || len(m.invitees) > 0 || len(m.reg.Remotes()) > 0 {
		return
	}
	m.end(reason)
}

func (m *Machine) enterConnecting() {
	m.setState(domain.StateConnecting, "")
	m.connectTimer = m.after(m.cfg.Timeouts.Connecting, func() {
		m.connectTimer = nil
		if m.sess.State == domain.StateConnecting && m.links.Connected() == 0 {
			m.fail(fmt.Errorf("no peer connected: %w", domain.ErrNegotiationTimeout))
		}
	})
}

func (m *Machine) onRingTimeout() {
	m.ringTimer = nil
	switch {
	case m.sess.State == domain.StateRinging && m.sess.Direction == domain.DirectionIncoming:
		_ = m.sig.End(m.sess.ID, m.sess.Initiator, domain.ReasonDeclined)
		m.end(domain.RingingTimeout)
	case m.sess.Direction == domain.DirectionOutgoing:
		for p := range m.invitees {
			_ = m.sig.End(m.sess.ID, p, domain.ReasonHangup)
			m.reg.Remove(p)
		}
		m.invitees = map[domain.ParticipantID]bool{}
		if m.sess.State == domain.StateRinging {
			m.end(domain.RingingTimeout)
			return
		}
		m.endIfAlone(domain.RingingTimeout)
	}
}

func (m *Machine) onLinkOutcome(out link.Outcome, err error) {
	if err != nil {
		if errors.Is(err, domain.ErrProtocolViolation) {
			log.Debug().Str("module", "app.call").Str("sid", string(m.sess.ID)).Str("peer", string(out.Peer)).Err(err).Msg("link step dropped")
		} else {
			log.Warn().Str("module", "app.call").Str("sid", string(m.sess.ID)).Str("peer", string(out.Peer)).Err(err).Msg("link step")
		}
	}
	if out.Stream != nil {
		m.publishStream(out.Peer, out.Stream)
	}
	if out.Connected {
		m.onLinkConnected(out.Peer)
	}
	if out.Failed {
		m.onLinkFailed(out.Peer, out.Err)
	}
}

func (m *Machine) onLinkConnected(peer domain.ParticipantID) {
	if m.sess.State == domain.StateConnecting {
		m.stopTimer(&m.connectTimer)
		m.setState(domain.StateActive, "")
		m.rec.SessionActive(m.sess.Mode)
		m.startTicks()
	} else if m.sess.State == domain.StateActive {
		m.setState(domain.StateActive, "")
	}

	// the initiator introduces every pair of connected members
	if m.sess.Mode != domain.ModeGroup || m.sess.Initiator != m.self {
		return
	}
	newcomer, ok := m.reg.Get(peer)
	if !ok {
		return
	}
	for _, other := range m.links.Peers() {
		if other == peer {
			continue
		}
		if l, ok := m.links.Get(other); !ok || l.State() != domain.NegotiationConnected {
			continue
		}
		o, _ := m.reg.Get(other)
		_ = m.sig.Joined(m.sess.ID, peer, joinedFor(o))
		_ = m.sig.Joined(m.sess.ID, other, joinedFor(newcomer))
	}
}

func (m *Machine) onLinkFailed(peer domain.ParticipantID, err error) {
	if err == nil {
		err = domain.ErrNegotiationTimeout
	}
	m.rec.LinkFailed(failureLabel(err))
	log.Warn().Str("module", "app.call").Str("sid", string(m.sess.ID)).Str("peer", string(peer)).Err(err).Msg("link failed")
	if m.sess.Mode == domain.ModeDirect {
		m.fail(err)
		return
	}
	_ = m.sig.Left(m.sess.ID, peer)
	m.publishStream(peer, nil)
	m.reg.Remove(peer)
	m.endIfAlone(string(domain.ReasonFailed))
}

func failureLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrNegotiationTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrSignalingUnavailable):
		return "signaling"
	}
	return "transport"
}

func joinedFor(p domain.Participant) signal.JoinedPayload {
	muted, camera := p.IsMuted, p.IsCameraOn
	return signal.JoinedPayload{
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		AvatarRef:     p.AvatarRef,
		IsMuted:       &muted,
		IsCameraOn:    &camera,
	}
}
