// Package signal translates call intents to wire messages and routes
// inbound messages to the call machine. It holds no call state.
package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/core"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Handler receives decoded inbound messages, one at a time.
type Handler interface {
	OnInvite(m Message, p InvitePayload)
	OnAnswer(m Message, p AnswerPayload)
	OnCandidate(m Message, p CandidatePayload)
	OnParticipantJoined(m Message, p JoinedPayload)
	OnParticipantLeft(m Message, p LeftPayload)
	OnEnd(m Message, p EndPayload)
	OnSignalingStatus(up bool)
}

type Client struct {
	conn core.SignalConnection
	self domain.ParticipantID

	mu      sync.RWMutex
	accepts func(domain.SessionID) bool
}

func NewClient(conn core.SignalConnection, self domain.ParticipantID) *Client {
	return &Client{
		conn:    conn,
		self:    self,
		accepts: func(domain.SessionID) bool { return false },
	}
}

func (c *Client) Self() domain.ParticipantID { return c.self }

// SetSessionFilter decides which session ids are live. Anything other
// than an invite for a session the filter rejects is dropped.
func (c *Client) SetSessionFilter(fn func(domain.SessionID) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepts = fn
}

// Run demultiplexes inbound frames into h until ctx is done or the
// connection stops delivering.
func (c *Client) Run(ctx context.Context, h Handler) {
	if n, ok := c.conn.(core.StatusNotifier); ok {
		n.OnStatus(h.OnSignalingStatus)
	}
	in := c.conn.Receive()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-in:
			if !ok {
				log.Info().Str("module", "signal").Msg("inbound channel closed")
				return
			}
			c.dispatch(f, h)
		}
	}
}

func (c *Client) dispatch(f core.Frame, h Handler) {
	m, err := Decode(f)
	if err != nil {
		log.Warn().Str("module", "signal").Err(err).Msg("dropped message")
		return
	}
	if m.SenderID == c.self {
		return
	}
	if m.RecipientID != "" && m.RecipientID != c.self {
		return
	}
	c.mu.RLock()
	live := c.accepts(m.SessionID)
	c.mu.RUnlock()
	if m.Type != TypeInvite && !live {
		log.Debug().Str("module", "signal").Str("sid", string(m.SessionID)).Str("type", string(m.Type)).Str("peer", string(m.SenderID)).Msg("message for unknown session dropped")
		return
	}

	p, err := DecodePayload(m)
	if err != nil {
		log.Warn().Str("module", "signal").Str("sid", string(m.SessionID)).Str("peer", string(m.SenderID)).Err(err).Msg("dropped message")
		return
	}
	switch v := p.(type) {
	case InvitePayload:
		h.OnInvite(m, v)
	case AnswerPayload:
		h.OnAnswer(m, v)
	case CandidatePayload:
		h.OnCandidate(m, v)
	case JoinedPayload:
		h.OnParticipantJoined(m, v)
	case LeftPayload:
		h.OnParticipantLeft(m, v)
	case EndPayload:
		h.OnEnd(m, v)
	}
}

func (c *Client) send(t Type, sid domain.SessionID, to domain.ParticipantID, v any) error {
	data, err := Encode(t, sid, c.self, to, v)
	if err != nil {
		return err
	}
	if err := c.conn.TrySend(data); err != nil {
		if errors.Is(err, domain.ErrSignalingUnavailable) {
			return err
		}
		return fmt.Errorf("send %s: %w: %v", t, domain.ErrSignalingUnavailable, err)
	}
	return nil
}

func (c *Client) Invite(sid domain.SessionID, to domain.ParticipantID, p InvitePayload) error {
	return c.send(TypeInvite, sid, to, p)
}

// Offer is an invite carrying a description for an existing session.
func (c *Client) Offer(sid domain.SessionID, to domain.ParticipantID, kind domain.CallKind, mode domain.CallMode, desc webrtc.SessionDescription, renegotiation bool) error {
	return c.send(TypeInvite, sid, to, InvitePayload{Kind: kind, Mode: mode, OfferDescription: &desc, Renegotiation: renegotiation})
}

// Accept tells the inviter the call was accepted locally.
func (c *Client) Accept(sid domain.SessionID, to domain.ParticipantID) error {
	return c.send(TypeAnswer, sid, to, AnswerPayload{})
}

func (c *Client) Answer(sid domain.SessionID, to domain.ParticipantID, desc webrtc.SessionDescription) error {
	return c.send(TypeAnswer, sid, to, AnswerPayload{AnswerDescription: &desc})
}

func (c *Client) Candidate(sid domain.SessionID, to domain.ParticipantID, cand webrtc.ICECandidateInit) error {
	return c.send(TypeCandidate, sid, to, CandidatePayload{Candidate: cand})
}

func (c *Client) Joined(sid domain.SessionID, to domain.ParticipantID, p JoinedPayload) error {
	return c.send(TypeParticipantJoined, sid, to, p)
}

func (c *Client) Left(sid domain.SessionID, to domain.ParticipantID) error {
	return c.send(TypeParticipantLeft, sid, to, LeftPayload{ParticipantID: c.self})
}

func (c *Client) End(sid domain.SessionID, to domain.ParticipantID, reason domain.EndReason) error {
	return c.send(TypeEnd, sid, to, EndPayload{Reason: reason})
}
