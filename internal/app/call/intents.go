package call

import (
	"context"
	"fmt"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/adapters/signal"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app/media"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/rs/zerolog/log"
)

// StartCall begins an outgoing call to a peer or to every member of a
// group. It returns once the session is initiating; media acquisition and
// invites continue on the loop.
func (m *Machine) StartCall(ctx context.Context, target Target, kind domain.CallKind) (domain.SessionID, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("call kind %q: %w", kind, domain.ErrInvalidTransition)
	}
	if (target.Peer == "") == (target.Group == "") {
		return "", fmt.Errorf("exactly one of peer or group is required: %w", domain.ErrInvalidTransition)
	}

	mode := domain.ModeDirect
	invitees := []domain.ParticipantID{target.Peer}
	label := string(target.Peer)
	if target.Group != "" {
		members, err := m.dir.Members(ctx, target.Group)
		if err != nil {
			return "", err
		}
		mode = domain.ModeGroup
		label = target.Group
		invitees = invitees[:0]
		for _, p := range members {
			if p != m.self {
				invitees = append(invitees, p)
			}
		}
		if len(invitees) == 0 {
			return "", fmt.Errorf("group %q has no other members: %w", target.Group, domain.ErrInvalidTransition)
		}
	} else if target.Peer == m.self {
		return "", fmt.Errorf("cannot call self: %w", domain.ErrInvalidTransition)
	}

	sid := domain.NewSessionID()
	err := m.do(func() error {
		if !m.sess.State.Rest() {
			return domain.ErrCallInProgress
		}
		m.begin(sid, kind, mode, domain.DirectionOutgoing, m.self, label)
		for _, p := range invitees {
			m.invitees[p] = true
		}
		m.acquire(m.sendInvites)
		return nil
	})
	if err != nil {
		return "", err
	}
	return sid, nil
}

// sendInvites rings every invitee once local media is ready.
func (m *Machine) sendInvites() {
	sent := 0
	for p := range m.invitees {
		err := m.sig.Invite(m.sess.ID, p, signal.InvitePayload{Kind: m.sess.Kind, Mode: m.sess.Mode})
		if err != nil {
			log.Warn().Str("module", "app.call").Str("sid", string(m.sess.ID)).Str("peer", string(p)).Err(err).Msg("invite")
			continue
		}
		_ = m.sig.Joined(m.sess.ID, p, m.selfJoined())
		sent++
	}
	if sent == 0 {
		m.fail(fmt.Errorf("no invite delivered: %w", domain.ErrSignalingUnavailable))
		return
	}
	m.setState(domain.StateRinging, "")
	m.ringTimer = m.after(m.cfg.Timeouts.Ringing, m.onRingTimeout)
}

// AcceptIncoming accepts the ringing incoming call.
func (m *Machine) AcceptIncoming() error {
	return m.do(func() error {
		if m.sess.State != domain.StateRinging || m.sess.Direction != domain.DirectionIncoming {
			return domain.ErrInvalidTransition
		}
		m.stopTimer(&m.ringTimer)
		m.enterConnecting()
		m.acquire(func() {
			inviter := m.sess.Initiator
			if err := m.sig.Accept(m.sess.ID, inviter); err != nil {
				m.fail(err)
				return
			}
			_ = m.sig.Joined(m.sess.ID, inviter, m.selfJoined())
			m.flushPendingOffers()
		})
		return nil
	})
}

// DeclineIncoming rejects the ringing incoming call.
func (m *Machine) DeclineIncoming() error {
	return m.do(func() error {
		if m.sess.State != domain.StateRinging || m.sess.Direction != domain.DirectionIncoming {
			return domain.ErrInvalidTransition
		}
		if err := m.sig.End(m.sess.ID, m.sess.Initiator, domain.ReasonDeclined); err != nil {
			log.Warn().Str("module", "app.call").Str("sid", string(m.sess.ID)).Err(err).Msg("decline")
		}
		m.end(string(domain.ReasonDeclined))
		return nil
	})
}

// EndCall leaves the current call. It is a no-op at rest.
func (m *Machine) EndCall() error {
	return m.do(func() error {
		switch {
		case m.sess.State.Rest():
			return nil
		case m.sess.State == domain.StateError:
			m.end("")
			return nil
		}

		incoming := m.sess.State == domain.StateRinging && m.sess.Direction == domain.DirectionIncoming
		switch {
		case incoming:
			_ = m.sig.End(m.sess.ID, m.sess.Initiator, domain.ReasonDeclined)
			m.end(string(domain.ReasonDeclined))
			return nil
		case m.sess.Mode == domain.ModeGroup:
			for p := range m.invitees {
				_ = m.sig.End(m.sess.ID, p, domain.ReasonHangup)
			}
			m.invitees = map[domain.ParticipantID]bool{}
			m.notifyRemotes(func(p domain.ParticipantID) error {
				return m.sig.Left(m.sess.ID, p)
			})
		default:
			m.notifyRemotes(func(p domain.ParticipantID) error {
				return m.sig.End(m.sess.ID, p, domain.ReasonHangup)
			})
		}
		m.end(string(domain.ReasonHangup))
		return nil
	})
}

func (m *Machine) ToggleMute(ctx context.Context) error {
	return m.toggle(ctx, media.ToggleMute)
}

func (m *Machine) ToggleCamera(ctx context.Context) error {
	return m.toggle(ctx, media.ToggleCamera)
}

// ToggleScreenShare swaps the outgoing video source and renegotiates
// every link.
func (m *Machine) ToggleScreenShare(ctx context.Context) error {
	return m.toggle(ctx, media.ToggleScreenShare)
}

// toggle queues a device toggle behind earlier ones and waits until it
// resolved and its effects were applied on the loop.
func (m *Machine) toggle(ctx context.Context, t media.Toggle) error {
	res := make(chan media.Result, 1)
	err := m.do(func() error {
		if m.sess.State.Rest() || m.sess.State == domain.StateError {
			return domain.ErrNoActiveCall
		}
		if !m.mediaReady {
			return domain.ErrNoLocalMedia
		}
		gen := m.gen
		m.ctrl.Toggle(ctx, t, func(r media.Result) {
			m.post(func() {
				if gen == m.gen {
					m.onToggled(r)
				}
				res <- r
			})
		})
		return nil
	})
	if err != nil {
		return err
	}
	select {
	case r := <-res:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

func (m *Machine) onToggled(r media.Result) {
	if r.Err != nil {
		log.Warn().Str("module", "app.call").Str("sid", string(m.sess.ID)).Str("toggle", string(r.Toggle)).Err(r.Err).Msg("toggle failed")
		return
	}
	m.publishStream(domain.LocalID, r.Stream)
	if m.reg.UpdateFlags(domain.LocalID, r.Muted, r.CameraOn) {
		joined := m.selfJoined()
		for _, p := range m.reg.Remotes() {
			_ = m.sig.Joined(m.sess.ID, p, joined)
		}
	}
	if r.SourceChanged {
		m.links.ReplaceTrack(domain.MediaVideo, r.Video)
		for _, p := range m.links.Peers() {
			if err := m.links.Renegotiate(p); err != nil {
				log.Warn().Str("module", "app.call").Str("sid", string(m.sess.ID)).Str("peer", string(p)).Err(err).Msg("renegotiate")
			}
		}
	}
}

func (m *Machine) selfJoined() signal.JoinedPayload {
	muted, camera := false, false
	if local, ok := m.reg.Get(domain.LocalID); ok {
		muted, camera = local.IsMuted, local.IsCameraOn
	}
	return signal.JoinedPayload{
		ParticipantID: m.self,
		DisplayName:   m.cfg.Self.DisplayName,
		AvatarRef:     m.cfg.Self.AvatarRef,
		IsMuted:       &muted,
		IsCameraOn:    &camera,
	}
}
