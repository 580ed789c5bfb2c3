package call

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/adapters/signal"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app/events"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app/link"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app/media"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// begin opens a new session in initiating. Callers checked the state is
// at rest.
func (m *Machine) begin(sid domain.SessionID, kind domain.CallKind, mode domain.CallMode, dir domain.Direction, initiator domain.ParticipantID, target string) {
	m.gen++
	m.sess = domain.Session{
		ID:        sid,
		Kind:      kind,
		Mode:      mode,
		State:     m.sess.State,
		Direction: dir,
		Initiator: initiator,
		Target:    target,
	}
	m.cleaned = false
	m.mediaReady = false
	m.invitees = make(map[domain.ParticipantID]bool)
	m.pendingOffers = make(map[domain.ParticipantID]signal.InvitePayload)
	m.streams = make(map[domain.ParticipantID]*domain.Stream)
	m.ctrl = media.New(m.devs)
	m.links = link.NewSet(m.ctx, link.Config{
		Session:            sid,
		Self:               m.self,
		Factory:            m.fac,
		Out:                linkOut{m: m, sid: sid, kind: kind, mode: mode},
		Notify:             m.linkNotifier(m.gen),
		NegotiationTimeout: m.cfg.Timeouts.Negotiation,
		Tracks:             m.ctrl.Tracks,
	})

	m.viewMu.Lock()
	m.live = sid
	m.viewMu.Unlock()

	m.rec.SessionStarted(mode, dir)
	log.Info().Str("module", "app.call").Str("sid", string(sid)).Str("kind", string(kind)).Str("mode", string(mode)).Str("direction", string(dir)).Msg("session started")

	m.setState(domain.StateInitiating, "")
	self := m.cfg.Self
	self.ID = domain.LocalID
	m.reg.Add(self)
}

// setState applies a legal transition and publishes it.
func (m *Machine) setState(to domain.State, reason string) bool {
	from := m.sess.State
	if !domain.CanTransition(from, to) {
		log.Error().Str("module", "app.call").Str("sid", string(m.sess.ID)).Str("from", string(from)).Str("to", string(to)).Msg("illegal transition")
		return false
	}
	m.sess.State = to
	if reason != "" {
		m.sess.Reason = reason
	}
	if to == domain.StateActive && m.sess.StartedAt.IsZero() {
		m.sess.StartedAt = time.Now()
	}

	m.viewMu.Lock()
	m.view = m.sess
	m.viewMu.Unlock()

	if from == to {
		return true
	}
	log.Info().Str("module", "app.call").Str("sid", string(m.sess.ID)).Str("from", string(from)).Str("to", string(to)).Str("reason", reason).Msg("state")
	m.bus.Publish(events.Event{Type: events.EventState, Session: m.sess})
	return true
}

// end moves any non-rest session to ended. Ending twice is a no-op.
func (m *Machine) end(reason string) {
	if m.sess.State.Rest() {
		return
	}
	failed := m.sess.State == domain.StateError
	m.cleanup()
	m.stopTimer(&m.graceTimer)
	m.setState(domain.StateEnded, reason)
	if !failed {
		m.rec.SessionEnded(domain.StateEnded, m.sess.Reason)
	}
}

// fail moves the session to error and schedules the move to ended.
func (m *Machine) fail(err error) {
	if m.sess.State.Rest() || m.sess.State == domain.StateError {
		return
	}
	log.Error().Str("module", "app.call").Str("sid", string(m.sess.ID)).Err(err).Msg("session failed")
	m.notifyRemotes(func(p domain.ParticipantID) error {
		return m.sig.End(m.sess.ID, p, domain.ReasonFailed)
	})
	m.cleanup()
	m.setState(domain.StateError, err.Error())
	m.rec.SessionEnded(domain.StateError, m.sess.Reason)
	m.graceTimer = m.after(m.cfg.Timeouts.ErrorGrace, func() {
		m.graceTimer = nil
		m.end("")
	})
}

// cleanup releases every session resource exactly once.
func (m *Machine) cleanup() {
	if m.cleaned {
		return
	}
	m.cleaned = true

	m.stopTimer(&m.ringTimer)
	m.stopTimer(&m.connectTimer)
	m.stopTimer(&m.signalTimer)
	m.stopTicks()
	if m.mediaCancel != nil {
		m.mediaCancel()
		m.mediaCancel = nil
	}
	closed := 0
	if m.links != nil {
		closed = m.links.CloseAll()
	}
	if m.ctrl != nil {
		m.ctrl.Release()
	}
	m.mediaReady = false
	for id := range m.streams {
		m.publishStream(id, nil)
	}
	m.invitees = map[domain.ParticipantID]bool{}
	m.pendingOffers = map[domain.ParticipantID]signal.InvitePayload{}
	m.reg.Clear()
	m.rememberFinished(m.sess.ID)

	m.viewMu.Lock()
	m.live = ""
	m.viewMu.Unlock()
	log.Info().Str("module", "app.call").Str("sid", string(m.sess.ID)).Int("links", closed).Msg("session cleaned up")
}

// finishedWindow bounds how many finished session ids are remembered for
// dropping replayed invites.
const finishedWindow = 32

func (m *Machine) rememberFinished(sid domain.SessionID) {
	m.finished = append(m.finished, sid)
	if len(m.finished) > finishedWindow {
		m.finished = m.finished[len(m.finished)-finishedWindow:]
	}
}

func (m *Machine) wasFinished(sid domain.SessionID) bool {
	return slices.Contains(m.finished, sid)
}

func (m *Machine) publishStream(id domain.ParticipantID, s *domain.Stream) {
	if s == nil {
		if _, ok := m.streams[id]; !ok {
			return
		}
		delete(m.streams, id)
	} else {
		m.streams[id] = s
	}
	m.bus.Publish(events.Event{Type: events.EventStream, Session: m.sess, ParticipantID: id, Stream: s})
}

// notifyRemotes calls send for every remote the session knows, including
// invitees that never answered.
func (m *Machine) notifyRemotes(send func(domain.ParticipantID) error) {
	seen := make(map[domain.ParticipantID]bool)
	targets := append(m.reg.Remotes(), m.pendingInvitees()...)
	if m.sess.Mode == domain.ModeDirect && m.sess.Target != "" {
		targets = append(targets, domain.ParticipantID(m.sess.Target))
	}
	for _, p := range targets {
		if seen[p] || p == m.self {
			continue
		}
		seen[p] = true
		if err := send(p); err != nil {
			log.Warn().Str("module", "app.call").Str("sid", string(m.sess.ID)).Str("peer", string(p)).Err(err).Msg("notify remote")
		}
	}
}

func (m *Machine) pendingInvitees() []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(m.invitees))
	for p := range m.invitees {
		out = append(out, p)
	}
	return out
}

// after arms a timer whose callback runs on the loop for the current
// session only.
func (m *Machine) after(d time.Duration, fn func()) *time.Timer {
	gen := m.gen
	return time.AfterFunc(d, func() { m.postGen(gen, fn) })
}

func (m *Machine) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *Machine) startTicks() {
	if m.cfg.Tick < 0 || m.stopTick != nil {
		return
	}
	stop := make(chan struct{})
	m.stopTick = stop
	gen := m.gen
	period := m.cfg.Tick
	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				m.postGen(gen, func() {
					if m.sess.State == domain.StateActive {
						m.bus.Publish(events.Event{Type: events.EventTick, Session: m.sess, Duration: m.sess.Duration(time.Now())})
					}
				})
			}
		}
	}()
}

func (m *Machine) stopTicks() {
	if m.stopTick != nil {
		close(m.stopTick)
		m.stopTick = nil
	}
}

// acquire opens local media off-loop and reports back on it.
func (m *Machine) acquire(then func()) {
	ctx, cancel := context.WithCancel(m.ctx)
	m.mediaCancel = cancel
	ctrl, kind, gen := m.ctrl, m.sess.Kind, m.gen
	go func() {
		stream, err := ctrl.Acquire(ctx, kind)
		m.postGen(gen, func() {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				m.fail(err)
				return
			}
			m.mediaReady = true
			m.publishStream(domain.LocalID, stream)
			m.reg.UpdateFlags(domain.LocalID, ctrl.Muted(), ctrl.CameraOn())
			then()
		})
	}()
}

func (m *Machine) linkNotifier(gen uint64) func(link.Event) {
	return func(ev link.Event) {
		m.postGen(gen, func() {
			out, err := m.links.Handle(ev)
			m.onLinkOutcome(out, err)
		})
	}
}

// linkOut binds link traffic to the session it was opened for.
type linkOut struct {
	m    *Machine
	sid  domain.SessionID
	kind domain.CallKind
	mode domain.CallMode
}

func (o linkOut) Offer(peer domain.ParticipantID, desc webrtc.SessionDescription, reneg bool) error {
	return o.m.sig.Offer(o.sid, peer, o.kind, o.mode, desc, reneg)
}

func (o linkOut) Answer(peer domain.ParticipantID, desc webrtc.SessionDescription) error {
	return o.m.sig.Answer(o.sid, peer, desc)
}

func (o linkOut) Candidate(peer domain.ParticipantID, c webrtc.ICECandidateInit) error {
	return o.m.sig.Candidate(o.sid, peer, c)
}
