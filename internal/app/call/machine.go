// Package call drives one call session at a time through a single event
// loop. Intents, inbound signaling and negotiation callbacks are all
// serialized onto that loop; nothing else mutates session state.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/adapters/signal"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app/events"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app/link"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app/media"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/core"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("call machine closed")

// Signaler is the outbound half of the signaling client.
type Signaler interface {
	Self() domain.ParticipantID
	SetSessionFilter(func(domain.SessionID) bool)
	Invite(sid domain.SessionID, to domain.ParticipantID, p signal.InvitePayload) error
	Offer(sid domain.SessionID, to domain.ParticipantID, kind domain.CallKind, mode domain.CallMode, desc webrtc.SessionDescription, renegotiation bool) error
	Accept(sid domain.SessionID, to domain.ParticipantID) error
	Answer(sid domain.SessionID, to domain.ParticipantID, desc webrtc.SessionDescription) error
	Candidate(sid domain.SessionID, to domain.ParticipantID, c webrtc.ICECandidateInit) error
	Joined(sid domain.SessionID, to domain.ParticipantID, p signal.JoinedPayload) error
	Left(sid domain.SessionID, to domain.ParticipantID) error
	End(sid domain.SessionID, to domain.ParticipantID, reason domain.EndReason) error
}

type Deps struct {
	Signal    Signaler
	Devices   core.MediaDevices
	Factory   core.MediaConnectionFactory
	Directory core.Directory
	Bus       *events.Bus
	Recorder  Recorder
}

// Target names who a call is for: a single peer or a group id.
type Target struct {
	Peer  domain.ParticipantID
	Group string
}

// Snapshot is a consistent read-only view for late subscribers.
type Snapshot struct {
	Session      domain.Session       `json:"session"`
	Participants []domain.Participant `json:"participants"`
	Duration     time.Duration        `json:"duration"`
}

type Machine struct {
	cfg  Config
	self domain.ParticipantID
	sig  Signaler
	devs core.MediaDevices
	fac  core.MediaConnectionFactory
	dir  core.Directory
	bus  *events.Bus
	rec  Recorder
	reg  *app.Registry

	ctx    context.Context
	cancel context.CancelFunc
	inbox  *inbox
	done   chan struct{}
	once   sync.Once

	viewMu sync.RWMutex
	view   domain.Session
	live   domain.SessionID
	// invites decoded but not yet handled on the loop, by session id
	announced map[domain.SessionID]int

	// loop-owned below
	sess          domain.Session
	gen           uint64
	ctrl          *media.Controller
	links         *link.Set
	mediaCancel   context.CancelFunc
	mediaReady    bool
	cleaned       bool
	invitees      map[domain.ParticipantID]bool
	pendingOffers map[domain.ParticipantID]signal.InvitePayload
	streams       map[domain.ParticipantID]*domain.Stream
	finished      []domain.SessionID
	ringTimer     *time.Timer
	connectTimer  *time.Timer
	graceTimer    *time.Timer
	signalTimer   *time.Timer
	stopTick      chan struct{}
}

func New(cfg Config, deps Deps) *Machine {
	if deps.Bus == nil {
		deps.Bus = events.NewBus()
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Directory == nil {
		deps.Directory = app.NewStaticDirectory(nil)
	}
	if cfg.Timeouts == (Timeouts{}) {
		cfg.Timeouts = DefaultTimeouts()
	}
	if cfg.Tick == 0 {
		cfg.Tick = time.Second
	}
	self := deps.Signal.Self()
	cfg.Self.ID = self
	if cfg.Self.DisplayName == "" {
		cfg.Self.DisplayName = string(self)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		cfg:    cfg,
		self:   self,
		sig:    deps.Signal,
		devs:   deps.Devices,
		fac:    deps.Factory,
		dir:    deps.Directory,
		bus:    deps.Bus,
		rec:    deps.Recorder,
		ctx:    ctx,
		cancel: cancel,
		inbox:  newInbox(),
		done:   make(chan struct{}),
		sess:   domain.Session{State: domain.StateIdle},
		view:   domain.Session{State: domain.StateIdle},

		announced: make(map[domain.SessionID]int),
	}
	m.reg = app.NewRegistry(func(ps []domain.Participant) {
		m.bus.Publish(events.Event{Type: events.EventParticipants, Session: m.sess, Participants: ps})
	})
	m.sig.SetSessionFilter(m.Accepts)
	go m.loop()
	return m
}

func (m *Machine) loop() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.inbox.wake:
			for _, fn := range m.inbox.take() {
				fn()
			}
		}
	}
}

// post schedules fn on the loop.
func (m *Machine) post(fn func()) bool {
	return m.inbox.post(fn)
}

// postGen schedules fn only if the session it was created for is still
// the current one when it runs.
func (m *Machine) postGen(gen uint64, fn func()) {
	m.post(func() {
		if gen == m.gen {
			fn()
		}
	})
}

// do runs fn on the loop and waits for its result.
func (m *Machine) do(fn func() error) error {
	res := make(chan error, 1)
	if !m.post(func() { res <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-m.done:
		return ErrClosed
	}
}

// Close ends any live call and stops the loop.
func (m *Machine) Close() {
	m.once.Do(func() {
		_ = m.EndCall()
		m.cancel()
		<-m.done
		m.inbox.close()
		log.Info().Str("module", "app.call").Str("self", string(m.self)).Msg("machine closed")
	})
}

// Accepts reports whether sid is the live session, or one whose invite is
// still queued for the loop. Safe from any goroutine.
func (m *Machine) Accepts(sid domain.SessionID) bool {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	return sid != "" && (sid == m.live || m.announced[sid] > 0)
}

func (m *Machine) Bus() *events.Bus { return m.bus }

// Subscribe is a shorthand for Bus().Subscribe.
func (m *Machine) Subscribe() (<-chan events.Event, func()) { return m.bus.Subscribe() }

func (m *Machine) Session() domain.Session {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	return m.view
}

func (m *Machine) Duration() time.Duration {
	return m.Session().Duration(time.Now())
}

func (m *Machine) Snapshot() Snapshot {
	s := m.Session()
	return Snapshot{Session: s, Participants: m.reg.Snapshot(), Duration: s.Duration(time.Now())}
}

// Stream returns the last published stream for a participant, or nil.
func (m *Machine) Stream(id domain.ParticipantID) *domain.Stream {
	var out *domain.Stream
	_ = m.do(func() error {
		out = m.streams[id]
		return nil
	})
	return out
}

// Links reports the number of open peer links.
func (m *Machine) Links() int {
	n := 0
	_ = m.do(func() error {
		if m.links != nil {
			n = m.links.Len()
		}
		return nil
	})
	return n
}

