package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/adapters/signal"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app/events"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/core/coretest"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

func testTimeouts() Timeouts {
	return Timeouts{
		Ringing:        wait,
		Connecting:     wait,
		Negotiation:    wait,
		ErrorGrace:     50 * time.Millisecond,
		SignalingGrace: 100 * time.Millisecond,
	}
}

type eventLog struct {
	mu  sync.Mutex
	all []events.Event
}

func (l *eventLog) add(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, ev)
}

func (l *eventLog) since(mark int) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.all[mark:]...)
}

func (l *eventLog) mark() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.all)
}

func (l *eventLog) states() []domain.State {
	var out []domain.State
	for _, ev := range l.since(0) {
		if ev.Type == events.EventState {
			out = append(out, ev.Session.State)
		}
	}
	return out
}

func (l *eventLog) count(mark int, typ events.Type, fn func(events.Event) bool) int {
	n := 0
	for _, ev := range l.since(mark) {
		if ev.Type == typ && (fn == nil || fn(ev)) {
			n++
		}
	}
	return n
}

type peer struct {
	id      domain.ParticipantID
	m       *Machine
	devices *coretest.Devices
	factory *coretest.Factory
	pipe    *coretest.Pipe
	log     *eventLog
}

type peerOption func(*Config, *Deps, *peer)

func withTimeouts(fn func(*Timeouts)) peerOption {
	return func(c *Config, _ *Deps, _ *peer) { fn(&c.Timeouts) }
}

func withGroups(groups map[string][]string) peerOption {
	return func(_ *Config, d *Deps, _ *peer) { d.Directory = app.NewStaticDirectory(groups) }
}

func newPeer(t *testing.T, hub *coretest.Hub, id string, opts ...peerOption) *peer {
	t.Helper()
	p := &peer{
		id:      domain.ParticipantID(id),
		devices: &coretest.Devices{},
		factory: &coretest.Factory{},
		pipe:    hub.Connect(id),
		log:     &eventLog{},
	}
	client := signal.NewClient(p.pipe, p.id)
	cfg := Config{
		Self:     domain.Participant{DisplayName: "User " + id},
		Timeouts: testTimeouts(),
		Tick:     -1,
	}
	deps := Deps{Signal: client, Devices: p.devices, Factory: p.factory}
	for _, o := range opts {
		o(&cfg, &deps, p)
	}
	p.m = New(cfg, deps)

	ch, cancel := p.m.Subscribe()
	go func() {
		for ev := range ch {
			p.log.add(ev)
		}
	}()

	ctx, stop := context.WithCancel(context.Background())
	go client.Run(ctx, p.m)
	t.Cleanup(func() {
		stop()
		p.m.Close()
		cancel()
	})
	return p
}

func (p *peer) waitState(t *testing.T, s domain.State) {
	t.Helper()
	require.Eventually(t, func() bool { return p.m.Session().State == s }, wait, 5*time.Millisecond,
		"%s never reached %s (at %s)", p.id, s, p.m.Session().State)
}

func (p *peer) waitRinging(t *testing.T, dir domain.Direction) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := p.m.Session()
		return s.State == domain.StateRinging && s.Direction == dir
	}, wait, 5*time.Millisecond, "%s never rang %s", p.id, dir)
}

// waitLogStates waits until the subscriber saw n state events.
func (p *peer) waitLogStates(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(p.log.states()) >= n }, wait, 5*time.Millisecond,
		"%s saw states %v", p.id, p.log.states())
}

// linkState reads the negotiation state of p's link to other on the loop.
// It is empty when there is no such link.
func (p *peer) linkState(other domain.ParticipantID) domain.NegotiationState {
	var st domain.NegotiationState
	_ = p.m.do(func() error {
		if p.m.links == nil {
			return nil
		}
		if l, ok := p.m.links.Get(other); ok {
			st = l.State()
		}
		return nil
	})
	return st
}

func (p *peer) participantIDs() []domain.ParticipantID {
	var out []domain.ParticipantID
	for _, x := range p.m.Snapshot().Participants {
		out = append(out, x.ID)
	}
	return out
}

// connect runs a direct call from a to b up to active on both sides.
func connect(t *testing.T, a, b *peer, kind domain.CallKind) {
	t.Helper()
	_, err := a.m.StartCall(context.Background(), Target{Peer: b.id}, kind)
	require.NoError(t, err)
	b.waitRinging(t, domain.DirectionIncoming)
	require.NoError(t, b.m.AcceptIncoming())
	a.waitState(t, domain.StateActive)
	b.waitState(t, domain.StateActive)
}
