// Package events fans call notifications out to presentation observers.
package events

import (
	"sync"
	"time"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
)

type Type string

const (
	EventState        Type = "state"
	EventParticipants Type = "participants"
	EventStream       Type = "stream"
	EventTick         Type = "tick"
)

// Event is a read-only notification. Participants is a full registry
// snapshot; Stream is a wholesale replacement (nil means the stream is gone).
type Event struct {
	Type          Type                 `json:"type"`
	Session       domain.Session       `json:"session"`
	Participants  []domain.Participant `json:"participants,omitempty"`
	ParticipantID domain.ParticipantID `json:"participantId,omitempty"`
	Stream        *domain.Stream       `json:"stream,omitempty"`
	Duration      time.Duration        `json:"duration,omitempty"`
}

// Observer mirrors the callback surface UI layers subscribe with.
// Any of the callbacks may be nil.
type Observer struct {
	OnStateChange        func(domain.Session)
	OnParticipantsChange func([]domain.Participant)
	OnStreamChange       func(domain.ParticipantID, *domain.Stream)
	OnTick               func(time.Duration)
}

// Bus delivers every published event to every subscriber in publish order.
// A slow subscriber only delays itself; events queue without bound.
type Bus struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
	out   chan Event
	done  chan struct{}
	once  sync.Once
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a channel of events and a cancel func. The channel is
// closed after cancel or Close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.out)
		return s.out, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.pump()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		s.stop()
	}
	return s.out, cancel
}

// Observe dispatches events to callbacks on a dedicated goroutine.
func (b *Bus) Observe(o Observer) func() {
	ch, cancel := b.Subscribe()
	go func() {
		for ev := range ch {
			o.dispatch(ev)
		}
	}()
	return cancel
}

func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		s.push(ev)
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*subscriber]struct{})
	b.closed = true
	b.mu.Unlock()
	for s := range subs {
		s.stop()
	}
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

func (o Observer) dispatch(ev Event) {
	switch ev.Type {
	case EventState:
		if o.OnStateChange != nil {
			o.OnStateChange(ev.Session)
		}
	case EventParticipants:
		if o.OnParticipantsChange != nil {
			o.OnParticipantsChange(ev.Participants)
		}
	case EventStream:
		if o.OnStreamChange != nil {
			o.OnStreamChange(ev.ParticipantID, ev.Stream)
		}
	case EventTick:
		if o.OnTick != nil {
			o.OnTick(ev.Duration)
		}
	}
}
