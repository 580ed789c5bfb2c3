package events

import (
	"testing"
	"time"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestBusDeliversInOrderToEverySubscriber(t *testing.T) {
	b := NewBus()
	defer b.Close()

	a, cancelA := b.Subscribe()
	defer cancelA()
	c, cancelC := b.Subscribe()
	defer cancelC()

	states := []domain.State{domain.StateInitiating, domain.StateRinging, domain.StateConnecting, domain.StateActive}
	for _, s := range states {
		b.Publish(Event{Type: EventState, Session: domain.Session{State: s}})
	}

	for _, ch := range []<-chan Event{a, c} {
		for _, s := range states {
			assert.Equal(t, s, recv(t, ch).Session.State)
		}
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	cancel()
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	b.Publish(Event{Type: EventTick})
}

func TestBusSubscribeAfterClose(t *testing.T) {
	b := NewBus()
	b.Close()
	ch, cancel := b.Subscribe()
	defer cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestObserveDispatchesCallbacks(t *testing.T) {
	b := NewBus()
	defer b.Close()

	got := make(chan string, 3)
	stop := b.Observe(Observer{
		OnStateChange:        func(s domain.Session) { got <- string(s.State) },
		OnParticipantsChange: func(p []domain.Participant) { got <- p[0].DisplayName },
		OnStreamChange:       func(id domain.ParticipantID, _ *domain.Stream) { got <- string(id) },
	})
	defer stop()

	b.Publish(Event{Type: EventState, Session: domain.Session{State: domain.StateActive}})
	b.Publish(Event{Type: EventParticipants, Participants: []domain.Participant{{DisplayName: "Ann"}}})
	b.Publish(Event{Type: EventStream, ParticipantID: "bob", Stream: &domain.Stream{}})
	b.Publish(Event{Type: EventTick, Duration: time.Second})

	for _, want := range []string{"active", "Ann", "bob"} {
		select {
		case v := <-got:
			assert.Equal(t, want, v)
		case <-time.After(time.Second):
			t.Fatalf("missing %s", want)
		}
	}
}
