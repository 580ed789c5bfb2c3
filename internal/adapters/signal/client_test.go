package signal

import (
	"context"
	"testing"
	"time"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/core/coretest"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockHandler is a mock implementation of Handler
type MockHandler struct {
	mock.Mock
	calls chan string
}

func newMockHandler() *MockHandler {
	return &MockHandler{calls: make(chan string, 16)}
}

func (m *MockHandler) OnInvite(msg Message, p InvitePayload) {
	m.Called(msg.SessionID, p.Kind)
	m.calls <- string(TypeInvite)
}

func (m *MockHandler) OnAnswer(msg Message, p AnswerPayload) {
	m.Called(msg.SessionID)
	m.calls <- string(TypeAnswer)
}

func (m *MockHandler) OnCandidate(msg Message, p CandidatePayload) {
	m.Called(msg.SessionID, p.Candidate.Candidate)
	m.calls <- string(TypeCandidate)
}

func (m *MockHandler) OnParticipantJoined(msg Message, p JoinedPayload) {
	m.Called(msg.SessionID, p.ParticipantID)
	m.calls <- string(TypeParticipantJoined)
}

func (m *MockHandler) OnParticipantLeft(msg Message, p LeftPayload) {
	m.Called(msg.SessionID, p.ParticipantID)
	m.calls <- string(TypeParticipantLeft)
}

func (m *MockHandler) OnEnd(msg Message, p EndPayload) {
	m.Called(msg.SessionID, p.Reason)
	m.calls <- string(TypeEnd)
}

func (m *MockHandler) OnSignalingStatus(up bool) {
	m.Called(up)
	m.calls <- "status"
}

func (m *MockHandler) expect(t *testing.T, want ...string) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-m.calls:
			assert.Equal(t, w, got)
		case <-time.After(time.Second):
			t.Fatalf("handler never saw %s", w)
		}
	}
}

func (m *MockHandler) quiet(t *testing.T) {
	t.Helper()
	select {
	case got := <-m.calls:
		t.Fatalf("unexpected %s", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func startClient(t *testing.T, h Handler) (*coretest.Hub, *Client, *Client) {
	t.Helper()
	hub := coretest.NewHub()
	alice := NewClient(hub.Connect("alice"), "alice")
	bob := NewClient(hub.Connect("bob"), "bob")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go bob.Run(ctx, h)
	return hub, alice, bob
}

func TestClientRoutesInviteAndLiveSessionMessages(t *testing.T) {
	h := newMockHandler()
	h.On("OnInvite", domain.SessionID("s1"), domain.KindVideo).Return()
	h.On("OnEnd", domain.SessionID("s1"), domain.ReasonHangup).Return()
	h.On("OnCandidate", domain.SessionID("s1"), "candidate:1").Return()

	_, alice, bob := startClient(t, h)
	bob.SetSessionFilter(func(sid domain.SessionID) bool { return sid == "s1" })

	require.NoError(t, alice.Invite("s1", "bob", InvitePayload{Kind: domain.KindVideo, Mode: domain.ModeDirect}))
	require.NoError(t, alice.Candidate("s1", "bob", webrtc.ICECandidateInit{Candidate: "candidate:1"}))
	require.NoError(t, alice.End("s1", "bob", domain.ReasonHangup))
	h.expect(t, string(TypeInvite), string(TypeCandidate), string(TypeEnd))
	h.AssertExpectations(t)
}

func TestClientDropsUnknownSessionAndForeignRecipients(t *testing.T) {
	h := newMockHandler()
	hub, alice, bob := startClient(t, h)
	bob.SetSessionFilter(func(sid domain.SessionID) bool { return sid == "live" })
	carol := NewClient(hub.Connect("carol"), "carol")

	require.NoError(t, alice.End("stale", "bob", domain.ReasonHangup))
	require.NoError(t, alice.Accept("stale", "bob"))
	require.NoError(t, alice.End("live", "carol", domain.ReasonHangup))
	require.NoError(t, carol.Joined("stale", "", JoinedPayload{ParticipantID: "carol"}))
	hub.Inject("bob", []byte(`{"type":"end","sessionId":"live","senderId":"alice","payload":{"reason":"nope"}}`))
	hub.Inject("bob", []byte(`garbage`))
	hub.Inject("bob", []byte(`{"type":"end","sessionId":"live","senderId":"alice","recipientId":"carol","payload":{"reason":"hangup"}}`))
	hub.Inject("bob", []byte(`{"type":"end","sessionId":"live","senderId":"bob","payload":{"reason":"hangup"}}`))

	h.quiet(t)
	h.AssertNotCalled(t, "OnEnd", mock.Anything, mock.Anything)
}

func TestClientReportsTransportStatus(t *testing.T) {
	h := newMockHandler()
	h.On("OnSignalingStatus", false).Return()
	h.On("OnSignalingStatus", true).Return()

	hub := coretest.NewHub()
	pipe := hub.Connect("bob")
	bob := NewClient(pipe, "bob")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		bob.Run(ctx, h)
	}()
	<-started
	require.Eventually(t, func() bool {
		pipe.SetDown(true)
		select {
		case <-h.calls:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	pipe.SetDown(false)
	h.expect(t, "status")
	h.AssertCalled(t, "OnSignalingStatus", false)
	h.AssertCalled(t, "OnSignalingStatus", true)
}

func TestSendFailureIsSignalingUnavailable(t *testing.T) {
	hub := coretest.NewHub()
	pipe := hub.Connect("alice")
	alice := NewClient(pipe, "alice")
	pipe.SetDown(true)

	err := alice.End("s1", "bob", domain.ReasonHangup)
	assert.ErrorIs(t, err, domain.ErrSignalingUnavailable)
}
