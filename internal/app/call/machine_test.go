package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/adapters/signal"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app/events"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/core/coretest"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectVideoCallEndToEnd(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")

	connect(t, alice, bob, domain.KindVideo)
	assert.False(t, alice.m.Session().StartedAt.IsZero())
	assert.Equal(t, 1, alice.m.Links())
	assert.Equal(t, 1, bob.m.Links())
	assert.ElementsMatch(t, []domain.ParticipantID{domain.LocalID, "bob"}, alice.participantIDs())
	assert.ElementsMatch(t, []domain.ParticipantID{domain.LocalID, "alice"}, bob.participantIDs())

	require.NoError(t, alice.m.EndCall())
	alice.waitState(t, domain.StateEnded)
	bob.waitState(t, domain.StateEnded)

	want := []domain.State{domain.StateInitiating, domain.StateRinging, domain.StateConnecting, domain.StateActive, domain.StateEnded}
	alice.waitLogStates(t, len(want))
	bob.waitLogStates(t, len(want))
	assert.Equal(t, want, alice.log.states())
	assert.Equal(t, want, bob.log.states())
	for _, p := range []*peer{alice, bob} {
		assert.Equal(t, 0, p.m.Links(), p.id)
		assert.Equal(t, 0, p.devices.Live(), p.id)
		assert.Empty(t, p.m.Snapshot().Participants, p.id)
		for _, c := range p.factory.Conns() {
			assert.True(t, c.IsClosed())
		}
	}
	assert.Equal(t, string(domain.ReasonHangup), bob.m.Session().Reason)
}

func TestEndCallIsIdempotent(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")
	connect(t, alice, bob, domain.KindVideo)

	require.NoError(t, bob.m.EndCall())
	require.NoError(t, bob.m.EndCall())
	alice.waitState(t, domain.StateEnded)
	bob.waitLogStates(t, 5)
	time.Sleep(20 * time.Millisecond)

	ended := 0
	for _, s := range bob.log.states() {
		if s == domain.StateEnded {
			ended++
		}
	}
	assert.Equal(t, 1, ended)
	for _, tr := range bob.devices.Opened() {
		assert.Equal(t, 1, tr.Stops(), tr.ID())
	}
	require.NoError(t, alice.m.EndCall())
}

func TestOutgoingCancelledWhileRinging(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")

	_, err := alice.m.StartCall(context.Background(), Target{Peer: "bob"}, domain.KindVideo)
	require.NoError(t, err)
	alice.waitRinging(t, domain.DirectionOutgoing)
	bob.waitRinging(t, domain.DirectionIncoming)

	require.NoError(t, alice.m.EndCall())
	alice.waitState(t, domain.StateEnded)
	bob.waitState(t, domain.StateEnded)

	assert.Empty(t, alice.factory.Conns())
	assert.Empty(t, bob.factory.Conns())
	assert.Equal(t, 0, alice.devices.Live())
	assert.NotContains(t, alice.log.states(), domain.StateConnecting)
	assert.NotContains(t, bob.log.states(), domain.StateConnecting)
}

func TestCancelDuringMediaAcquisition(t *testing.T) {
	hub := coretest.NewHub()
	gate := make(chan struct{})
	defer close(gate)
	alice := newPeer(t, hub, "alice", func(_ *Config, _ *Deps, p *peer) { p.devices.Gate = gate })
	newPeer(t, hub, "bob")

	_, err := alice.m.StartCall(context.Background(), Target{Peer: "bob"}, domain.KindVideo)
	require.NoError(t, err)
	assert.Equal(t, domain.StateInitiating, alice.m.Session().State)

	require.NoError(t, alice.m.EndCall())
	alice.waitState(t, domain.StateEnded)

	require.Eventually(t, func() bool { return len(alice.devices.Opened()) > 0 }, wait, 5*time.Millisecond)
	require.Eventually(t, func() bool { return alice.devices.Live() == 0 }, wait, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, hub.Sent("alice", string(signal.TypeInvite)))
	assert.Equal(t, domain.StateEnded, alice.m.Session().State)
}

func TestGroupCallSurvivesOnePeerTimeout(t *testing.T) {
	hub := coretest.NewHub()
	groups := map[string][]string{"team": {"alice", "bob", "carol", "dave"}}
	alice := newPeer(t, hub, "alice", withGroups(groups), withTimeouts(func(to *Timeouts) {
		to.Negotiation = 400 * time.Millisecond
	}))
	alice.factory.Stall("dave")
	members := []*peer{newPeer(t, hub, "bob"), newPeer(t, hub, "carol"), newPeer(t, hub, "dave")}

	_, err := alice.m.StartCall(context.Background(), Target{Group: "team"}, domain.KindVideo)
	require.NoError(t, err)
	for _, p := range members {
		p.waitRinging(t, domain.DirectionIncoming)
		assert.Equal(t, domain.ModeGroup, p.m.Session().Mode)
		require.NoError(t, p.m.AcceptIncoming())
	}
	alice.waitState(t, domain.StateActive)

	require.Eventually(t, func() bool { return alice.m.Links() == 2 }, wait, 10*time.Millisecond)
	assert.Equal(t, domain.StateActive, alice.m.Session().State)
	assert.ElementsMatch(t, []domain.ParticipantID{domain.LocalID, "bob", "carol"}, alice.participantIDs())

	// the initiator introduced bob and carol to each other
	bob, carol, dave := members[0], members[1], members[2]
	require.Eventually(t, func() bool { return bob.m.Links() == 2 && carol.m.Links() == 2 }, wait, 10*time.Millisecond)
	assert.ElementsMatch(t, []domain.ParticipantID{domain.LocalID, "alice", "carol"}, bob.participantIDs())
	assert.Len(t, hub.Sent("bob", string(signal.TypeInvite)), 1, "smaller id offers")
	assert.Empty(t, hub.Sent("carol", string(signal.TypeInvite)))

	// dave was told to leave and is alone
	dave.waitState(t, domain.StateEnded)
}

func TestGroupMemberLeavingKeepsCall(t *testing.T) {
	hub := coretest.NewHub()
	groups := map[string][]string{"team": {"alice", "bob", "carol"}}
	alice := newPeer(t, hub, "alice", withGroups(groups))
	bob, carol := newPeer(t, hub, "bob"), newPeer(t, hub, "carol")

	_, err := alice.m.StartCall(context.Background(), Target{Group: "team"}, domain.KindAudio)
	require.NoError(t, err)
	for _, p := range []*peer{bob, carol} {
		p.waitRinging(t, domain.DirectionIncoming)
		require.NoError(t, p.m.AcceptIncoming())
	}
	require.Eventually(t, func() bool { return bob.m.Links() == 2 }, wait, 10*time.Millisecond)

	require.NoError(t, carol.m.EndCall())
	require.Eventually(t, func() bool {
		return len(alice.participantIDs()) == 2 && len(bob.participantIDs()) == 2
	}, wait, 10*time.Millisecond)
	assert.Equal(t, domain.StateActive, alice.m.Session().State)
	assert.Equal(t, domain.StateActive, bob.m.Session().State)

	require.NoError(t, bob.m.EndCall())
	alice.waitState(t, domain.StateEnded)
}

func TestScreenShareRenegotiatesEachLinkOnce(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")
	connect(t, alice, bob, domain.KindVideo)

	conn := alice.factory.Last("bob")
	require.Equal(t, 1, conn.Offers())
	aliceMark, bobMark := alice.log.mark(), bob.log.mark()

	require.NoError(t, alice.m.ToggleScreenShare(context.Background()))
	require.Eventually(t, func() bool {
		return alice.log.count(aliceMark, events.EventStream, func(ev events.Event) bool { return ev.ParticipantID == "bob" }) == 1
	}, wait, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return bob.log.count(bobMark, events.EventStream, func(ev events.Event) bool { return ev.ParticipantID == "alice" }) == 1
	}, wait, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 2, conn.Offers())
	assert.Equal(t, []domain.MediaKind{domain.MediaVideo}, conn.Replaced())
	assert.Equal(t, 1, alice.log.count(aliceMark, events.EventStream, func(ev events.Event) bool { return ev.ParticipantID == "bob" }))
	assert.Equal(t, 1, bob.log.count(bobMark, events.EventStream, func(ev events.Event) bool { return ev.ParticipantID == "alice" }))

	local := alice.m.Stream(domain.LocalID)
	require.NotNil(t, local)
	vt, ok := local.Track(domain.MediaVideo)
	require.True(t, ok)
	assert.Equal(t, domain.SourceScreen, vt.Source)
	assert.Equal(t, domain.StateActive, alice.m.Session().State)
}

func TestToggleMuteTwiceRestoresAndRelaysFlags(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")
	connect(t, alice, bob, domain.KindVideo)

	require.NoError(t, alice.m.ToggleMute(context.Background()))
	local, ok := findParticipant(alice, domain.LocalID)
	require.True(t, ok)
	assert.True(t, local.IsMuted)
	require.Eventually(t, func() bool {
		p, ok := findParticipant(bob, "alice")
		return ok && p.IsMuted
	}, wait, 5*time.Millisecond)

	require.NoError(t, alice.m.ToggleMute(context.Background()))
	local, _ = findParticipant(alice, domain.LocalID)
	assert.False(t, local.IsMuted)
	require.Eventually(t, func() bool {
		p, ok := findParticipant(bob, "alice")
		return ok && !p.IsMuted
	}, wait, 5*time.Millisecond)

	require.NoError(t, alice.m.ToggleCamera(context.Background()))
	local, _ = findParticipant(alice, domain.LocalID)
	assert.False(t, local.IsCameraOn)
}

func TestDuplicateCandidateForConnectedLinkIsNoop(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")
	connect(t, alice, bob, domain.KindAudio)

	conn := bob.factory.Last("alice")
	before := len(conn.Candidates())
	sid := bob.m.Session().ID
	cand := webrtc.ICECandidateInit{Candidate: "candidate:replay 1 udp 1 127.0.0.1 9 typ host"}
	frame, err := signal.Encode(signal.TypeCandidate, sid, "alice", "bob", signal.CandidatePayload{Candidate: cand})
	require.NoError(t, err)
	hub.Inject("bob", frame)
	hub.Inject("bob", frame)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, conn.Candidates(), before)
	assert.Equal(t, domain.StateActive, bob.m.Session().State)
}

func TestDeclineEndsBothSides(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")

	_, err := alice.m.StartCall(context.Background(), Target{Peer: "bob"}, domain.KindAudio)
	require.NoError(t, err)
	bob.waitRinging(t, domain.DirectionIncoming)
	require.NoError(t, bob.m.DeclineIncoming())

	alice.waitState(t, domain.StateEnded)
	assert.Equal(t, string(domain.ReasonDeclined), alice.m.Session().Reason)
	assert.Equal(t, domain.StateEnded, bob.m.Session().State)
	assert.Equal(t, 0, alice.devices.Live())
}

func TestBusyPeerDeclines(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")
	carol := newPeer(t, hub, "carol")
	connect(t, alice, bob, domain.KindAudio)

	_, err := carol.m.StartCall(context.Background(), Target{Peer: "bob"}, domain.KindAudio)
	require.NoError(t, err)
	carol.waitState(t, domain.StateEnded)
	assert.Equal(t, string(domain.ReasonDeclined), carol.m.Session().Reason)
	assert.Equal(t, domain.StateActive, bob.m.Session().State)
}

func TestRingingTimeout(t *testing.T) {
	hub := coretest.NewHub()
	short := withTimeouts(func(to *Timeouts) { to.Ringing = 100 * time.Millisecond })
	alice := newPeer(t, hub, "alice", short)
	bob := newPeer(t, hub, "bob", withTimeouts(func(to *Timeouts) { to.Ringing = time.Minute }))

	_, err := alice.m.StartCall(context.Background(), Target{Peer: "bob"}, domain.KindAudio)
	require.NoError(t, err)
	bob.waitRinging(t, domain.DirectionIncoming)

	alice.waitState(t, domain.StateEnded)
	bob.waitState(t, domain.StateEnded)
	assert.Equal(t, domain.RingingTimeout, alice.m.Session().Reason)
	assert.Len(t, hub.Sent("alice", string(signal.TypeEnd)), 1)
}

func TestIncomingRingingTimeoutDeclines(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice", withTimeouts(func(to *Timeouts) { to.Ringing = time.Minute }))
	bob := newPeer(t, hub, "bob", withTimeouts(func(to *Timeouts) { to.Ringing = 100 * time.Millisecond }))

	_, err := alice.m.StartCall(context.Background(), Target{Peer: "bob"}, domain.KindAudio)
	require.NoError(t, err)

	alice.waitState(t, domain.StateEnded)
	assert.Equal(t, string(domain.ReasonDeclined), alice.m.Session().Reason)
	bob.waitState(t, domain.StateEnded)
	assert.Equal(t, domain.RingingTimeout, bob.m.Session().Reason)
}

func TestDeviceFailureGoesThroughError(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice", func(_ *Config, _ *Deps, p *peer) { p.devices.Err = errors.New("no camera") })

	_, err := alice.m.StartCall(context.Background(), Target{Peer: "bob"}, domain.KindVideo)
	require.NoError(t, err)
	alice.waitState(t, domain.StateEnded)
	alice.waitLogStates(t, 3)

	assert.Equal(t, []domain.State{domain.StateInitiating, domain.StateError, domain.StateEnded}, alice.log.states())
	assert.Contains(t, alice.m.Session().Reason, "no camera")
	assert.Empty(t, hub.Sent("alice", string(signal.TypeInvite)))
}

func TestConnectingTimeout(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice", withTimeouts(func(to *Timeouts) {
		to.Connecting = 100 * time.Millisecond
		to.Negotiation = time.Minute
	}))
	alice.factory.Manual = true
	bob := newPeer(t, hub, "bob")

	_, err := alice.m.StartCall(context.Background(), Target{Peer: "bob"}, domain.KindAudio)
	require.NoError(t, err)
	bob.waitRinging(t, domain.DirectionIncoming)
	require.NoError(t, bob.m.AcceptIncoming())

	alice.waitState(t, domain.StateEnded)
	alice.waitLogStates(t, 5)
	assert.Equal(t, domain.StateError, alice.log.states()[3])
	assert.NotContains(t, alice.log.states(), domain.StateActive)
	require.Eventually(t, func() bool { return len(hub.Sent("alice", string(signal.TypeEnd))) > 0 }, wait, 5*time.Millisecond)
	bob.waitState(t, domain.StateEnded)
}

func TestSignalingOutageFailsSession(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")
	connect(t, alice, bob, domain.KindAudio)

	alice.pipe.SetDown(true)
	alice.waitState(t, domain.StateEnded)
	alice.waitLogStates(t, 6)
	assert.Equal(t, domain.StateError, alice.log.states()[4])
	assert.Contains(t, alice.m.Session().Reason, "signaling")
	assert.Equal(t, 0, alice.devices.Live())
}

func TestShortSignalingOutageIsTolerated(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice", withTimeouts(func(to *Timeouts) { to.SignalingGrace = time.Minute }))
	bob := newPeer(t, hub, "bob")
	connect(t, alice, bob, domain.KindAudio)

	alice.pipe.SetDown(true)
	alice.pipe.SetDown(false)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.StateActive, alice.m.Session().State)
}

func TestIntentsRejectedInWrongState(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")

	assert.ErrorIs(t, alice.m.AcceptIncoming(), domain.ErrInvalidTransition)
	assert.ErrorIs(t, alice.m.DeclineIncoming(), domain.ErrInvalidTransition)
	assert.ErrorIs(t, alice.m.ToggleMute(context.Background()), domain.ErrNoActiveCall)
	assert.NoError(t, alice.m.EndCall())

	_, err := alice.m.StartCall(context.Background(), Target{Peer: "alice"}, domain.KindAudio)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = alice.m.StartCall(context.Background(), Target{}, domain.KindAudio)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = alice.m.StartCall(context.Background(), Target{Peer: "bob"}, "hologram")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	connect(t, alice, bob, domain.KindAudio)
	_, err = alice.m.StartCall(context.Background(), Target{Peer: "carol"}, domain.KindAudio)
	assert.ErrorIs(t, err, domain.ErrCallInProgress)
	assert.ErrorIs(t, bob.m.AcceptIncoming(), domain.ErrInvalidTransition)
}

func TestNewCallAfterEnded(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")

	connect(t, alice, bob, domain.KindAudio)
	first := alice.m.Session().ID
	require.NoError(t, alice.m.EndCall())
	bob.waitState(t, domain.StateEnded)

	connect(t, bob, alice, domain.KindVideo)
	assert.NotEqual(t, first, alice.m.Session().ID)
	assert.Equal(t, domain.DirectionIncoming, alice.m.Session().Direction)
}

func TestStaleMessagesAfterEndAreDropped(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")
	connect(t, alice, bob, domain.KindAudio)
	sid := alice.m.Session().ID
	require.NoError(t, alice.m.EndCall())
	bob.waitState(t, domain.StateEnded)

	mark := bob.log.mark()
	for _, f := range []struct {
		typ signal.Type
		v   any
	}{
		{signal.TypeAnswer, signal.AnswerPayload{}},
		{signal.TypeEnd, signal.EndPayload{Reason: domain.ReasonHangup}},
		{signal.TypeParticipantJoined, signal.JoinedPayload{ParticipantID: "alice"}},
		{signal.TypeInvite, signal.InvitePayload{Kind: domain.KindAudio, Mode: domain.ModeDirect}},
	} {
		frame, err := signal.Encode(f.typ, sid, "alice", "bob", f.v)
		require.NoError(t, err)
		hub.Inject("bob", frame)
	}
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, bob.log.since(mark))
	assert.Equal(t, domain.StateEnded, bob.m.Session().State)
}

func TestSnapshotAndDuration(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")

	assert.Equal(t, domain.StateIdle, alice.m.Snapshot().Session.State)
	assert.Zero(t, alice.m.Duration())

	connect(t, alice, bob, domain.KindVideo)
	time.Sleep(10 * time.Millisecond)
	snap := alice.m.Snapshot()
	assert.Equal(t, domain.StateActive, snap.Session.State)
	assert.Positive(t, snap.Duration)
	assert.Len(t, snap.Participants, 2)
	assert.Equal(t, "User alice", snap.Participants[0].DisplayName)
	assert.Equal(t, "User bob", snap.Participants[1].DisplayName)

	caller, ok := findParticipant(bob, "alice")
	require.True(t, ok)
	assert.Equal(t, "User alice", caller.DisplayName)
}

func TestCalleeLearnsCallerMetadataWhileRinging(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice", func(c *Config, _ *Deps, _ *peer) { c.Self.AvatarRef = "avatars/alice.png" })
	bob := newPeer(t, hub, "bob")

	_, err := alice.m.StartCall(context.Background(), Target{Peer: "bob"}, domain.KindVideo)
	require.NoError(t, err)
	bob.waitRinging(t, domain.DirectionIncoming)

	require.Eventually(t, func() bool {
		p, ok := findParticipant(bob, "alice")
		return ok && p.DisplayName == "User alice"
	}, wait, 5*time.Millisecond)
	caller, _ := findParticipant(bob, "alice")
	assert.Equal(t, "avatars/alice.png", caller.AvatarRef)
	assert.False(t, caller.IsMuted)
	assert.True(t, caller.IsCameraOn)
}

func TestSimultaneousRenegotiationResolvesGlare(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")
	connect(t, alice, bob, domain.KindVideo)

	// hold both loops so each side offers before seeing the other's offer
	gate := make(chan struct{})
	pairs := []struct {
		p     *peer
		other domain.ParticipantID
	}{{alice, "bob"}, {bob, "alice"}}
	for _, x := range pairs {
		p, other := x.p, x.other
		require.True(t, p.m.post(func() { <-gate }))
		require.True(t, p.m.post(func() { assert.NoError(t, p.m.links.Renegotiate(other)) }))
	}
	close(gate)

	aliceConn, bobConn := alice.factory.Last("bob"), bob.factory.Last("alice")
	require.Eventually(t, func() bool {
		return aliceConn.Answers() == 1 &&
			alice.linkState("bob") == domain.NegotiationConnected &&
			bob.linkState("alice") == domain.NegotiationConnected
	}, wait, 5*time.Millisecond)

	// the larger id yields and replays its round after answering
	assert.Equal(t, 0, aliceConn.Rollbacks())
	assert.Equal(t, 1, bobConn.Rollbacks())
	assert.Equal(t, 2, aliceConn.Offers())
	assert.Equal(t, 2, bobConn.Offers())
	assert.Equal(t, 2, bobConn.Answers())
	assert.Equal(t, domain.StateActive, alice.m.Session().State)
	assert.Equal(t, domain.StateActive, bob.m.Session().State)
}

func TestConcurrentScreenShareKeepsLinksUsable(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")
	connect(t, alice, bob, domain.KindVideo)

	var wg sync.WaitGroup
	for _, p := range []*peer{alice, bob} {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.m.ToggleScreenShare(context.Background()))
		}()
	}
	wg.Wait()

	settled := func() bool {
		return alice.linkState("bob") == domain.NegotiationConnected &&
			bob.linkState("alice") == domain.NegotiationConnected
	}
	require.Eventually(t, settled, wait, 5*time.Millisecond)

	conn := alice.factory.Last("bob")
	before := conn.Offers()
	require.NoError(t, alice.m.ToggleScreenShare(context.Background()))
	require.Eventually(t, func() bool { return conn.Offers() > before && settled() }, wait, 5*time.Millisecond)
}

func TestReplayedInviteForOlderSessionIgnored(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")

	connect(t, alice, bob, domain.KindAudio)
	old := alice.m.Session().ID
	require.NoError(t, alice.m.EndCall())
	bob.waitState(t, domain.StateEnded)

	connect(t, alice, bob, domain.KindAudio)
	require.NoError(t, alice.m.EndCall())
	bob.waitState(t, domain.StateEnded)

	mark := bob.log.mark()
	frame, err := signal.Encode(signal.TypeInvite, old, "alice", "bob", signal.InvitePayload{Kind: domain.KindAudio, Mode: domain.ModeDirect})
	require.NoError(t, err)
	hub.Inject("bob", frame)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, bob.log.since(mark))
	assert.Equal(t, domain.StateEnded, bob.m.Session().State)
}

func TestEndFromOutsiderDoesNotEndDirectCall(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice")
	bob := newPeer(t, hub, "bob")
	connect(t, alice, bob, domain.KindAudio)

	frame, err := signal.Encode(signal.TypeEnd, bob.m.Session().ID, "mallory", "bob", signal.EndPayload{Reason: domain.ReasonHangup})
	require.NoError(t, err)
	hub.Inject("bob", frame)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.StateActive, bob.m.Session().State)

	require.NoError(t, alice.m.EndCall())
	bob.waitState(t, domain.StateEnded)
}

func TestTicksWhileActive(t *testing.T) {
	hub := coretest.NewHub()
	alice := newPeer(t, hub, "alice", func(c *Config, _ *Deps, _ *peer) { c.Tick = 10 * time.Millisecond })
	bob := newPeer(t, hub, "bob")
	connect(t, alice, bob, domain.KindAudio)

	require.Eventually(t, func() bool {
		return alice.log.count(0, events.EventTick, nil) >= 2
	}, wait, 5*time.Millisecond)
	require.NoError(t, alice.m.EndCall())
	alice.waitState(t, domain.StateEnded)
	time.Sleep(30 * time.Millisecond)
	mark := alice.log.mark()
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, alice.log.count(mark, events.EventTick, nil))
}

func findParticipant(p *peer, id domain.ParticipantID) (domain.Participant, bool) {
	for _, x := range p.m.Snapshot().Participants {
		if x.ID == id {
			return x, true
		}
	}
	return domain.Participant{}, false
}
