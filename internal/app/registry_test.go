package app

import (
	"testing"
	"time"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshots struct{ got [][]domain.Participant }

func (s *snapshots) record(p []domain.Participant) { s.got = append(s.got, p) }

func newTestRegistry() (*Registry, *snapshots) {
	s := &snapshots{}
	r := NewRegistry(s.record)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	r.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return r, s
}

func ids(ps []domain.Participant) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func TestRegistryEmitsFullSnapshotPerMutation(t *testing.T) {
	r, s := newTestRegistry()

	require.True(t, r.Add(domain.Participant{ID: domain.LocalID, DisplayName: "me"}))
	require.True(t, r.Add(domain.Participant{ID: "bob"}))
	require.True(t, r.Add(domain.Participant{ID: "carol"}))
	require.True(t, r.UpdateFlags("bob", true, false))
	require.True(t, r.Remove(domain.LocalID))

	require.Len(t, s.got, 5)
	assert.Equal(t, []domain.ParticipantID{"local"}, ids(s.got[0]))
	assert.Equal(t, []domain.ParticipantID{"local", "bob", "carol"}, ids(s.got[2]))
	assert.True(t, s.got[3][1].IsMuted)
	assert.Equal(t, []domain.ParticipantID{"bob", "carol"}, ids(s.got[4]))
	assert.Equal(t, "bob", s.got[1][1].DisplayName)
}

func TestRegistryReplayIsNoop(t *testing.T) {
	r, s := newTestRegistry()
	r.Add(domain.Participant{ID: "bob", DisplayName: "Bob"})
	joined := r.Snapshot()[0].JoinedAt

	assert.False(t, r.Add(domain.Participant{ID: "bob", DisplayName: "Bob"}))
	assert.False(t, r.UpdateFlags("bob", false, false))
	assert.False(t, r.Remove("nobody"))
	assert.Len(t, s.got, 1)

	assert.True(t, r.Add(domain.Participant{ID: "bob", DisplayName: "Robert"}))
	p, ok := r.Get("bob")
	require.True(t, ok)
	assert.Equal(t, "Robert", p.DisplayName)
	assert.Equal(t, joined, p.JoinedAt)
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r, _ := newTestRegistry()
	r.Add(domain.Participant{ID: "bob"})
	snap := r.Snapshot()
	snap[0].IsMuted = true

	p, _ := r.Get("bob")
	assert.False(t, p.IsMuted)
}

func TestRegistryRemotesAndClear(t *testing.T) {
	r, s := newTestRegistry()
	r.Add(domain.Participant{ID: domain.LocalID})
	r.Add(domain.Participant{ID: "b"})
	r.Add(domain.Participant{ID: "a"})

	assert.Equal(t, []domain.ParticipantID{"b", "a"}, r.Remotes())
	r.Clear()
	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Len(t, s.got, 4)
	assert.Empty(t, s.got[3])
}
