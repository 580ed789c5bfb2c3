package app

import (
	"sync"
	"time"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry is the authoritative member set of the current call, ordered by
// join time. Every effective mutation hands a full snapshot to onChange.
type Registry struct {
	mu       sync.RWMutex
	order    []domain.ParticipantID
	byID     map[domain.ParticipantID]*domain.Participant
	onChange func([]domain.Participant)
	now      func() time.Time
}

func NewRegistry(onChange func([]domain.Participant)) *Registry {
	if onChange == nil {
		onChange = func([]domain.Participant) {}
	}
	return &Registry{
		byID:     make(map[domain.ParticipantID]*domain.Participant),
		onChange: onChange,
		now:      time.Now,
	}
}

// Add inserts p, or merges presentation metadata into an existing entry.
// Replaying the same participant is a no-op.
func (r *Registry) Add(p domain.Participant) bool {
	r.mu.Lock()
	cur, ok := r.byID[p.ID]
	changed := false
	if ok {
		if p.DisplayName != "" && p.DisplayName != cur.DisplayName {
			cur.DisplayName = p.DisplayName
			changed = true
		}
		if p.AvatarRef != "" && p.AvatarRef != cur.AvatarRef {
			cur.AvatarRef = p.AvatarRef
			changed = true
		}
	} else {
		if p.JoinedAt.IsZero() {
			p.JoinedAt = r.now()
		}
		if p.DisplayName == "" {
			p.DisplayName = string(p.ID)
		}
		r.byID[p.ID] = &p
		r.order = append(r.order, p.ID)
		changed = true
		log.Info().Str("module", "app.registry").Str("peer", string(p.ID)).Msg("participant added")
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if changed {
		r.onChange(snap)
	}
	return changed
}

func (r *Registry) Remove(id domain.ParticipantID) bool {
	r.mu.Lock()
	if _, ok := r.byID[id]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byID, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("participant removed")
	r.onChange(snap)
	return true
}

func (r *Registry) UpdateFlags(id domain.ParticipantID, muted, cameraOn bool) bool {
	r.mu.Lock()
	p, ok := r.byID[id]
	if !ok || (p.IsMuted == muted && p.IsCameraOn == cameraOn) {
		r.mu.Unlock()
		return false
	}
	p.IsMuted = muted
	p.IsCameraOn = cameraOn
	snap := r.snapshotLocked()
	r.mu.Unlock()

	log.Debug().Str("module", "app.registry").Str("peer", string(id)).Bool("muted", muted).Bool("camera", cameraOn).Msg("flags updated")
	r.onChange(snap)
	return true
}

// Clear drops every participant when a session ends. It emits one empty
// snapshot if anything was removed.
func (r *Registry) Clear() {
	r.mu.Lock()
	if len(r.order) == 0 {
		r.mu.Unlock()
		return
	}
	r.order = nil
	r.byID = make(map[domain.ParticipantID]*domain.Participant)
	r.mu.Unlock()
	r.onChange([]domain.Participant{})
}

func (r *Registry) Get(id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.byID[id]; ok {
		return *p, true
	}
	return domain.Participant{}, false
}

func (r *Registry) Snapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Remotes lists every participant except the local one, in join order.
func (r *Registry) Remotes() []domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ParticipantID, 0, len(r.order))
	for _, id := range r.order {
		if id != domain.LocalID {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) snapshotLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}
