package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
)

// StaticDirectory resolves group ids from configuration.
type StaticDirectory struct {
	mu     sync.RWMutex
	groups map[string][]domain.ParticipantID
}

func NewStaticDirectory(groups map[string][]string) *StaticDirectory {
	d := &StaticDirectory{groups: make(map[string][]domain.ParticipantID, len(groups))}
	for g, members := range groups {
		d.Set(g, members)
	}
	return d
}

func (d *StaticDirectory) Set(groupID string, members []string) {
	ids := make([]domain.ParticipantID, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, dup := seen[m]; dup || m == "" {
			continue
		}
		seen[m] = struct{}{}
		ids = append(ids, domain.ParticipantID(m))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	d.mu.Lock()
	d.groups[groupID] = ids
	d.mu.Unlock()
}

func (d *StaticDirectory) Members(_ context.Context, groupID string) ([]domain.ParticipantID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids, ok := d.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("group %q: %w", groupID, ErrUnknownGroup)
	}
	return append([]domain.ParticipantID(nil), ids...), nil
}
