package memory

import (
	"context"
	"time"

	svcerrors "github.com/botfleet/coordinator/infrastructure/errors"
	"github.com/botfleet/coordinator/internal/domain"
)

func (s *Store) GetLatest(_ context.Context, tenant, instanceID string) (domain.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best domain.Snapshot
	found := false
	for _, id := range sortedKeys(s.snapshots) {
		snap := s.snapshots[id]
		if snap.Tenant != tenant || snap.InstanceID != instanceID || !snap.Live() {
			continue
		}
		if !found || snap.CreatedAt.After(best.CreatedAt) {
			best = snap
			found = true
		}
	}
	return best, found, nil
}

func (s *Store) List(_ context.Context, tenant string) ([]domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Snapshot, 0)
	for _, id := range sortedKeys(s.snapshots) {
		snap := s.snapshots[id]
		if snap.Tenant == tenant && snap.Live() {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *Store) Create(_ context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == "" {
		snap.ID = newID()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	s.snapshots[snap.ID] = snap
	return snap, nil
}

func (s *Store) SoftDelete(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return svcerrors.NotFound("snapshot", id)
	}
	snap.DeletedAt = &at
	s.snapshots[id] = snap
	return nil
}
