package memory

import (
	"context"
	"time"

	svcerrors "github.com/botfleet/coordinator/infrastructure/errors"
	"github.com/botfleet/coordinator/internal/domain"
)

func (s *Store) CreateEvent(_ context.Context, event domain.RecoveryEvent) (domain.RecoveryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = newID()
	}
	if event.StartedAt.IsZero() {
		event.StartedAt = time.Now().UTC()
	}
	s.recoveryEvents[event.ID] = event
	return event, nil
}

func (s *Store) GetEvent(_ context.Context, eventID string) (domain.RecoveryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.recoveryEvents[eventID]
	if !ok {
		return domain.RecoveryEvent{}, svcerrors.NotFound("recovery_event", eventID)
	}
	return event, nil
}

func (s *Store) UpdateEvent(_ context.Context, event domain.RecoveryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recoveryEvents[event.ID]; !ok {
		return svcerrors.NotFound("recovery_event", event.ID)
	}
	s.recoveryEvents[event.ID] = event
	return nil
}

func (s *Store) CreateItem(_ context.Context, item domain.RecoveryItem) (domain.RecoveryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = newID()
	}
	if item.StartedAt.IsZero() {
		item.StartedAt = time.Now().UTC()
	}
	s.recoveryItems[item.ID] = item
	return item, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.RecoveryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recoveryItems[item.ID]; !ok {
		return svcerrors.NotFound("recovery_item", item.ID)
	}
	s.recoveryItems[item.ID] = item
	return nil
}

func (s *Store) ListItems(_ context.Context, eventID string, status domain.RecoveryItemStatus) ([]domain.RecoveryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.RecoveryItem, 0)
	for _, id := range sortedKeys(s.recoveryItems) {
		item := s.recoveryItems[id]
		if item.RecoveryEventID != eventID {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Store) ListOpenEventsWithWaiting(_ context.Context) ([]domain.RecoveryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.RecoveryEvent, 0)
	for _, id := range sortedKeys(s.recoveryEvents) {
		event := s.recoveryEvents[id]
		if event.TenantsWaiting > 0 {
			out = append(out, event)
		}
	}
	return out, nil
}
