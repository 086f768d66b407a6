package memory

import (
	"context"
	"time"

	"github.com/botfleet/coordinator/internal/domain"
)

func (s *Store) GetStatus(_ context.Context, tenantID string) (domain.TenantStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.tenantStatus[tenantID]
	if !ok {
		return domain.DefaultTenantStatus(tenantID), nil
	}
	return status, nil
}

func (s *Store) PutStatus(_ context.Context, status domain.TenantStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status.UpdatedAt = time.Now().UTC()
	s.tenantStatus[status.TenantID] = status
	return nil
}
