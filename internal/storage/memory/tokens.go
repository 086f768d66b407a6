package memory

import (
	"context"
	"time"

	"github.com/botfleet/coordinator/internal/domain"
)

func (s *Store) Create(_ context.Context, token domain.RegistrationToken) (domain.RegistrationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token.Token == "" {
		token.Token = newID()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	s.tokens[token.Token] = token
	return token, nil
}

func (s *Store) Consume(_ context.Context, token, nodeID string, now time.Time) (domain.RegistrationToken, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.tokens[token]
	if !ok {
		return domain.RegistrationToken{}, false, nil
	}
	if row.Used || now.After(row.ExpiresAt) || now.Equal(row.ExpiresAt) {
		return domain.RegistrationToken{}, false, nil
	}

	before := row
	row.Used = true
	row.NodeID = nodeID
	usedAt := now
	row.UsedAt = &usedAt
	s.tokens[token] = row
	return before, true, nil
}

func (s *Store) ListActive(_ context.Context, userID string, now time.Time) ([]domain.RegistrationToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.RegistrationToken, 0)
	for _, k := range sortedKeys(s.tokens) {
		t := s.tokens[k]
		if t.UserID != userID || t.Used || now.After(t.ExpiresAt) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for k, t := range s.tokens {
		if now.After(t.ExpiresAt) {
			delete(s.tokens, k)
			purged++
		}
	}
	return purged, nil
}
