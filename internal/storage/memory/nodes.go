package memory

import (
	"context"
	"time"

	svcerrors "github.com/botfleet/coordinator/infrastructure/errors"
	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/storage"
)

func (s *Store) GetNode(_ context.Context, nodeID string) (domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return domain.Node{}, svcerrors.NotFound("node", nodeID)
	}
	return node, nil
}

func (s *Store) ListNodes(_ context.Context, filter storage.NodeFilter) ([]domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[domain.NodeStatus]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		wanted[st] = true
	}

	out := make([]domain.Node, 0, len(s.nodes))
	for _, id := range sortedKeys(s.nodes) {
		node := s.nodes[id]
		if len(wanted) > 0 && !wanted[node.Status] {
			continue
		}
		if filter.HasHost && node.Host == "" {
			continue
		}
		out = append(out, node)
	}
	return out, nil
}

func (s *Store) CreateNode(_ context.Context, node domain.Node) (domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if node.ID == "" {
		node.ID = newID()
	}
	now := time.Now().UTC()
	node.CreatedAt = now
	node.UpdatedAt = now
	s.nodes[node.ID] = node
	return node, nil
}

func (s *Store) UpdateNodeMetadata(_ context.Context, node domain.Node) (domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.nodes[node.ID]
	if !ok {
		return domain.Node{}, svcerrors.NotFound("node", node.ID)
	}
	node.Status = existing.Status
	node.CreatedAt = existing.CreatedAt
	node.UpdatedAt = time.Now().UTC()
	s.nodes[node.ID] = node
	return node, nil
}

func (s *Store) UpdateHeartbeat(_ context.Context, nodeID string, usedMb int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return svcerrors.NotFound("node", nodeID)
	}
	node.UsedMb = usedMb
	node.LastHeartbeatAt = at
	node.UpdatedAt = at
	s.nodes[nodeID] = node
	return nil
}

func (s *Store) AdjustUsedMb(_ context.Context, nodeID string, deltaMb int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return svcerrors.NotFound("node", nodeID)
	}
	node.UsedMb += deltaMb
	if node.UsedMb < 0 {
		node.UsedMb = 0
	}
	node.UpdatedAt = time.Now().UTC()
	s.nodes[nodeID] = node
	return nil
}

func (s *Store) CASTransition(_ context.Context, nodeID string, from, to domain.NodeStatus, reason, triggeredBy string) (domain.Node, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return domain.Node{}, false, svcerrors.NotFound("node", nodeID)
	}
	if node.Status != from {
		return domain.Node{}, false, nil
	}

	now := time.Now().UTC()
	node.Status = to
	node.UpdatedAt = now
	if from == domain.NodeDraining && to == domain.NodeActive {
		// Node carries no drain-specific fields, so draining->active clears
		// nothing beyond the status change.
	}
	s.nodes[nodeID] = node

	s.transitions[nodeID] = append(s.transitions[nodeID], domain.NodeTransition{
		ID:          newID(),
		NodeID:      nodeID,
		FromStatus:  from,
		ToStatus:    to,
		Reason:      reason,
		TriggeredBy: triggeredBy,
		CreatedAt:   now,
	})
	return node, true, nil
}

func (s *Store) ListTransitions(_ context.Context, nodeID string, limit int) ([]domain.NodeTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.transitions[nodeID]
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	out := make([]domain.NodeTransition, len(rows))
	copy(out, rows)
	return out, nil
}
