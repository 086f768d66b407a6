package memory

import (
	"context"

	"github.com/botfleet/coordinator/internal/storage"
)

func (s *Store) Record(_ context.Context, rec storage.ServiceHealthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := s.health[rec.NodeID]
	replaced := false
	for i, sample := range samples {
		if sample.service == rec.Service {
			samples[i] = healthSample{service: rec.Service, healthy: rec.Healthy, checkedAt: rec.CheckedAt}
			replaced = true
			break
		}
	}
	if !replaced {
		samples = append(samples, healthSample{service: rec.Service, healthy: rec.Healthy, checkedAt: rec.CheckedAt})
	}
	s.health[rec.NodeID] = samples
	return nil
}

func (s *Store) Latest(_ context.Context, nodeID string) ([]storage.ServiceHealthRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples := s.health[nodeID]
	out := make([]storage.ServiceHealthRecord, 0, len(samples))
	for _, sample := range samples {
		out = append(out, storage.ServiceHealthRecord{
			NodeID:    nodeID,
			Service:   sample.service,
			Healthy:   sample.healthy,
			CheckedAt: sample.checkedAt,
		})
	}
	return out, nil
}
