package postgres

import (
	"context"

	"github.com/botfleet/coordinator/internal/storage"
)

func (s *Store) Record(ctx context.Context, rec storage.ServiceHealthRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_health (node_id, service, healthy, checked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (node_id, service) DO UPDATE
		SET healthy = $3, checked_at = $4
	`, rec.NodeID, rec.Service, rec.Healthy, rec.CheckedAt.UTC())
	return err
}

func (s *Store) Latest(ctx context.Context, nodeID string) ([]storage.ServiceHealthRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, service, healthy, checked_at FROM service_health WHERE node_id = $1
	`, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []storage.ServiceHealthRecord
	for rows.Next() {
		var rec storage.ServiceHealthRecord
		if err := rows.Scan(&rec.NodeID, &rec.Service, &rec.Healthy, &rec.CheckedAt); err != nil {
			return nil, err
		}
		rec.CheckedAt = rec.CheckedAt.UTC()
		result = append(result, rec)
	}
	return result, rows.Err()
}
