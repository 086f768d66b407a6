package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	svcerrors "github.com/botfleet/coordinator/infrastructure/errors"
	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/storage"
	"github.com/google/uuid"
)

func (s *Store) GetNode(ctx context.Context, nodeID string) (domain.Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, host, capacity_mb, used_mb, status, last_heartbeat_at, agent_version, owner_user_id, label, node_secret_hash, provider_id, created_at, updated_at
		FROM nodes
		WHERE id = $1
	`, nodeID)

	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return domain.Node{}, svcerrors.NotFound("node", nodeID)
	}
	if err != nil {
		return domain.Node{}, err
	}
	return node, nil
}

func (s *Store) ListNodes(ctx context.Context, filter storage.NodeFilter) ([]domain.Node, error) {
	query := `
		SELECT id, host, capacity_mb, used_mb, status, last_heartbeat_at, agent_version, owner_user_id, label, node_secret_hash, provider_id, created_at, updated_at
		FROM nodes
		WHERE 1=1
	`
	var args []any
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			args = append(args, string(st))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += fmt.Sprintf(" AND status IN (%s)", strings.Join(placeholders, ", "))
	}
	if filter.HasHost {
		query += " AND host <> ''"
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, node)
	}
	return result, rows.Err()
}

func (s *Store) CreateNode(ctx context.Context, node domain.Node) (domain.Node, error) {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	node.CreatedAt = now
	node.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, host, capacity_mb, used_mb, status, last_heartbeat_at, agent_version, owner_user_id, label, node_secret_hash, provider_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, node.ID, node.Host, node.CapacityMb, node.UsedMb, string(node.Status), node.LastHeartbeatAt, node.AgentVersion, node.OwnerUserID, node.Label, node.NodeSecretHash, node.ProviderID, node.CreatedAt, node.UpdatedAt)
	if err != nil {
		return domain.Node{}, err
	}
	return node, nil
}

func (s *Store) UpdateNodeMetadata(ctx context.Context, node domain.Node) (domain.Node, error) {
	existing, err := s.GetNode(ctx, node.ID)
	if err != nil {
		return domain.Node{}, err
	}

	node.Status = existing.Status
	node.CreatedAt = existing.CreatedAt
	node.UpdatedAt = time.Now().UTC()
	if node.ProviderID == "" {
		node.ProviderID = existing.ProviderID
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE nodes
		SET host = $2, capacity_mb = $3, agent_version = $4, owner_user_id = $5, label = $6, provider_id = $7, updated_at = $8
		WHERE id = $1
	`, node.ID, node.Host, node.CapacityMb, node.AgentVersion, node.OwnerUserID, node.Label, node.ProviderID, node.UpdatedAt)
	if err != nil {
		return domain.Node{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.Node{}, svcerrors.NotFound("node", node.ID)
	}
	return node, nil
}

func (s *Store) UpdateHeartbeat(ctx context.Context, nodeID string, usedMb int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET used_mb = $2, last_heartbeat_at = $3, updated_at = $3
		WHERE id = $1
	`, nodeID, usedMb, at.UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return svcerrors.NotFound("node", nodeID)
	}
	return nil
}

func (s *Store) AdjustUsedMb(ctx context.Context, nodeID string, deltaMb int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET used_mb = GREATEST(used_mb + $2, 0), updated_at = $3
		WHERE id = $1
	`, nodeID, deltaMb, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return svcerrors.NotFound("node", nodeID)
	}
	return nil
}

// CASTransition implements the read-check-CAS-insert-return protocol from
// statemachine.Store: the status flip and its audit row commit atomically,
// and an UPDATE matching zero rows means the node moved out from under the
// caller (ok=false, no error).
func (s *Store) CASTransition(ctx context.Context, nodeID string, from, to domain.NodeStatus, reason, triggeredBy string) (domain.Node, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Node{}, false, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE nodes SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, nodeID, string(from), string(to), now)
	if err != nil {
		return domain.Node{}, false, err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.Node{}, false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO node_transitions (id, node_id, from_status, to_status, reason, triggered_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), nodeID, string(from), string(to), reason, triggeredBy, now); err != nil {
		return domain.Node{}, false, err
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, host, capacity_mb, used_mb, status, last_heartbeat_at, agent_version, owner_user_id, label, node_secret_hash, provider_id, created_at, updated_at
		FROM nodes WHERE id = $1
	`, nodeID)
	node, err := scanNode(row)
	if err != nil {
		return domain.Node{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Node{}, false, err
	}
	return node, true, nil
}

func (s *Store) ListTransitions(ctx context.Context, nodeID string, limit int) ([]domain.NodeTransition, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, node_id, from_status, to_status, reason, triggered_by, created_at
		FROM node_transitions
		WHERE node_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, nodeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.NodeTransition
	for rows.Next() {
		var (
			t          domain.NodeTransition
			fromStatus string
			toStatus   string
		)
		if err := rows.Scan(&t.ID, &t.NodeID, &fromStatus, &toStatus, &t.Reason, &t.TriggeredBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.FromStatus = domain.NodeStatus(fromStatus)
		t.ToStatus = domain.NodeStatus(toStatus)
		result = append(result, t)
	}
	return result, rows.Err()
}

func scanNode(scanner rowScanner) (domain.Node, error) {
	var (
		node   domain.Node
		status string
	)
	if err := scanner.Scan(&node.ID, &node.Host, &node.CapacityMb, &node.UsedMb, &status, &node.LastHeartbeatAt, &node.AgentVersion, &node.OwnerUserID, &node.Label, &node.NodeSecretHash, &node.ProviderID, &node.CreatedAt, &node.UpdatedAt); err != nil {
		return domain.Node{}, err
	}
	node.Status = domain.NodeStatus(status)
	node.LastHeartbeatAt = node.LastHeartbeatAt.UTC()
	node.CreatedAt = node.CreatedAt.UTC()
	node.UpdatedAt = node.UpdatedAt.UTC()
	return node, nil
}
