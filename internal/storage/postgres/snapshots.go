package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	svcerrors "github.com/botfleet/coordinator/infrastructure/errors"
	"github.com/botfleet/coordinator/internal/domain"
	"github.com/google/uuid"
)

func (s *Store) GetLatest(ctx context.Context, tenant, instanceID string) (domain.Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant, instance_id, user_id, type, storage_path, size_bytes, config_hash, plugins, created_at, expires_at, deleted_at
		FROM snapshots
		WHERE tenant = $1 AND instance_id = $2 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, tenant, instanceID)

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *Store) List(ctx context.Context, tenant string) ([]domain.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant, instance_id, user_id, type, storage_path, size_bytes, config_hash, plugins, created_at, expires_at, deleted_at
		FROM snapshots
		WHERE tenant = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, snap)
	}
	return result, rows.Err()
}

func (s *Store) Create(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	pluginsJSON, err := json.Marshal(snap.Plugins)
	if err != nil {
		return domain.Snapshot{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, tenant, instance_id, user_id, type, storage_path, size_bytes, config_hash, plugins, created_at, expires_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, snap.ID, snap.Tenant, snap.InstanceID, snap.UserID, string(snap.Type), snap.StoragePath, snap.SizeBytes, snap.ConfigHash, pluginsJSON, snap.CreatedAt, toNullTime(snap.ExpiresAt), toNullTime(snap.DeletedAt))
	if err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) SoftDelete(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE snapshots SET deleted_at = $2 WHERE id = $1
	`, id, at.UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return svcerrors.NotFound("snapshot", id)
	}
	return nil
}

func scanSnapshot(scanner rowScanner) (domain.Snapshot, error) {
	var (
		snap        domain.Snapshot
		snapType    string
		pluginsRaw  []byte
		expiresAt   sql.NullTime
		deletedAt   sql.NullTime
	)
	if err := scanner.Scan(&snap.ID, &snap.Tenant, &snap.InstanceID, &snap.UserID, &snapType, &snap.StoragePath, &snap.SizeBytes, &snap.ConfigHash, &pluginsRaw, &snap.CreatedAt, &expiresAt, &deletedAt); err != nil {
		return domain.Snapshot{}, err
	}
	snap.Type = domain.SnapshotType(snapType)
	if len(pluginsRaw) > 0 {
		_ = json.Unmarshal(pluginsRaw, &snap.Plugins)
	}
	snap.ExpiresAt = fromNullTime(expiresAt)
	snap.DeletedAt = fromNullTime(deletedAt)
	snap.CreatedAt = snap.CreatedAt.UTC()
	return snap, nil
}
