package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/botfleet/coordinator/internal/domain"
)

func (s *Store) GetStatus(ctx context.Context, tenantID string) (domain.TenantStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, status, grace_deadline, data_delete_after, updated_at, updated_by
		FROM tenant_status WHERE tenant_id = $1
	`, tenantID)

	var (
		status          domain.TenantStatus
		statusValue     string
		graceDeadline   sql.NullTime
		dataDeleteAfter sql.NullTime
	)
	err := row.Scan(&status.TenantID, &statusValue, &graceDeadline, &dataDeleteAfter, &status.UpdatedAt, &status.UpdatedBy)
	if err == sql.ErrNoRows {
		return domain.DefaultTenantStatus(tenantID), nil
	}
	if err != nil {
		return domain.TenantStatus{}, err
	}
	status.Status = domain.TenantAccountStatus(statusValue)
	status.GraceDeadline = fromNullTime(graceDeadline)
	status.DataDeleteAfter = fromNullTime(dataDeleteAfter)
	status.UpdatedAt = status.UpdatedAt.UTC()
	return status, nil
}

func (s *Store) PutStatus(ctx context.Context, status domain.TenantStatus) error {
	status.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_status (tenant_id, status, grace_deadline, data_delete_after, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id) DO UPDATE
		SET status = $2, grace_deadline = $3, data_delete_after = $4, updated_at = $5, updated_by = $6
	`, status.TenantID, string(status.Status), toNullTime(status.GraceDeadline), toNullTime(status.DataDeleteAfter), status.UpdatedAt, status.UpdatedBy)
	return err
}
