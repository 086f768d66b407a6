package postgres

import (
	"context"
	"database/sql"
	"time"

	svcerrors "github.com/botfleet/coordinator/infrastructure/errors"
	"github.com/botfleet/coordinator/internal/domain"
	"github.com/google/uuid"
)

func (s *Store) CreateEvent(ctx context.Context, event domain.RecoveryEvent) (domain.RecoveryEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.StartedAt.IsZero() {
		event.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recovery_events (id, node_id, trigger, status, tenants_total, tenants_recovered, tenants_failed, tenants_waiting, started_at, completed_at, report_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, event.ID, event.NodeID, string(event.Trigger), string(event.Status), event.TenantsTotal, event.TenantsRecovered, event.TenantsFailed, event.TenantsWaiting, event.StartedAt, toNullTime(event.CompletedAt), event.ReportJSON)
	if err != nil {
		return domain.RecoveryEvent{}, err
	}
	return event, nil
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (domain.RecoveryEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, node_id, trigger, status, tenants_total, tenants_recovered, tenants_failed, tenants_waiting, started_at, completed_at, report_json
		FROM recovery_events WHERE id = $1
	`, eventID)

	event, err := scanRecoveryEvent(row)
	if err == sql.ErrNoRows {
		return domain.RecoveryEvent{}, svcerrors.NotFound("recovery_event", eventID)
	}
	if err != nil {
		return domain.RecoveryEvent{}, err
	}
	return event, nil
}

func (s *Store) UpdateEvent(ctx context.Context, event domain.RecoveryEvent) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE recovery_events
		SET status = $2, tenants_total = $3, tenants_recovered = $4, tenants_failed = $5, tenants_waiting = $6, completed_at = $7, report_json = $8
		WHERE id = $1
	`, event.ID, string(event.Status), event.TenantsTotal, event.TenantsRecovered, event.TenantsFailed, event.TenantsWaiting, toNullTime(event.CompletedAt), event.ReportJSON)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return svcerrors.NotFound("recovery_event", event.ID)
	}
	return nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.RecoveryItem) (domain.RecoveryItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.StartedAt.IsZero() {
		item.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recovery_items (id, recovery_event_id, tenant, source_node, target_node, backup_key, status, reason, started_at, completed_at, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, item.ID, item.RecoveryEventID, item.Tenant, item.SourceNode, toNullString(item.TargetNode), item.BackupKey, string(item.Status), item.Reason, item.StartedAt, toNullTime(item.CompletedAt), item.RetryCount)
	if err != nil {
		return domain.RecoveryItem{}, err
	}
	return item, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.RecoveryItem) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE recovery_items
		SET target_node = $2, backup_key = $3, status = $4, reason = $5, completed_at = $6, retry_count = $7
		WHERE id = $1
	`, item.ID, toNullString(item.TargetNode), item.BackupKey, string(item.Status), item.Reason, toNullTime(item.CompletedAt), item.RetryCount)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return svcerrors.NotFound("recovery_item", item.ID)
	}
	return nil
}

func (s *Store) ListItems(ctx context.Context, eventID string, status domain.RecoveryItemStatus) ([]domain.RecoveryItem, error) {
	query := `
		SELECT id, recovery_event_id, tenant, source_node, target_node, backup_key, status, reason, started_at, completed_at, retry_count
		FROM recovery_items WHERE recovery_event_id = $1
	`
	args := []any{eventID}
	if status != "" {
		args = append(args, string(status))
		query += " AND status = $2"
	}
	query += " ORDER BY started_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.RecoveryItem
	for rows.Next() {
		item, err := scanRecoveryItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func (s *Store) ListOpenEventsWithWaiting(ctx context.Context) ([]domain.RecoveryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, node_id, trigger, status, tenants_total, tenants_recovered, tenants_failed, tenants_waiting, started_at, completed_at, report_json
		FROM recovery_events
		WHERE tenants_waiting > 0
		ORDER BY started_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.RecoveryEvent
	for rows.Next() {
		event, err := scanRecoveryEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	return result, rows.Err()
}

func scanRecoveryEvent(scanner rowScanner) (domain.RecoveryEvent, error) {
	var (
		event       domain.RecoveryEvent
		trigger     string
		status      string
		completedAt sql.NullTime
	)
	if err := scanner.Scan(&event.ID, &event.NodeID, &trigger, &status, &event.TenantsTotal, &event.TenantsRecovered, &event.TenantsFailed, &event.TenantsWaiting, &event.StartedAt, &completedAt, &event.ReportJSON); err != nil {
		return domain.RecoveryEvent{}, err
	}
	event.Trigger = domain.RecoveryTrigger(trigger)
	event.Status = domain.RecoveryEventStatus(status)
	event.CompletedAt = fromNullTime(completedAt)
	event.StartedAt = event.StartedAt.UTC()
	return event, nil
}

func scanRecoveryItem(scanner rowScanner) (domain.RecoveryItem, error) {
	var (
		item        domain.RecoveryItem
		targetNode  sql.NullString
		status      string
		completedAt sql.NullTime
	)
	if err := scanner.Scan(&item.ID, &item.RecoveryEventID, &item.Tenant, &item.SourceNode, &targetNode, &item.BackupKey, &status, &item.Reason, &item.StartedAt, &completedAt, &item.RetryCount); err != nil {
		return domain.RecoveryItem{}, err
	}
	if targetNode.Valid {
		item.TargetNode = targetNode.String
	}
	item.Status = domain.RecoveryItemStatus(status)
	item.CompletedAt = fromNullTime(completedAt)
	item.StartedAt = item.StartedAt.UTC()
	return item, nil
}
