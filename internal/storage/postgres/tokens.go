package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/botfleet/coordinator/internal/domain"
	"github.com/google/uuid"
)

func (s *Store) Create(ctx context.Context, token domain.RegistrationToken) (domain.RegistrationToken, error) {
	if token.Token == "" {
		token.Token = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registration_tokens (token, user_id, label, created_at, expires_at, used, node_id, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, token.Token, token.UserID, token.Label, token.CreatedAt, token.ExpiresAt, token.Used, token.NodeID, toNullTime(token.UsedAt))
	if err != nil {
		return domain.RegistrationToken{}, err
	}
	return token, nil
}

// Consume relies on a single UPDATE ... WHERE used = false AND expires_at > $now
// to make the check-then-mark step atomic under concurrent callers (P8).
func (s *Store) Consume(ctx context.Context, token, nodeID string, now time.Time) (domain.RegistrationToken, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.RegistrationToken{}, false, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT token, user_id, label, created_at, expires_at, used, node_id, used_at
		FROM registration_tokens WHERE token = $1
	`, token)
	before, err := scanRegistrationToken(row)
	if err == sql.ErrNoRows {
		return domain.RegistrationToken{}, false, nil
	}
	if err != nil {
		return domain.RegistrationToken{}, false, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE registration_tokens
		SET used = true, node_id = $2, used_at = $3
		WHERE token = $1 AND used = false AND expires_at > $3
	`, token, nodeID, now.UTC())
	if err != nil {
		return domain.RegistrationToken{}, false, err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.RegistrationToken{}, false, nil
	}

	if err := tx.Commit(); err != nil {
		return domain.RegistrationToken{}, false, err
	}
	return before, true, nil
}

func (s *Store) ListActive(ctx context.Context, userID string, now time.Time) ([]domain.RegistrationToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, user_id, label, created_at, expires_at, used, node_id, used_at
		FROM registration_tokens
		WHERE user_id = $1 AND used = false AND expires_at > $2
		ORDER BY created_at DESC
	`, userID, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.RegistrationToken
	for rows.Next() {
		t, err := scanRegistrationToken(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM registration_tokens WHERE expires_at <= $1
	`, now.UTC())
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func scanRegistrationToken(scanner rowScanner) (domain.RegistrationToken, error) {
	var (
		t      domain.RegistrationToken
		nodeID sql.NullString
		usedAt sql.NullTime
	)
	if err := scanner.Scan(&t.Token, &t.UserID, &t.Label, &t.CreatedAt, &t.ExpiresAt, &t.Used, &nodeID, &usedAt); err != nil {
		return domain.RegistrationToken{}, err
	}
	if nodeID.Valid {
		t.NodeID = nodeID.String
	}
	t.UsedAt = fromNullTime(usedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	return t, nil
}
