package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/storage"
	"github.com/google/uuid"
)

func (s *Store) FindByReferenceID(ctx context.Context, referenceID string) (domain.CreditTransaction, bool, error) {
	if referenceID == "" {
		return domain.CreditTransaction{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, amount_cents, balance_after_cents, type, description, reference_id, funding_source, attributed_user_id, created_at
		FROM credit_transactions WHERE reference_id = $1
	`, referenceID)

	txn, err := scanCreditTransaction(row)
	if err == sql.ErrNoRows {
		return domain.CreditTransaction{}, false, nil
	}
	if err != nil {
		return domain.CreditTransaction{}, false, err
	}
	return txn, true, nil
}

func (s *Store) GetBalance(ctx context.Context, tenantID string) (domain.CreditBalance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, balance_cents, last_updated FROM credit_balances WHERE tenant_id = $1
	`, tenantID)

	var bal domain.CreditBalance
	err := row.Scan(&bal.TenantID, &bal.BalanceCents, &bal.LastUpdated)
	if err == sql.ErrNoRows {
		return domain.CreditBalance{TenantID: tenantID}, nil
	}
	if err != nil {
		return domain.CreditBalance{}, err
	}
	bal.LastUpdated = bal.LastUpdated.UTC()
	return bal, nil
}

// InsertTransactionAndUpdateBalance commits the ledger row and the balance
// cache upsert inside one transaction so invariant I1 (cache == running sum)
// never observes a partial write.
func (s *Store) InsertTransactionAndUpdateBalance(ctx context.Context, txn domain.CreditTransaction) (domain.CreditTransaction, error) {
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, tenant_id, amount_cents, balance_after_cents, type, description, reference_id, funding_source, attributed_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, txn.ID, txn.TenantID, txn.AmountCents, txn.BalanceAfterCents, string(txn.Type), txn.Description, txn.ReferenceID, txn.FundingSource, txn.AttributedUserID, txn.CreatedAt)
	if err != nil {
		return domain.CreditTransaction{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_balances (tenant_id, balance_cents, last_updated)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE SET balance_cents = $2, last_updated = $3
	`, txn.TenantID, txn.BalanceAfterCents, txn.CreatedAt)
	if err != nil {
		return domain.CreditTransaction{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.CreditTransaction{}, err
	}
	return txn, nil
}

func (s *Store) ListTransactions(ctx context.Context, tenantID string, filter storage.CreditFilter) ([]domain.CreditTransaction, int, error) {
	query := `
		SELECT id, tenant_id, amount_cents, balance_after_cents, type, description, reference_id, funding_source, attributed_user_id, created_at
		FROM credit_transactions WHERE tenant_id = $1
	`
	countQuery := `SELECT count(*) FROM credit_transactions WHERE tenant_id = $1`
	args := []any{tenantID}

	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
		countQuery += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, filter.From.UTC())
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
		countQuery += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, filter.To.UTC())
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
		countQuery += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 250 {
		limit = 250
	}
	query += " ORDER BY created_at DESC"
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []domain.CreditTransaction
	for rows.Next() {
		txn, err := scanCreditTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, txn)
	}
	return result, total, rows.Err()
}

func scanCreditTransaction(scanner rowScanner) (domain.CreditTransaction, error) {
	var (
		txn         domain.CreditTransaction
		txnType     string
		referenceID sql.NullString
	)
	if err := scanner.Scan(&txn.ID, &txn.TenantID, &txn.AmountCents, &txn.BalanceAfterCents, &txnType, &txn.Description, &referenceID, &txn.FundingSource, &txn.AttributedUserID, &txn.CreatedAt); err != nil {
		return domain.CreditTransaction{}, err
	}
	txn.Type = domain.CreditTransactionType(txnType)
	if referenceID.Valid {
		txn.ReferenceID = referenceID.String
	}
	txn.CreatedAt = txn.CreatedAt.UTC()
	return txn, nil
}
