package memory

import (
	"context"
	"time"

	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/storage"
)

func (s *Store) FindByReferenceID(_ context.Context, referenceID string) (domain.CreditTransaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if referenceID == "" {
		return domain.CreditTransaction{}, false, nil
	}
	id, ok := s.creditByRef[referenceID]
	if !ok {
		return domain.CreditTransaction{}, false, nil
	}
	return s.creditTxns[id], true, nil
}

func (s *Store) GetBalance(_ context.Context, tenantID string) (domain.CreditBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bal, ok := s.creditBalances[tenantID]
	if !ok {
		return domain.CreditBalance{TenantID: tenantID, BalanceCents: 0}, nil
	}
	return bal, nil
}

// InsertTransactionAndUpdateBalance performs the ledger write and balance
// upsert under the store's single mutex, which stands in for the per-tenant
// row lock / SELECT FOR UPDATE a real database would use (§4.9).
func (s *Store) InsertTransactionAndUpdateBalance(_ context.Context, txn domain.CreditTransaction) (domain.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if txn.ID == "" {
		txn.ID = newID()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}

	s.creditTxns[txn.ID] = txn
	if txn.ReferenceID != "" {
		s.creditByRef[txn.ReferenceID] = txn.ID
	}
	s.creditOrder[txn.TenantID] = append(s.creditOrder[txn.TenantID], txn.ID)
	s.creditBalances[txn.TenantID] = domain.CreditBalance{
		TenantID:     txn.TenantID,
		BalanceCents: txn.BalanceAfterCents,
		LastUpdated:  txn.CreatedAt,
	}
	return txn, nil
}

func (s *Store) ListTransactions(_ context.Context, tenantID string, filter storage.CreditFilter) ([]domain.CreditTransaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.creditOrder[tenantID]
	matched := make([]domain.CreditTransaction, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // newest first
		txn := s.creditTxns[ids[i]]
		if filter.Type != "" && txn.Type != filter.Type {
			continue
		}
		if filter.From != nil && txn.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && txn.CreatedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, txn)
	}

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 || limit > 250 {
		limit = 250
	}
	start := filter.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}
