// Package ledger implements the credit ledger's business rules over the
// append-only storage.CreditStore: idempotency by reference ID (I2),
// balance-sign validation per operation, and the running-balance cache
// kept consistent with every insert (I1).
package ledger

import (
	"context"
	"time"

	svcerrors "github.com/botfleet/coordinator/infrastructure/errors"
	"github.com/botfleet/coordinator/internal/app/metrics"
	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/storage"
)

// Ledger is the credit-ledger service over a CreditStore.
type Ledger struct {
	store storage.CreditStore
}

// New creates a Ledger backed by store.
func New(store storage.CreditStore) *Ledger {
	return &Ledger{store: store}
}

// insert writes txn and records the transaction-type counter on success.
func (l *Ledger) insert(ctx context.Context, txn domain.CreditTransaction) (domain.CreditTransaction, error) {
	inserted, err := l.store.InsertTransactionAndUpdateBalance(ctx, txn)
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	metrics.RecordLedgerTransaction(string(inserted.Type))
	return inserted, nil
}

// Credit applies a positive or negative amount to tenantID's balance. If
// referenceID is non-empty and already recorded, the prior row is returned
// unchanged — this is the sole idempotency mechanism (I2).
func (l *Ledger) Credit(ctx context.Context, tenantID string, amountCents int64, txnType domain.CreditTransactionType, description, referenceID, fundingSource string) (domain.CreditTransaction, error) {
	if referenceID != "" {
		if existing, ok, err := l.store.FindByReferenceID(ctx, referenceID); err != nil {
			return domain.CreditTransaction{}, err
		} else if ok {
			return existing, nil
		}
	}

	balance, err := l.store.GetBalance(ctx, tenantID)
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	balanceAfter := balance.BalanceCents + amountCents

	return l.insert(ctx, domain.CreditTransaction{
		TenantID: tenantID, AmountCents: amountCents, BalanceAfterCents: balanceAfter,
		Type: txnType, Description: description, ReferenceID: referenceID,
		FundingSource: fundingSource, CreatedAt: time.Now().UTC(),
	})
}

// Debit subtracts amountCents (must be positive) from tenantID's balance.
// When allowNegative is false and the result would be negative, it fails
// with InsufficientBalance instead of writing — callers on the usage path
// should pass allowNegative=true per the fire-and-forget design note.
func (l *Ledger) Debit(ctx context.Context, tenantID string, amountCents int64, txnType domain.CreditTransactionType, description, referenceID string, allowNegative bool, attributedUserID string) (domain.CreditTransaction, error) {
	if amountCents <= 0 {
		return domain.CreditTransaction{}, svcerrors.InvalidArgument("amount", "must be positive")
	}
	if referenceID != "" {
		if existing, ok, err := l.store.FindByReferenceID(ctx, referenceID); err != nil {
			return domain.CreditTransaction{}, err
		} else if ok {
			return existing, nil
		}
	}

	balance, err := l.store.GetBalance(ctx, tenantID)
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	balanceAfter := balance.BalanceCents - amountCents
	if balanceAfter < 0 && !allowNegative {
		return domain.CreditTransaction{}, svcerrors.InsufficientBalance(balance.BalanceCents)
	}

	return l.insert(ctx, domain.CreditTransaction{
		TenantID: tenantID, AmountCents: -amountCents, BalanceAfterCents: balanceAfter,
		Type: txnType, Description: description, ReferenceID: referenceID,
		AttributedUserID: attributedUserID, CreatedAt: time.Now().UTC(),
	})
}

// Grant is the admin surface's positive adjustment: amount must be
// positive and reason non-empty.
func (l *Ledger) Grant(ctx context.Context, tenantID string, amountCents int64, reason, attributedUserID string) (domain.CreditTransaction, error) {
	if amountCents <= 0 {
		return domain.CreditTransaction{}, svcerrors.InvalidArgument("amount_cents", "must be positive")
	}
	if reason == "" {
		return domain.CreditTransaction{}, svcerrors.InvalidArgument("reason", "must not be empty")
	}
	return l.Credit(ctx, tenantID, amountCents, domain.TxnGrant, reason, "", "")
}

// Refund is the admin surface's negative adjustment: amount must be
// positive (stored as negative) and must not push the balance below zero.
// referenceIDs, when given, are stored as structured, queryable data on the
// row rather than folded into the free-text description.
func (l *Ledger) Refund(ctx context.Context, tenantID string, amountCents int64, reason, attributedUserID string, referenceIDs []string) (domain.CreditTransaction, error) {
	if amountCents <= 0 {
		return domain.CreditTransaction{}, svcerrors.InvalidArgument("amount_cents", "must be positive")
	}
	balance, err := l.store.GetBalance(ctx, tenantID)
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	if balance.BalanceCents-amountCents < 0 {
		return domain.CreditTransaction{}, svcerrors.InsufficientBalance(balance.BalanceCents)
	}

	return l.insert(ctx, domain.CreditTransaction{
		TenantID: tenantID, AmountCents: -amountCents, BalanceAfterCents: balance.BalanceCents - amountCents,
		Type: domain.TxnRefund, Description: reason, ReferenceIDs: referenceIDs,
		AttributedUserID: attributedUserID, CreatedAt: time.Now().UTC(),
	})
}

// Correction is the admin surface's signed adjustment. Zero is allowed; a
// negative correction that would push the balance below zero fails.
func (l *Ledger) Correction(ctx context.Context, tenantID string, amountCents int64, reason, attributedUserID string) (domain.CreditTransaction, error) {
	if reason == "" {
		return domain.CreditTransaction{}, svcerrors.InvalidArgument("reason", "must not be empty")
	}
	balance, err := l.store.GetBalance(ctx, tenantID)
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	balanceAfter := balance.BalanceCents + amountCents
	if amountCents < 0 && balanceAfter < 0 {
		return domain.CreditTransaction{}, svcerrors.InsufficientBalance(balance.BalanceCents)
	}

	return l.insert(ctx, domain.CreditTransaction{
		TenantID: tenantID, AmountCents: amountCents, BalanceAfterCents: balanceAfter,
		Type: domain.TxnCorrection, Description: reason, AttributedUserID: attributedUserID, CreatedAt: time.Now().UTC(),
	})
}

// HasReferenceID reports whether any row already carries referenceID.
func (l *Ledger) HasReferenceID(ctx context.Context, referenceID string) (bool, error) {
	_, ok, err := l.store.FindByReferenceID(ctx, referenceID)
	return ok, err
}

// Balance returns tenantID's current denormalized balance.
func (l *Ledger) Balance(ctx context.Context, tenantID string) (domain.CreditBalance, error) {
	return l.store.GetBalance(ctx, tenantID)
}

// ListTransactions returns tenantID's ledger rows newest-first, limit
// capped at 250 by the store layer.
func (l *Ledger) ListTransactions(ctx context.Context, tenantID string, filter storage.CreditFilter) ([]domain.CreditTransaction, int, error) {
	return l.store.ListTransactions(ctx, tenantID, filter)
}
