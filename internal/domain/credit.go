package domain

import "time"

// CreditTransactionType classifies a ledger row for reporting and
// validation-rule selection.
type CreditTransactionType string

const (
	TxnPurchase       CreditTransactionType = "purchase"
	TxnGrant          CreditTransactionType = "grant"
	TxnRefund         CreditTransactionType = "refund"
	TxnCorrection     CreditTransactionType = "correction"
	TxnAdapterUsage   CreditTransactionType = "adapter_usage"
	TxnBotRuntime     CreditTransactionType = "bot_runtime"
	TxnCommunityDivid CreditTransactionType = "community_dividend"
	TxnOnboardingLLM  CreditTransactionType = "onboarding_llm"
	TxnAddon          CreditTransactionType = "addon"
)

// CreditTransaction is an append-only ledger row. See domain invariants I1
// (running sum) and I2 (referenceId uniqueness) enforced by package ledger.
type CreditTransaction struct {
	ID                string                `json:"id"`
	TenantID          string                `json:"tenant_id"`
	AmountCents       int64                 `json:"amount_cents"`
	BalanceAfterCents int64                 `json:"balance_after_cents"`
	Type              CreditTransactionType `json:"type"`
	Description       string                `json:"description"`
	ReferenceID       string                `json:"reference_id,omitempty"`  // empty means no idempotency key
	ReferenceIDs      []string              `json:"reference_ids,omitempty"` // refund's cross-linked external references, not used for idempotency
	FundingSource     string                `json:"funding_source,omitempty"`
	AttributedUserID  string                `json:"attributed_user_id,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
}

// CreditBalance is the denormalized per-tenant balance cache. It must always
// equal the sum of that tenant's CreditTransaction.AmountCents.
type CreditBalance struct {
	TenantID     string    `json:"tenant"`
	BalanceCents int64     `json:"balance_cents"`
	LastUpdated  time.Time `json:"last_updated"`
}
