package domain

import "time"

// TenantAccountStatus is the orthogonal account-level lifecycle, distinct
// from any individual bot's BillingState.
type TenantAccountStatus string

const (
	TenantActive       TenantAccountStatus = "active"
	TenantSuspended    TenantAccountStatus = "suspended"
	TenantGracePeriod  TenantAccountStatus = "grace_period"
	TenantBanned       TenantAccountStatus = "banned"
)

// TenantStatus tracks account-level standing. When no row exists for a
// tenant, callers must treat it as TenantActive.
type TenantStatus struct {
	TenantID        string
	Status          TenantAccountStatus
	GraceDeadline   *time.Time
	DataDeleteAfter *time.Time
	UpdatedAt       time.Time
	UpdatedBy       string
}

// DefaultTenantStatus is the implicit status for a tenant with no row.
func DefaultTenantStatus(tenantID string) TenantStatus {
	return TenantStatus{TenantID: tenantID, Status: TenantActive}
}
