package domain

import "time"

// BillingState is the lifecycle of a BotInstance as observed by the billing
// gate. A Destroyed row is terminal.
type BillingState string

const (
	BillingActive    BillingState = "active"
	BillingSuspended BillingState = "suspended"
	BillingDestroyed BillingState = "destroyed"
)

// StorageTier controls snapshot retention cost attribution for a bot.
type StorageTier string

const (
	StorageTierStandard StorageTier = "standard"
	StorageTierExtended StorageTier = "extended"
	StorageTierArchive  StorageTier = "archive"
)

// BotInstance is a tenant workload assignment to a node.
type BotInstance struct {
	ID            string // botId
	TenantID      string
	Name          string
	NodeID        string // nullable: empty string means unassigned
	BillingState  BillingState
	SuspendedAt   *time.Time
	DestroyAfter  *time.Time
	StorageTier   StorageTier
	EstimatedMb   int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BotProfile is the tenant-owned configuration used to rehydrate a bot onto a
// new node during recovery.
type BotProfile struct {
	BotID          string
	Image          string
	Env            map[string]string
	ReleaseChannel string
	UpdatePolicy   string
	Discovery      map[string]string
}

// DefaultImage is used by recovery when a tenant has no BotProfile on file.
const DefaultImage = "ghcr.io/botfleet/default-runtime:stable"
