// Package storage defines the persistence ports consumed by every service in
// the coordinator. Each store interface is a thin, typed repository over one
// entity family; concrete implementations live in storage/postgres (backed
// by lib/pq) and storage/memory (used by tests and local development).
package storage

import (
	"context"
	"time"

	"github.com/botfleet/coordinator/internal/domain"
)

// NodeFilter narrows ListNodes results.
type NodeFilter struct {
	Statuses []domain.NodeStatus
	HasHost  bool
}

// NodeStore is the persistence port for Node rows plus the CAS transition
// protocol and its audit trail.
type NodeStore interface {
	GetNode(ctx context.Context, nodeID string) (domain.Node, error)
	ListNodes(ctx context.Context, filter NodeFilter) ([]domain.Node, error)
	CreateNode(ctx context.Context, node domain.Node) (domain.Node, error)
	UpdateNodeMetadata(ctx context.Context, node domain.Node) (domain.Node, error)
	UpdateHeartbeat(ctx context.Context, nodeID string, usedMb int64, at time.Time) error
	// AdjustUsedMb applies deltaMb (positive or negative) to a node's tracked
	// usage immediately, independent of the next heartbeat — used by
	// placement-affecting writes (recovery reassignment, drain migration)
	// so concurrent placement decisions see capacity reserved right away.
	AdjustUsedMb(ctx context.Context, nodeID string, deltaMb int64) error
	// CASTransition implements statemachine.Store; see its doc comment.
	CASTransition(ctx context.Context, nodeID string, from, to domain.NodeStatus, reason, triggeredBy string) (domain.Node, bool, error)
	ListTransitions(ctx context.Context, nodeID string, limit int) ([]domain.NodeTransition, error)
}

// BotFilter narrows ListBots results.
type BotFilter struct {
	TenantID     string
	NodeID       string
	BillingState domain.BillingState
}

// BotStore is the persistence port for BotInstance rows.
type BotStore interface {
	GetBot(ctx context.Context, botID string) (domain.BotInstance, error)
	ListBots(ctx context.Context, filter BotFilter) ([]domain.BotInstance, error)
	CreateBot(ctx context.Context, bot domain.BotInstance) (domain.BotInstance, error)
	UpdateBot(ctx context.Context, bot domain.BotInstance) (domain.BotInstance, error)
	ReassignNode(ctx context.Context, botID, nodeID string) error
}

// BotProfileStore is the persistence port for tenant-owned BotProfile rows.
type BotProfileStore interface {
	GetProfile(ctx context.Context, botID string) (domain.BotProfile, error)
	PutProfile(ctx context.Context, profile domain.BotProfile) error
}

// RecoveryStore is the persistence port for RecoveryEvent/RecoveryItem rows.
type RecoveryStore interface {
	CreateEvent(ctx context.Context, event domain.RecoveryEvent) (domain.RecoveryEvent, error)
	GetEvent(ctx context.Context, eventID string) (domain.RecoveryEvent, error)
	UpdateEvent(ctx context.Context, event domain.RecoveryEvent) error
	CreateItem(ctx context.Context, item domain.RecoveryItem) (domain.RecoveryItem, error)
	UpdateItem(ctx context.Context, item domain.RecoveryItem) error
	ListItems(ctx context.Context, eventID string, status domain.RecoveryItemStatus) ([]domain.RecoveryItem, error)
	// ListOpenEventsWithWaiting returns events that still have a non-zero
	// TenantsWaiting count, used by the registrar's onRetryWaiting hook.
	ListOpenEventsWithWaiting(ctx context.Context) ([]domain.RecoveryEvent, error)
}

// CreditFilter narrows ListTransactions results.
type CreditFilter struct {
	Type   domain.CreditTransactionType
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// CreditStore is the persistence port for the append-only ledger and its
// denormalized balance cache.
type CreditStore interface {
	// FindByReferenceID returns the row carrying referenceID, if any (I2).
	FindByReferenceID(ctx context.Context, referenceID string) (domain.CreditTransaction, bool, error)
	GetBalance(ctx context.Context, tenantID string) (domain.CreditBalance, error)
	// InsertTransactionAndUpdateBalance performs the ledger write and the
	// balance-cache upsert as a single atomic unit (§4.9 step 3). Callers
	// must have already computed BalanceAfterCents.
	InsertTransactionAndUpdateBalance(ctx context.Context, txn domain.CreditTransaction) (domain.CreditTransaction, error)
	ListTransactions(ctx context.Context, tenantID string, filter CreditFilter) ([]domain.CreditTransaction, int, error)
}

// RegistrationTokenStore is the persistence port for single-use registration
// tokens.
type RegistrationTokenStore interface {
	Create(ctx context.Context, token domain.RegistrationToken) (domain.RegistrationToken, error)
	// Consume atomically checks used=false && expiresAt>now and, if so, marks
	// the token used and returns ok=true with the pre-consumption row.
	Consume(ctx context.Context, token, nodeID string, now time.Time) (domain.RegistrationToken, bool, error)
	ListActive(ctx context.Context, userID string, now time.Time) ([]domain.RegistrationToken, error)
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// TenantStore is the persistence port for orthogonal tenant account status.
type TenantStore interface {
	GetStatus(ctx context.Context, tenantID string) (domain.TenantStatus, error)
	PutStatus(ctx context.Context, status domain.TenantStatus) error
}

// SnapshotStore is the persistence port for Snapshot rows (out of core scope
// per §1, but its shape is part of the data model and recovery reads from
// the backup key it derives).
type SnapshotStore interface {
	GetLatest(ctx context.Context, tenant, instanceID string) (domain.Snapshot, bool, error)
	List(ctx context.Context, tenant string) ([]domain.Snapshot, error)
	Create(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// ServiceHealthRecord is the persisted per-node, per-service health sample
// written by the inference watchdog (§4.8).
type ServiceHealthRecord struct {
	NodeID    string
	Service   string
	Healthy   bool
	CheckedAt time.Time
}

// ServiceHealthStore is the persistence port for inference-watchdog results.
type ServiceHealthStore interface {
	Record(ctx context.Context, rec ServiceHealthRecord) error
	Latest(ctx context.Context, nodeID string) ([]ServiceHealthRecord, error)
}

// Stores aggregates every persistence port the coordinator depends on, the
// way the teacher's app.Stores bundles its per-domain repositories for
// dependency injection into cmd/coordinator.
type Stores struct {
	Nodes          NodeStore
	Bots           BotStore
	BotProfiles    BotProfileStore
	Recovery       RecoveryStore
	Credit         CreditStore
	Tokens         RegistrationTokenStore
	Tenants        TenantStore
	Snapshots      SnapshotStore
	ServiceHealth  ServiceHealthStore
}
