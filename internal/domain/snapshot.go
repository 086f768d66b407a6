package domain

import "time"

// SnapshotType identifies why a snapshot was taken.
type SnapshotType string

const (
	SnapshotNightly    SnapshotType = "nightly"
	SnapshotOnDemand   SnapshotType = "on-demand"
	SnapshotPreRestore SnapshotType = "pre-restore"
)

// Snapshot is a point-in-time backup of a tenant's bot instance. Soft
// delete: DeletedAt != nil hides it from list/count but preserves the row.
type Snapshot struct {
	ID         string
	Tenant     string
	InstanceID string
	UserID     string
	Type       SnapshotType
	StoragePath string
	SizeBytes   int64
	ConfigHash  string
	Plugins     []string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	DeletedAt   *time.Time
}

// Live reports whether the snapshot is visible to list/count operations.
func (s Snapshot) Live() bool {
	return s.DeletedAt == nil
}
