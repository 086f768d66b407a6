package domain

import "time"

// NodeTransition is an immutable audit record of a single successful status
// change. Append-only: one row per successful transition, never updated or
// deleted.
type NodeTransition struct {
	ID          string
	NodeID      string
	FromStatus  NodeStatus
	ToStatus    NodeStatus
	Reason      string
	TriggeredBy string
	CreatedAt   time.Time
}
