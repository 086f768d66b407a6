// Package domain holds the pure data model of the fleet control plane: nodes,
// their audit trail, tenant workloads, recovery bookkeeping, the credit
// ledger, registration tokens, and tenant account status. Types here carry no
// behavior beyond small invariants; I/O and orchestration live in the
// packages that consume them.
package domain

import "time"

// NodeStatus is one of the closed set of legal values for Node.Status.
type NodeStatus string

const (
	NodeProvisioning NodeStatus = "provisioning"
	NodeActive       NodeStatus = "active"
	NodeDraining     NodeStatus = "draining"
	NodeReturning    NodeStatus = "returning"
	NodeOffline      NodeStatus = "offline"
	NodeRecovering   NodeStatus = "recovering"
	NodeFailed       NodeStatus = "failed"
	NodeDegraded     NodeStatus = "degraded"
)

// Node is a worker host running the agent and owning containerized tenant
// workloads. Mutated only through the state machine in package statemachine;
// never destroyed except by explicit deletion, which is distinct from a
// status transition.
type Node struct {
	ID              string
	Host            string
	CapacityMb      int64
	UsedMb          int64
	Status          NodeStatus
	LastHeartbeatAt time.Time
	AgentVersion    string
	OwnerUserID     string
	Label           string
	NodeSecretHash  string
	ProviderID      string // e.g. a droplet id; empty when the node has no known cloud provider
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AvailableMb returns the node's remaining capacity, floored at zero.
func (n Node) AvailableMb() int64 {
	free := n.CapacityMb - n.UsedMb
	if free < 0 {
		return 0
	}
	return free
}

// ContainerHeartbeat describes one container's state as reported in a
// heartbeat frame.
type ContainerHeartbeat struct {
	Name    string
	Status  string
	MemMb   int64
	Uptime  int64
}

// Heartbeat is the payload a node agent sends periodically over the wire
// protocol to report liveness and current resource usage.
type Heartbeat struct {
	NodeID         string
	UptimeSeconds  int64
	MemTotalMb     int64
	MemUsedMb      int64
	DiskTotalGb    int64
	DiskUsedGb     int64
	Containers     []ContainerHeartbeat
	ReceivedAt     time.Time
}

// UsedMbFromContainers sums per-container memory use; a heartbeat with no
// containers reported is treated as zero usage (§4.5).
func (h Heartbeat) UsedMbFromContainers() int64 {
	var total int64
	for _, c := range h.Containers {
		total += c.MemMb
	}
	return total
}
