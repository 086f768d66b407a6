// Package placement selects a target node for a new or recovering workload
// by bin-packing: among eligible nodes, it picks the one with the most
// slack so smaller nodes stay free for workloads that only fit there.
package placement

import (
	"context"

	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/storage"
)

// DefaultRequiredMb is used when a caller doesn't specify a workload size.
const DefaultRequiredMb = 100

// Target is a placement decision: where to put the workload and how much
// room was available there at selection time.
type Target struct {
	NodeID      string
	Host        string
	AvailableMb int64
}

// Engine selects placement targets from the live node store. Per the
// design notes' open question (b), only active nodes are eligible —
// degraded nodes are excluded even though they're still reachable.
type Engine struct {
	nodes storage.NodeStore
}

// New creates an Engine reading node state from nodes.
func New(nodes storage.NodeStore) *Engine {
	return &Engine{nodes: nodes}
}

// FindPlacement returns the active, non-excluded node with the most slack
// that can fit requiredMb, or (Target{}, false) if none qualifies.
func (e *Engine) FindPlacement(ctx context.Context, requiredMb int64, excludeIDs map[string]bool) (Target, bool, error) {
	if requiredMb <= 0 {
		requiredMb = DefaultRequiredMb
	}
	nodes, err := e.nodes.ListNodes(ctx, storage.NodeFilter{Statuses: []domain.NodeStatus{domain.NodeActive}})
	if err != nil {
		return Target{}, false, err
	}

	var best *domain.Node
	var bestSlack int64
	for i := range nodes {
		n := &nodes[i]
		if excludeIDs[n.ID] {
			continue
		}
		slack := n.CapacityMb - n.UsedMb
		if slack < requiredMb {
			continue
		}
		if best == nil || slack > bestSlack {
			best = n
			bestSlack = slack
		}
	}
	if best == nil {
		return Target{}, false, nil
	}
	return Target{NodeID: best.ID, Host: best.Host, AvailableMb: best.AvailableMb()}, true, nil
}
