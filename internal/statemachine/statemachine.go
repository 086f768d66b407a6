// Package statemachine implements the single legal path for changing a
// node's status: a pure transition table plus the compare-and-swap write
// protocol built on top of it. It performs no I/O of its own; callers supply
// a Store that knows how to read and CAS-update nodes.
package statemachine

import (
	"context"

	svcerrors "github.com/botfleet/coordinator/infrastructure/errors"
	"github.com/botfleet/coordinator/internal/app/metrics"
	"github.com/botfleet/coordinator/internal/domain"
)

// edges enumerates every legal (from, to) pair. Anything absent is forbidden.
var edges = map[domain.NodeStatus]map[domain.NodeStatus]bool{
	domain.NodeProvisioning: {domain.NodeActive: true, domain.NodeFailed: true},
	domain.NodeActive:       {domain.NodeDraining: true, domain.NodeOffline: true, domain.NodeDegraded: true},
	domain.NodeDegraded:     {domain.NodeActive: true, domain.NodeOffline: true, domain.NodeFailed: true},
	domain.NodeDraining:     {domain.NodeActive: true, domain.NodeOffline: true},
	domain.NodeOffline:      {domain.NodeRecovering: true, domain.NodeReturning: true, domain.NodeActive: true},
	domain.NodeRecovering:   {domain.NodeOffline: true, domain.NodeFailed: true},
	domain.NodeReturning:    {domain.NodeActive: true, domain.NodeFailed: true},
	domain.NodeFailed:       {domain.NodeRecovering: true, domain.NodeActive: true},
}

// IsValidTransition reports whether moving a node from `from` to `to` is a
// legal edge in the state machine. It performs no I/O and has no side
// effects; callers decide whether and when to call it.
func IsValidTransition(from, to domain.NodeStatus) bool {
	allowed, ok := edges[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Store is the persistence port the state machine needs: read a node by ID,
// and attempt the compare-and-swap write plus audit-row insert in a single
// transaction.
type Store interface {
	GetNode(ctx context.Context, nodeID string) (domain.Node, error)
	// CASTransition performs, atomically:
	//   UPDATE node SET status=to, updated_at=now
	//   WHERE id=nodeID AND status=fromStatus RETURNING id
	// (Node has no drain-specific fields, so nothing else is cleared.)
	// followed by an insert of the NodeTransition audit row. It returns
	// ok=false (no error) when zero rows were updated, signalling a lost
	// optimistic-concurrency race.
	CASTransition(ctx context.Context, nodeID string, from, to domain.NodeStatus, reason, triggeredBy string) (node domain.Node, ok bool, err error)
}

// Transition is the only legal path to change Node.Status (§4.2):
//  1. read the current node, failing NotFound if absent;
//  2. check the edge is legal;
//  3. attempt the CAS write + audit insert as a single transaction;
//  4. on a lost race (ok=false), fail ConcurrentTransition.
func Transition(ctx context.Context, store Store, nodeID string, to domain.NodeStatus, reason, triggeredBy string) (domain.Node, error) {
	node, err := store.GetNode(ctx, nodeID)
	if err != nil {
		return domain.Node{}, err
	}

	if !IsValidTransition(node.Status, to) {
		return domain.Node{}, svcerrors.InvalidTransition(string(node.Status), string(to))
	}

	updated, ok, err := store.CASTransition(ctx, nodeID, node.Status, to, reason, triggeredBy)
	if err != nil {
		return domain.Node{}, err
	}
	if !ok {
		return domain.Node{}, svcerrors.ConcurrentTransition(nodeID)
	}
	metrics.RecordNodeTransition(string(node.Status), string(to))
	return updated, nil
}

// TransitionWithRetry retries Transition once on ConcurrentTransition, per
// the error-handling policy in §7: "retried at most once by the caller;
// otherwise surfaced."
func TransitionWithRetry(ctx context.Context, store Store, nodeID string, to domain.NodeStatus, reason, triggeredBy string) (domain.Node, error) {
	node, err := Transition(ctx, store, nodeID, to, reason, triggeredBy)
	if err == nil {
		return node, nil
	}
	if !svcerrors.Is(err, svcerrors.ErrCodeConcurrentTransition) {
		return domain.Node{}, err
	}
	return Transition(ctx, store, nodeID, to, reason, triggeredBy)
}
