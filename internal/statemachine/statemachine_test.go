package statemachine

import (
	"context"
	"testing"
	"time"

	svcerrors "github.com/botfleet/coordinator/infrastructure/errors"
	"github.com/botfleet/coordinator/internal/domain"
)

func TestIsValidTransition(t *testing.T) {
	cases := []struct {
		from, to domain.NodeStatus
		want     bool
	}{
		{domain.NodeProvisioning, domain.NodeActive, true},
		{domain.NodeProvisioning, domain.NodeFailed, true},
		{domain.NodeProvisioning, domain.NodeOffline, false},
		{domain.NodeActive, domain.NodeDraining, true},
		{domain.NodeActive, domain.NodeOffline, true},
		{domain.NodeActive, domain.NodeDegraded, true},
		{domain.NodeActive, domain.NodeRecovering, false},
		{domain.NodeDegraded, domain.NodeActive, true},
		{domain.NodeDegraded, domain.NodeOffline, true},
		{domain.NodeDegraded, domain.NodeFailed, true},
		{domain.NodeDraining, domain.NodeActive, true},
		{domain.NodeDraining, domain.NodeOffline, true},
		{domain.NodeDraining, domain.NodeRecovering, false},
		{domain.NodeOffline, domain.NodeRecovering, true},
		{domain.NodeOffline, domain.NodeReturning, true},
		{domain.NodeOffline, domain.NodeActive, true},
		{domain.NodeOffline, domain.NodeDraining, false},
		{domain.NodeRecovering, domain.NodeOffline, true},
		{domain.NodeRecovering, domain.NodeFailed, true},
		{domain.NodeRecovering, domain.NodeActive, false},
		{domain.NodeReturning, domain.NodeActive, true},
		{domain.NodeReturning, domain.NodeFailed, true},
		{domain.NodeFailed, domain.NodeRecovering, true},
		{domain.NodeFailed, domain.NodeActive, true},
		{domain.NodeFailed, domain.NodeOffline, false},
		{domain.NodeStatus("bogus"), domain.NodeActive, false},
	}
	for _, c := range cases {
		if got := IsValidTransition(c.from, c.to); got != c.want {
			t.Errorf("IsValidTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

// fakeStore is a minimal in-memory Store for exercising Transition without
// pulling in the storage package (avoiding an import cycle in tests).
type fakeStore struct {
	node       domain.Node
	casResult  bool
	casErr     error
	transitions []domain.NodeTransition
}

func (f *fakeStore) GetNode(ctx context.Context, nodeID string) (domain.Node, error) {
	if f.node.ID != nodeID {
		return domain.Node{}, svcerrors.NotFound("node", nodeID)
	}
	return f.node, nil
}

func (f *fakeStore) CASTransition(ctx context.Context, nodeID string, from, to domain.NodeStatus, reason, triggeredBy string) (domain.Node, bool, error) {
	if f.casErr != nil {
		return domain.Node{}, false, f.casErr
	}
	if !f.casResult {
		return domain.Node{}, false, nil
	}
	f.node.Status = to
	f.transitions = append(f.transitions, domain.NodeTransition{
		NodeID: nodeID, FromStatus: from, ToStatus: to, Reason: reason, TriggeredBy: triggeredBy, CreatedAt: time.Now(),
	})
	return f.node, true, nil
}

func TestTransition_Success(t *testing.T) {
	store := &fakeStore{node: domain.Node{ID: "n1", Status: domain.NodeActive}, casResult: true}
	got, err := Transition(context.Background(), store, "n1", domain.NodeDraining, "admin request", "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.NodeDraining {
		t.Errorf("status = %v, want draining", got.Status)
	}
	if len(store.transitions) != 1 {
		t.Fatalf("expected 1 transition row, got %d", len(store.transitions))
	}
}

func TestTransition_NotFound(t *testing.T) {
	store := &fakeStore{node: domain.Node{ID: "other"}}
	_, err := Transition(context.Background(), store, "missing", domain.NodeActive, "x", "x")
	if !svcerrors.Is(err, svcerrors.ErrCodeNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestTransition_InvalidEdge(t *testing.T) {
	store := &fakeStore{node: domain.Node{ID: "n1", Status: domain.NodeActive}}
	_, err := Transition(context.Background(), store, "n1", domain.NodeRecovering, "x", "x")
	if !svcerrors.Is(err, svcerrors.ErrCodeInvalidTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}
}

func TestTransition_ConcurrentLoss(t *testing.T) {
	store := &fakeStore{node: domain.Node{ID: "n1", Status: domain.NodeActive}, casResult: false}
	_, err := Transition(context.Background(), store, "n1", domain.NodeDraining, "x", "x")
	if !svcerrors.Is(err, svcerrors.ErrCodeConcurrentTransition) {
		t.Fatalf("expected ConcurrentTransition, got %v", err)
	}
}

func TestTransitionWithRetry_RetriesOnce(t *testing.T) {
	store := &fakeStore{node: domain.Node{ID: "n1", Status: domain.NodeActive}, casResult: false}
	// First attempt loses the race; flip casResult so the retry succeeds.
	calls := 0
	wrapped := &retryingStore{fakeStore: store, onCall: func() {
		calls++
		if calls == 1 {
			store.casResult = false
		} else {
			store.casResult = true
		}
	}}
	got, err := TransitionWithRetry(context.Background(), wrapped, "n1", domain.NodeDraining, "x", "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.NodeDraining {
		t.Errorf("status = %v, want draining", got.Status)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

type retryingStore struct {
	*fakeStore
	onCall func()
}

func (r *retryingStore) CASTransition(ctx context.Context, nodeID string, from, to domain.NodeStatus, reason, triggeredBy string) (domain.Node, bool, error) {
	r.onCall()
	return r.fakeStore.CASTransition(ctx, nodeID, from, to, reason, triggeredBy)
}
