package registration

import (
	"context"
	"testing"
	"time"

	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/storage/memory"
)

func TestTokenService_CreateAndConsume(t *testing.T) {
	store := memory.New()
	svc := NewTokenService(store)
	ctx := context.Background()

	tok, err := svc.Create(ctx, "user-1", "laptop")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tok.Token == "" {
		t.Fatal("expected a non-empty token")
	}

	redeemed, err := svc.Consume(ctx, tok.Token, "node-1")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if redeemed.UserID != "user-1" {
		t.Errorf("UserID = %s, want user-1", redeemed.UserID)
	}

	if _, err := svc.Consume(ctx, tok.Token, "node-2"); err == nil {
		t.Fatal("expected second consume of the same token to fail")
	}
}

func TestTokenService_ConsumeExpired(t *testing.T) {
	store := memory.New()
	svc := NewTokenService(store)
	ctx := context.Background()

	store.Create(ctx, domain.RegistrationToken{
		Token: "expired-tok", UserID: "user-1",
		CreatedAt: time.Now().UTC().Add(-time.Hour), ExpiresAt: time.Now().UTC().Add(-time.Minute),
	})

	if _, err := svc.Consume(ctx, "expired-tok", "node-1"); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestRegistrar_NewNodePromotesToActive(t *testing.T) {
	store := memory.New()
	reg := New(store, store, nil, nil)
	ctx := context.Background()

	node, err := reg.Register(ctx, RegistrationInfo{NodeID: "n1", Host: "10.0.0.1", CapacityMb: 4096, AgentVersion: "1.0"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if node.Status != domain.NodeActive {
		t.Errorf("status = %s, want active", node.Status)
	}
}

func TestRegistrar_ReturningNodeTriggersHook(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	store.CreateNode(ctx, domain.Node{ID: "n1", Status: domain.NodeProvisioning})
	store.CASTransition(ctx, "n1", domain.NodeProvisioning, domain.NodeActive, "setup", "test")
	store.CASTransition(ctx, "n1", domain.NodeActive, domain.NodeOffline, "died", "test")

	var hookCalled string
	reg := New(store, store, func(_ context.Context, nodeID string) { hookCalled = nodeID }, nil)

	node, err := reg.Register(ctx, RegistrationInfo{NodeID: "n1", Host: "10.0.0.2", CapacityMb: 2048})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if node.Status != domain.NodeReturning {
		t.Errorf("status = %s, want returning", node.Status)
	}
	if hookCalled != "n1" {
		t.Errorf("onReturning hook not invoked for n1, got %q", hookCalled)
	}
}

func TestRegistrar_HealthyKnownNodeOnlyUpdatesMetadata(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	store.CreateNode(ctx, domain.Node{ID: "n1", Status: domain.NodeProvisioning})
	store.CASTransition(ctx, "n1", domain.NodeProvisioning, domain.NodeActive, "setup", "test")

	reg := New(store, store, nil, nil)
	node, err := reg.Register(ctx, RegistrationInfo{NodeID: "n1", Host: "new-host", CapacityMb: 8192})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if node.Status != domain.NodeActive {
		t.Errorf("status = %s, want unchanged active", node.Status)
	}
	if node.Host != "new-host" || node.CapacityMb != 8192 {
		t.Errorf("metadata not refreshed: %+v", node)
	}
}

func TestRegistrar_RetryWaitingHookFiresForOpenEvents(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	store.CreateEvent(ctx, domain.RecoveryEvent{ID: "evt-1", TenantsWaiting: 2})

	var seen []string
	reg := New(store, store, nil, func(_ context.Context, evt domain.RecoveryEvent) {
		seen = append(seen, evt.ID)
	})

	_, err := reg.Register(ctx, RegistrationInfo{NodeID: "n1", Host: "h", CapacityMb: 1024})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(seen) != 1 || seen[0] != "evt-1" {
		t.Errorf("onRetryWaiting not invoked as expected, got %v", seen)
	}
}
