package placement

import (
	"context"
	"testing"

	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/storage/memory"
)

func TestFindPlacement_PicksMostSlack(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	store.CreateNode(ctx, domain.Node{ID: "small", Status: domain.NodeActive, CapacityMb: 500, UsedMb: 450})
	store.CreateNode(ctx, domain.Node{ID: "big", Status: domain.NodeActive, CapacityMb: 4000, UsedMb: 1000})
	store.CreateNode(ctx, domain.Node{ID: "draining", Status: domain.NodeDraining, CapacityMb: 9000, UsedMb: 0})

	engine := New(store)
	target, ok, err := engine.FindPlacement(ctx, 100, nil)
	if err != nil || !ok {
		t.Fatalf("expected placement, ok=%v err=%v", ok, err)
	}
	if target.NodeID != "big" {
		t.Errorf("target = %s, want big", target.NodeID)
	}
}

func TestFindPlacement_NoCapacity(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	store.CreateNode(ctx, domain.Node{ID: "n1", Status: domain.NodeActive, CapacityMb: 500, UsedMb: 450})

	engine := New(store)
	_, ok, err := engine.FindPlacement(ctx, 100, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no placement")
	}
}

func TestFindPlacement_ExcludesGivenIDs(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	store.CreateNode(ctx, domain.Node{ID: "n1", Status: domain.NodeActive, CapacityMb: 1000, UsedMb: 0})

	engine := New(store)
	_, ok, err := engine.FindPlacement(ctx, 100, map[string]bool{"n1": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected exclusion to remove the only candidate")
	}
}

func TestFindPlacement_DegradedExcluded(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	store.CreateNode(ctx, domain.Node{ID: "n1", Status: domain.NodeDegraded, CapacityMb: 1000, UsedMb: 0})

	engine := New(store)
	_, ok, err := engine.FindPlacement(ctx, 100, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("degraded nodes must be excluded per design note (b)")
	}
}
