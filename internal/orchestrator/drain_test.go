package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/botfleet/coordinator/internal/commandbus"
	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/placement"
	"github.com/botfleet/coordinator/internal/storage/memory"
)

func setupDrainFixture(t *testing.T) (*memory.Store, *Drainer, string) {
	store := memory.New()
	ctx := context.Background()

	// N starts active without a setup transition, so its audit trail holds
	// only the rows the drain itself writes.
	store.CreateNode(ctx, domain.Node{ID: "N", Host: "n-host", CapacityMb: 4096, Status: domain.NodeActive})
	store.CreateNode(ctx, domain.Node{ID: "T", Host: "t-host", CapacityMb: 4096, Status: domain.NodeProvisioning})
	store.CASTransition(ctx, "T", domain.NodeProvisioning, domain.NodeActive, "setup", "test")

	store.CreateBot(ctx, domain.BotInstance{ID: "b1", TenantID: "tenant-1", Name: "b1", NodeID: "N", EstimatedMb: 100})
	store.CreateBot(ctx, domain.BotInstance{ID: "b2", TenantID: "tenant-2", Name: "b2", NodeID: "N", EstimatedMb: 100})

	registry := commandbus.NewRegistry()
	bus := commandbus.New(registry, nil)
	serverConn := dialNode(t, registry, "T")
	autoRespond(bus, serverConn, "", "")
	// N needs a live connection too, since export is sent to the source node.
	serverConnN := dialNode(t, registry, "N")
	autoRespond(bus, serverConnN, "", "")

	placementEngine := placement.New(store)
	drainer := NewDrainer(store, store, placementEngine, bus, nil, nil)
	return store, drainer, "N"
}

// TestDrainHappyPath covers scenario S2.
func TestDrainHappyPath(t *testing.T) {
	store, drainer, nodeID := setupDrainFixture(t)
	ctx := context.Background()

	report, err := drainer.Drain(ctx, nodeID)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(report.Failed) != 0 {
		t.Fatalf("failed = %v, want none", report.Failed)
	}
	if len(report.Migrated) != 2 {
		t.Fatalf("migrated = %v, want 2 bots", report.Migrated)
	}

	node, _ := store.GetNode(ctx, nodeID)
	if node.Status != domain.NodeOffline {
		t.Errorf("status = %s, want offline", node.Status)
	}

	transitions, _ := store.ListTransitions(ctx, nodeID, 10)
	if len(transitions) != 2 {
		t.Fatalf("transitions = %d, want 2 (active->draining, draining->offline)", len(transitions))
	}
}

// TestDrainPartialFailure covers scenario S3 and invariant P9.
func TestDrainPartialFailure(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	store.CreateNode(ctx, domain.Node{ID: "N", Host: "n-host", CapacityMb: 4096, Status: domain.NodeActive})
	store.CreateNode(ctx, domain.Node{ID: "T", Host: "t-host", CapacityMb: 4096, Status: domain.NodeProvisioning})
	store.CASTransition(ctx, "T", domain.NodeProvisioning, domain.NodeActive, "setup", "test")

	store.CreateBot(ctx, domain.BotInstance{ID: "b1", TenantID: "tenant-1", Name: "b1", NodeID: "N", EstimatedMb: 100})
	store.CreateBot(ctx, domain.BotInstance{ID: "b2", TenantID: "tenant-2", Name: "b2", NodeID: "N", EstimatedMb: 100})

	registry := commandbus.NewRegistry()
	bus := commandbus.New(registry, nil)
	serverConnT := dialNode(t, registry, "T")
	serverConnN := dialNode(t, registry, "N")
	autoRespond(bus, serverConnN, "", "")
	// b2's import on T fails, causing its migration to fail; every other
	// command on T, including b1's import, succeeds.
	go func() {
		for {
			_, raw, err := serverConnT.ReadMessage()
			if err != nil {
				return
			}
			var cmd commandbus.Command
			if err := json.Unmarshal(raw, &cmd); err != nil {
				continue
			}
			payload, _ := cmd.Payload.(map[string]interface{})
			if cmd.Type == commandbus.CommandBotImport && payload["name"] == "b2" {
				bus.HandleResult(commandbus.Result{ID: cmd.ID, Success: false, Error: "disk full"})
				continue
			}
			bus.HandleResult(commandbus.Result{ID: cmd.ID, Success: true, Data: json.RawMessage(`{}`)})
		}
	}()

	placementEngine := placement.New(store)
	drainer := NewDrainer(store, store, placementEngine, bus, nil, nil)

	report, err := drainer.Drain(ctx, "N")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(report.Failed) != 1 {
		t.Fatalf("failed = %v, want exactly one failure", report.Failed)
	}
	if len(report.Migrated) != 1 {
		t.Fatalf("migrated = %v, want exactly one success", report.Migrated)
	}

	node, _ := store.GetNode(ctx, "N")
	if node.Status != domain.NodeDraining {
		t.Fatalf("status = %s, want still draining (P9)", node.Status)
	}

	transitions, _ := store.ListTransitions(ctx, "N", 10)
	if len(transitions) != 1 {
		t.Fatalf("transitions = %d, want exactly 1 (active->draining only)", len(transitions))
	}
}

func TestDrainEmptyNode(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	store.CreateNode(ctx, domain.Node{ID: "N", Status: domain.NodeProvisioning})
	store.CASTransition(ctx, "N", domain.NodeProvisioning, domain.NodeActive, "setup", "test")

	registry := commandbus.NewRegistry()
	bus := commandbus.New(registry, nil)
	placementEngine := placement.New(store)
	drainer := NewDrainer(store, store, placementEngine, bus, nil, nil)

	report, err := drainer.Drain(ctx, "N")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(report.Migrated) != 0 || len(report.Failed) != 0 {
		t.Fatalf("expected empty report, got %+v", report)
	}
	node, _ := store.GetNode(ctx, "N")
	if node.Status != domain.NodeOffline {
		t.Errorf("status = %s, want offline", node.Status)
	}
}
