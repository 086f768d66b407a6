package orchestrator

import (
	"context"
	"fmt"

	"github.com/botfleet/coordinator/internal/commandbus"
	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/notify"
	"github.com/botfleet/coordinator/internal/placement"
	"github.com/botfleet/coordinator/internal/statemachine"
	"github.com/botfleet/coordinator/internal/storage"
	"github.com/botfleet/coordinator/pkg/logger"
)

// DrainReport is the outcome of one Drain call.
type DrainReport struct {
	Migrated []string
	Failed   []string
}

// Drainer orchestrates the graceful removal of every bot from a node before
// it's taken offline for decommission (§4.6).
type Drainer struct {
	nodes     storage.NodeStore
	bots      storage.BotStore
	placement *placement.Engine
	bus       *commandbus.Bus
	notifier  *notify.Notifier
	log       *logger.Logger
}

// NewDrainer creates a Drainer.
func NewDrainer(nodes storage.NodeStore, bots storage.BotStore, placementEngine *placement.Engine, bus *commandbus.Bus, notifier *notify.Notifier, log *logger.Logger) *Drainer {
	return &Drainer{nodes: nodes, bots: bots, placement: placementEngine, bus: bus, notifier: notifier, log: log}
}

// Drain migrates every bot off nodeID, then takes it offline. The draining
// transition always precedes the first migration attempt (§4.6 invariant).
func (d *Drainer) Drain(ctx context.Context, nodeID string) (DrainReport, error) {
	if _, err := statemachine.Transition(ctx, d.nodes, nodeID, domain.NodeDraining, "drain_requested", "drain-orchestrator"); err != nil {
		return DrainReport{}, err
	}

	bots, err := d.bots.ListBots(ctx, storage.BotFilter{NodeID: nodeID})
	if err != nil {
		return DrainReport{}, err
	}

	if len(bots) == 0 {
		if _, err := statemachine.Transition(ctx, d.nodes, nodeID, domain.NodeOffline, "drain_complete_empty", "drain-orchestrator"); err != nil {
			return DrainReport{}, err
		}
		return DrainReport{}, nil
	}

	report := DrainReport{}
	for _, bot := range bots {
		if _, err := d.migrate(ctx, bot, nodeID); err != nil {
			if d.log != nil {
				d.log.WithError(err).WithField("bot_id", bot.ID).Warn("drain: migration failed")
			}
			report.Failed = append(report.Failed, bot.ID)
			continue
		}
		report.Migrated = append(report.Migrated, bot.ID)
	}

	if len(report.Failed) == 0 {
		updated, err := statemachine.Transition(ctx, d.nodes, nodeID, domain.NodeOffline, "drain_complete", "drain-orchestrator")
		if err != nil {
			return report, err
		}
		if d.notifier != nil {
			d.notifier.NodeStatusChange(ctx, nodeID, string(domain.NodeDraining), string(updated.Status), "drain_complete")
		}
		return report, nil
	}

	if d.notifier != nil {
		d.notifier.CapacityOverflow(ctx, nodeID, len(report.Failed), len(bots))
	}
	return report, nil
}

// migrate moves one live bot off excludeNodeID to the best-fit remaining
// target via a live export/import round trip over the command bus.
func (d *Drainer) migrate(ctx context.Context, bot domain.BotInstance, excludeNodeID string) (string, error) {
	target, ok, err := d.placement.FindPlacement(ctx, bot.EstimatedMb, map[string]bool{excludeNodeID: true})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no placement target available for bot %s", bot.ID)
	}

	if _, err := d.bus.Send(ctx, excludeNodeID, commandbus.CommandBotExport, map[string]string{"name": bot.Name}, 0); err != nil {
		return "", err
	}
	if _, err := d.bus.Send(ctx, target.NodeID, commandbus.CommandBotImport, map[string]string{"name": bot.Name}, 0); err != nil {
		return "", err
	}
	if _, err := d.bus.Send(ctx, target.NodeID, commandbus.CommandBotInspect, map[string]string{"name": bot.Name}, 0); err != nil {
		return "", err
	}

	if err := d.bots.ReassignNode(ctx, bot.ID, target.NodeID); err != nil {
		return "", err
	}
	if err := d.nodes.AdjustUsedMb(ctx, target.NodeID, bot.EstimatedMb); err != nil {
		return "", err
	}
	if err := d.nodes.AdjustUsedMb(ctx, excludeNodeID, -bot.EstimatedMb); err != nil && d.log != nil {
		d.log.WithError(err).WithField("node_id", excludeNodeID).Warn("drain: failed to release source node capacity")
	}

	return target.NodeID, nil
}
