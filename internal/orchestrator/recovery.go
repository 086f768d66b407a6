package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/botfleet/coordinator/internal/app/metrics"
	"github.com/botfleet/coordinator/internal/commandbus"
	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/notify"
	"github.com/botfleet/coordinator/internal/placement"
	"github.com/botfleet/coordinator/internal/statemachine"
	"github.com/botfleet/coordinator/internal/storage"
	"github.com/botfleet/coordinator/pkg/logger"
)

// TenantAssignment is one tenant workload that was running on a node at the
// moment it was declared dead. The orchestrator is intentionally agnostic
// to tier definitions (design note): callers resolve and pre-sort this list
// by tier priority themselves before calling TriggerRecovery.
type TenantAssignment struct {
	Tenant      string
	BotID       string
	BotName     string
	EstimatedMb int64
}

// Recoverer orchestrates rehydrating a dead node's tenants onto healthy
// targets (§4.7).
type Recoverer struct {
	nodes     storage.NodeStore
	bots      storage.BotStore
	profiles  storage.BotProfileStore
	recovery  storage.RecoveryStore
	placement *placement.Engine
	bus       *commandbus.Bus
	notifier  *notify.Notifier
	log       *logger.Logger
}

// NewRecoverer creates a Recoverer.
func NewRecoverer(nodes storage.NodeStore, bots storage.BotStore, profiles storage.BotProfileStore, recovery storage.RecoveryStore, placementEngine *placement.Engine, bus *commandbus.Bus, notifier *notify.Notifier, log *logger.Logger) *Recoverer {
	return &Recoverer{
		nodes: nodes, bots: bots, profiles: profiles, recovery: recovery,
		placement: placementEngine, bus: bus, notifier: notifier, log: log,
	}
}

// TriggerRecovery moves deadNodeID to offline then recovering, attempts to
// rehydrate every tenant in assignments (already tier-sorted by the
// caller), and records the outcome as a RecoveryEvent.
func (r *Recoverer) TriggerRecovery(ctx context.Context, deadNodeID string, trigger domain.RecoveryTrigger, assignments []TenantAssignment) (domain.RecoveryReport, error) {
	if _, err := statemachine.Transition(ctx, r.nodes, deadNodeID, domain.NodeOffline, "dead_node_detected", "recovery-orchestrator"); err != nil {
		return domain.RecoveryReport{}, err
	}
	if _, err := statemachine.Transition(ctx, r.nodes, deadNodeID, domain.NodeRecovering, "recovery_started", "recovery-orchestrator"); err != nil {
		return domain.RecoveryReport{}, err
	}

	event, err := r.recovery.CreateEvent(ctx, domain.RecoveryEvent{
		NodeID: deadNodeID, Trigger: trigger, Status: domain.RecoveryInProgress,
		TenantsTotal: len(assignments), StartedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.RecoveryReport{}, err
	}

	report := domain.RecoveryReport{}
	for _, a := range assignments {
		r.recoverTenant(ctx, event.ID, deadNodeID, a, &report)
	}

	if _, err := statemachine.Transition(ctx, r.nodes, deadNodeID, domain.NodeOffline, "recovery_complete", "recovery-orchestrator"); err != nil {
		return report, err
	}

	event.TenantsRecovered = len(report.Recovered)
	event.TenantsFailed = len(report.Failed)
	event.TenantsWaiting = len(report.Waiting)
	now := time.Now().UTC()
	event.CompletedAt = &now
	if reportJSON, err := json.Marshal(report); err == nil {
		event.ReportJSON = string(reportJSON)
	}
	if len(report.Waiting) > 0 {
		event.Status = domain.RecoveryPartial
	} else {
		event.Status = domain.RecoveryCompleted
	}
	if err := r.recovery.UpdateEvent(ctx, event); err != nil {
		return report, err
	}
	metrics.RecordRecoveryEvent(string(event.Status), time.Since(event.StartedAt))

	if r.notifier != nil {
		r.notifier.NodeRecoveryComplete(ctx, deadNodeID, len(report.Recovered), len(report.Failed), len(report.Waiting))
		if len(report.Waiting) > 0 {
			r.notifier.CapacityOverflow(ctx, deadNodeID, len(report.Waiting), len(assignments))
		}
	}

	return report, nil
}

// recoverTenant attempts to rehydrate one tenant's bot onto a healthy
// target, mutating report in place per §4.7.
func (r *Recoverer) recoverTenant(ctx context.Context, eventID, deadNodeID string, a TenantAssignment, report *domain.RecoveryReport) {
	key := backupKey(a.Tenant, a.BotName)
	startedAt := time.Now().UTC()

	target, ok, err := r.placement.FindPlacement(ctx, a.EstimatedMb, map[string]bool{deadNodeID: true})
	if err != nil || !ok {
		report.Waiting = append(report.Waiting, domain.WaitingTenant{Tenant: a.Tenant, Reason: "no_capacity"})
		r.recovery.CreateItem(ctx, domain.RecoveryItem{
			RecoveryEventID: eventID, Tenant: a.Tenant, SourceNode: deadNodeID, BackupKey: key,
			Status: domain.RecoveryItemWaiting, Reason: "no_capacity", StartedAt: startedAt,
		})
		return
	}

	if err := r.runRecoveryCommands(ctx, target.NodeID, key, a); err != nil {
		now := time.Now().UTC()
		report.Failed = append(report.Failed, domain.FailedTenant{Tenant: a.Tenant, Reason: err.Error()})
		r.recovery.CreateItem(ctx, domain.RecoveryItem{
			RecoveryEventID: eventID, Tenant: a.Tenant, SourceNode: deadNodeID, TargetNode: target.NodeID,
			BackupKey: key, Status: domain.RecoveryItemFailed, Reason: err.Error(),
			StartedAt: startedAt, CompletedAt: &now,
		})
		return
	}

	if a.BotID != "" {
		if err := r.bots.ReassignNode(ctx, a.BotID, target.NodeID); err != nil && r.log != nil {
			r.log.WithError(err).WithField("bot_id", a.BotID).Error("recovery: reassign failed after successful import")
		}
	}
	if err := r.nodes.AdjustUsedMb(ctx, target.NodeID, a.EstimatedMb); err != nil && r.log != nil {
		r.log.WithError(err).WithField("node_id", target.NodeID).Warn("recovery: failed to reserve target capacity")
	}

	now := time.Now().UTC()
	report.Recovered = append(report.Recovered, domain.RecoveredTenant{Tenant: a.Tenant, Target: target.NodeID})
	r.recovery.CreateItem(ctx, domain.RecoveryItem{
		RecoveryEventID: eventID, Tenant: a.Tenant, SourceNode: deadNodeID, TargetNode: target.NodeID,
		BackupKey: key, Status: domain.RecoveryItemRecovered, StartedAt: startedAt, CompletedAt: &now,
	})
}

func (r *Recoverer) runRecoveryCommands(ctx context.Context, targetNodeID, backupKey string, a TenantAssignment) error {
	if _, err := r.bus.Send(ctx, targetNodeID, commandbus.CommandBackupDownload, map[string]string{"filename": backupKey}, 0); err != nil {
		return err
	}

	image, env := resolveProfile(ctx, r.profiles, a.BotID)

	if _, err := r.bus.Send(ctx, targetNodeID, commandbus.CommandBotImport, map[string]interface{}{
		"name": a.BotName, "image": image, "env": env,
	}, 0); err != nil {
		return err
	}
	if _, err := r.bus.Send(ctx, targetNodeID, commandbus.CommandBotInspect, map[string]string{"name": a.BotName}, 0); err != nil {
		return err
	}
	return nil
}

// RetryWaiting reloads eventID and re-attempts every still-waiting item
// against the authoritative tenant list. Each item whose attempt runs closes
// out as recovered or failed. An item stays waiting when placement still
// finds no capacity, and a tenant that resolve does not return is reported
// as skipped with its item left waiting.
func (r *Recoverer) RetryWaiting(ctx context.Context, eventID string, resolve func(tenant string) (TenantAssignment, bool)) (domain.RecoveryReport, error) {
	event, err := r.recovery.GetEvent(ctx, eventID)
	if err != nil {
		return domain.RecoveryReport{}, err
	}

	items, err := r.recovery.ListItems(ctx, eventID, domain.RecoveryItemWaiting)
	if err != nil {
		return domain.RecoveryReport{}, err
	}

	report := domain.RecoveryReport{}
	for _, item := range items {
		a, ok := resolve(item.Tenant)
		if !ok {
			report.Skipped = append(report.Skipped, item.Tenant)
			continue
		}
		r.retryItem(ctx, event.NodeID, item, a, &report)
	}

	event.TenantsRecovered += len(report.Recovered)
	event.TenantsFailed += len(report.Failed)
	event.TenantsWaiting = event.TenantsWaiting - len(report.Recovered) - len(report.Failed)
	if event.TenantsWaiting < 0 {
		event.TenantsWaiting = 0
	}
	if event.TenantsWaiting == 0 {
		event.Status = domain.RecoveryCompleted
	}
	if err := r.recovery.UpdateEvent(ctx, event); err != nil {
		return report, err
	}

	return report, nil
}

func (r *Recoverer) retryItem(ctx context.Context, deadNodeID string, item domain.RecoveryItem, a TenantAssignment, report *domain.RecoveryReport) {
	target, ok, err := r.placement.FindPlacement(ctx, a.EstimatedMb, map[string]bool{deadNodeID: true})
	if err != nil || !ok {
		// still no capacity: leave item waiting, do not close it out.
		return
	}

	item.RetryCount++
	now := time.Now().UTC()

	if err := r.runRecoveryCommands(ctx, target.NodeID, item.BackupKey, a); err != nil {
		item.Status = domain.RecoveryItemFailed
		item.Reason = err.Error()
		item.CompletedAt = &now
		r.recovery.UpdateItem(ctx, item)
		report.Failed = append(report.Failed, domain.FailedTenant{Tenant: a.Tenant, Reason: err.Error()})
		return
	}

	if a.BotID != "" {
		if err := r.bots.ReassignNode(ctx, a.BotID, target.NodeID); err != nil && r.log != nil {
			r.log.WithError(err).WithField("bot_id", a.BotID).Error("recovery retry: reassign failed after successful import")
		}
	}
	if err := r.nodes.AdjustUsedMb(ctx, target.NodeID, a.EstimatedMb); err != nil && r.log != nil {
		r.log.WithError(err).WithField("node_id", target.NodeID).Warn("recovery retry: failed to reserve target capacity")
	}

	item.TargetNode = target.NodeID
	item.Status = domain.RecoveryItemRecovered
	item.CompletedAt = &now
	r.recovery.UpdateItem(ctx, item)
	report.Recovered = append(report.Recovered, domain.RecoveredTenant{Tenant: a.Tenant, Target: target.NodeID})
}
