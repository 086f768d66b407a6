// Package heartbeat ingests node liveness reports and runs the periodic
// sweep that declares a node dead after prolonged silence.
package heartbeat

import (
	"context"
	"time"

	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/storage"
	"github.com/botfleet/coordinator/pkg/logger"
)

// DefaultTickInterval is the watchdog sweep period (§4.5).
const DefaultTickInterval = 30 * time.Second

// DefaultDeadThreshold is how long a node may stay silent before the
// watchdog considers it dead.
const DefaultDeadThreshold = 90 * time.Second

// Ingest applies a heartbeat frame: usedMb is the sum of reported container
// memory, or zero if the agent reported no containers.
func Ingest(ctx context.Context, nodes storage.NodeStore, hb domain.Heartbeat) error {
	at := hb.ReceivedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return nodes.UpdateHeartbeat(ctx, hb.NodeID, hb.UsedMbFromContainers(), at)
}

// DeadNodeHandler is invoked once per node the watchdog judges dead. The
// watchdog itself never changes node status — the recovery orchestrator
// does, so this is the hook that wires the two together.
type DeadNodeHandler func(ctx context.Context, nodeID string)

// Watchdog periodically scans for nodes that have gone silent.
type Watchdog struct {
	nodes         storage.NodeStore
	log           *logger.Logger
	tickInterval  time.Duration
	deadThreshold time.Duration
	onDead        DeadNodeHandler

	stop chan struct{}
}

// New creates a Watchdog with the given sweep interval and silence
// threshold; zero values fall back to the package defaults.
func New(nodes storage.NodeStore, log *logger.Logger, tickInterval, deadThreshold time.Duration, onDead DeadNodeHandler) *Watchdog {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	if deadThreshold <= 0 {
		deadThreshold = DefaultDeadThreshold
	}
	return &Watchdog{
		nodes: nodes, log: log, tickInterval: tickInterval,
		deadThreshold: deadThreshold, onDead: onDead, stop: make(chan struct{}),
	}
}

// Run blocks, ticking until ctx is canceled or Stop is called. A slow
// onDead handler for one node must not delay the sweep for the rest, so
// each candidate is dispatched as its own goroutine.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop ends the watchdog's ticking loop.
func (w *Watchdog) Stop() {
	close(w.stop)
}

func (w *Watchdog) sweep(ctx context.Context) {
	nodes, err := w.nodes.ListNodes(ctx, storage.NodeFilter{
		Statuses: []domain.NodeStatus{domain.NodeActive, domain.NodeDegraded, domain.NodeDraining},
	})
	if err != nil {
		if w.log != nil {
			w.log.WithError(err).Error("heartbeat watchdog: list nodes failed")
		}
		return
	}

	now := time.Now().UTC()
	for _, n := range nodes {
		if now.Sub(n.LastHeartbeatAt) < w.deadThreshold {
			continue
		}
		if w.log != nil {
			w.log.WithField("node_id", n.ID).Warn("heartbeat watchdog: node exceeded dead threshold")
		}
		go w.onDead(ctx, n.ID)
	}
}
