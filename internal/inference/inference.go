// Package inference implements the external HTTP health watchdog for nodes
// running model services (§4.8): polls each configured service's /health
// endpoint, tracks consecutive all-down cycles per node, and escalates
// through a reboot attempt to a terminal failed transition.
package inference

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/botfleet/coordinator/infrastructure/resilience"
	"github.com/botfleet/coordinator/internal/app/metrics"
	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/notify"
	"github.com/botfleet/coordinator/internal/statemachine"
	"github.com/botfleet/coordinator/internal/storage"
	"github.com/botfleet/coordinator/pkg/logger"
)

// DefaultPorts maps each model service to its default health-check port.
var DefaultPorts = map[string]int{
	"llama":       8080,
	"chatterbox":  8081,
	"whisper":     8082,
	"qwen":        8083,
}

const (
	// DefaultEndpointTimeout bounds a single service's /health request.
	DefaultEndpointTimeout = 5 * time.Second
	// DefaultRebootThreshold is how many consecutive all-down cycles trigger
	// a reboot attempt.
	DefaultRebootThreshold = 2
	// DefaultFailedTimeout is how long a node may stay down after a reboot
	// before it's declared failed.
	DefaultFailedTimeout = 10 * time.Minute
	// DefaultTickInterval is the watchdog's poll period.
	DefaultTickInterval = 30 * time.Second
)

// ProviderClient issues reboot commands to the cloud provider hosting a
// node. It is an external adapter boundary; the watchdog never talks to a
// cloud API directly.
type ProviderClient interface {
	Reboot(ctx context.Context, providerID string) error
}

// nodeState is the per-node in-memory tracker described in §4.8. It is never
// persisted; a coordinator restart resets the strike count.
type nodeState struct {
	consecutiveAllDown int
	rebootedAt         time.Time // zero means "not rebooted"
}

// Watchdog polls model-service health for every active/degraded node with a
// host and escalates persistent failure through reboot to a failed
// transition.
type Watchdog struct {
	nodes    storage.NodeStore
	health   storage.ServiceHealthStore
	provider ProviderClient
	notifier *notify.Notifier
	log      *logger.Logger

	ports           map[string]int
	endpointTimeout time.Duration
	rebootThreshold int
	failedTimeout   time.Duration
	tickInterval    time.Duration

	client *http.Client
	states sync.Map // nodeID -> *nodeState
	stop   chan struct{}

	startOnce sync.Once
}

// Option configures a Watchdog at construction.
type Option func(*Watchdog)

// WithPorts overrides the default service->port map.
func WithPorts(ports map[string]int) Option { return func(w *Watchdog) { w.ports = ports } }

// WithRebootThreshold overrides DefaultRebootThreshold.
func WithRebootThreshold(n int) Option { return func(w *Watchdog) { w.rebootThreshold = n } }

// WithFailedTimeout overrides DefaultFailedTimeout.
func WithFailedTimeout(d time.Duration) Option { return func(w *Watchdog) { w.failedTimeout = d } }

// WithTickInterval overrides DefaultTickInterval.
func WithTickInterval(d time.Duration) Option { return func(w *Watchdog) { w.tickInterval = d } }

// WithEndpointTimeout overrides DefaultEndpointTimeout.
func WithEndpointTimeout(d time.Duration) Option { return func(w *Watchdog) { w.endpointTimeout = d } }

// New creates a Watchdog. provider and notifier may be nil (reboot issuance
// and notification become no-ops).
func New(nodes storage.NodeStore, health storage.ServiceHealthStore, provider ProviderClient, notifier *notify.Notifier, log *logger.Logger, opts ...Option) *Watchdog {
	w := &Watchdog{
		nodes: nodes, health: health, provider: provider, notifier: notifier, log: log,
		ports:           DefaultPorts,
		endpointTimeout: DefaultEndpointTimeout,
		rebootThreshold: DefaultRebootThreshold,
		failedTimeout:   DefaultFailedTimeout,
		tickInterval:    DefaultTickInterval,
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.client = &http.Client{Timeout: w.endpointTimeout}
	return w
}

// Run blocks, polling until ctx is canceled or Stop is called. Double-start
// is a no-op: any call to Run after the first on the same Watchdog returns
// immediately without polling.
func (w *Watchdog) Run(ctx context.Context) {
	first := false
	w.startOnce.Do(func() { first = true })
	if !first {
		return
	}

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

// Stop ends the watchdog's polling loop.
func (w *Watchdog) Stop() {
	close(w.stop)
}

func (w *Watchdog) sweep(ctx context.Context) {
	nodes, err := w.nodes.ListNodes(ctx, storage.NodeFilter{
		Statuses: []domain.NodeStatus{domain.NodeActive, domain.NodeDegraded},
		HasHost:  true,
	})
	if err != nil {
		if w.log != nil {
			w.log.WithError(err).Error("inference watchdog: list nodes failed")
		}
		return
	}

	for _, n := range nodes {
		w.checkNode(ctx, n)
	}
}

func (w *Watchdog) checkNode(ctx context.Context, node domain.Node) {
	anyUp := false
	for service, port := range w.ports {
		ok := w.probe(ctx, node.Host, port)
		if w.health != nil {
			w.health.Record(ctx, storage.ServiceHealthRecord{
				NodeID: node.ID, Service: service, Healthy: ok, CheckedAt: time.Now().UTC(),
			})
		}
		if ok {
			anyUp = true
		}
	}

	raw, hadState := w.states.Load(node.ID)
	var state nodeState
	if hadState {
		state = *raw.(*nodeState)
	}

	if anyUp {
		if state.consecutiveAllDown > 0 || !state.rebootedAt.IsZero() {
			w.states.Delete(node.ID)
			if node.Status == domain.NodeDegraded {
				if _, err := statemachine.Transition(ctx, w.nodes, node.ID, domain.NodeActive, "service_health_recovered", "inference-watchdog"); err != nil && w.log != nil {
					w.log.WithError(err).WithField("node_id", node.ID).Error("inference watchdog: failed to restore active status")
				}
			}
		}
		return
	}

	w.handleAllDown(ctx, node, state)
}

func (w *Watchdog) handleAllDown(ctx context.Context, node domain.Node, state nodeState) {
	if !state.rebootedAt.IsZero() {
		if time.Since(state.rebootedAt) >= w.failedTimeout {
			w.states.Delete(node.ID)
			if _, err := statemachine.Transition(ctx, w.nodes, node.ID, domain.NodeFailed, "inference_failed_timeout", "inference-watchdog"); err != nil {
				if w.log != nil {
					w.log.WithError(err).WithField("node_id", node.ID).Error("inference watchdog: failed transition failed")
				}
				return
			}
			if w.notifier != nil {
				w.notifier.NodeStatusChange(ctx, node.ID, string(node.Status), string(domain.NodeFailed), "gpuNodeFailed")
			}
			return
		}
		// still within the failed-timeout window; keep waiting.
		w.states.Store(node.ID, &state)
		return
	}

	state.consecutiveAllDown++
	if state.consecutiveAllDown < w.rebootThreshold {
		w.states.Store(node.ID, &state)
		return
	}

	if _, err := statemachine.Transition(ctx, w.nodes, node.ID, domain.NodeDegraded, "inference_all_down", "inference-watchdog"); err != nil {
		if w.log != nil {
			w.log.WithError(err).WithField("node_id", node.ID).Error("inference watchdog: degraded transition failed")
		}
		w.states.Store(node.ID, &state)
		return
	}
	if w.notifier != nil {
		w.notifier.NodeStatusChange(ctx, node.ID, string(node.Status), string(domain.NodeDegraded), "gpuNodeDegraded")
	}

	if node.ProviderID == "" {
		if w.log != nil {
			w.log.WithField("node_id", node.ID).Error("inference watchdog: no provider id known, skipping reboot")
		}
	} else if w.provider != nil {
		if err := w.provider.Reboot(ctx, node.ProviderID); err != nil && w.log != nil {
			w.log.WithError(err).WithField("node_id", node.ID).Error("inference watchdog: reboot issuance failed")
		} else {
			metrics.RecordInferenceReboot(node.ID)
		}
	}

	state.rebootedAt = time.Now().UTC()
	w.states.Store(node.ID, &state)
}

// probe checks one service's /health endpoint, retrying once on any failure
// (a transport error or a non-2xx status) before counting the service as
// down, so a single dropped packet does not count against the node's
// consecutive-all-down streak.
func (w *Watchdog) probe(ctx context.Context, host string, port int) bool {
	url := fmt.Sprintf("http://%s:%d/health", host, port)
	healthy := false

	err := resilience.Retry(ctx, resilience.RetryConfig{
		MaxAttempts:  2,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2,
	}, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, w.endpointTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("health check returned status %d", resp.StatusCode)
		}
		healthy = true
		return nil
	})
	if err != nil {
		return false
	}
	return healthy
}
