// Package notify implements the admin-notifier abstraction: a logger plus
// an optional webhook sink for the four event shapes the coordinator
// reports to operators (§7).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/botfleet/coordinator/pkg/logger"
)

// EventType is one of the four shapes the coordinator ever emits.
type EventType string

const (
	EventNodeRecoveryComplete EventType = "node_recovery_complete"
	EventNodeStatusChange     EventType = "node_status_change"
	EventCapacityOverflow     EventType = "capacity_overflow"
	EventWaitingExpired       EventType = "waiting_tenants_expired"
)

// Event is the payload delivered to the webhook sink and logged locally.
type Event struct {
	Type    EventType              `json:"type"`
	At      time.Time              `json:"at"`
	Details map[string]interface{} `json:"details"`
}

// Notifier logs every event and, if a webhook URL is configured, best-effort
// POSTs it as JSON. Webhook failures are logged and never propagated —
// notification is a side channel, not part of the operation's outcome.
type Notifier struct {
	log        *logger.Logger
	webhookURL string
	client     *http.Client
}

// New creates a Notifier. webhookURL may be empty, in which case only
// logging occurs.
func New(log *logger.Logger, webhookURL string) *Notifier {
	return &Notifier{log: log, webhookURL: webhookURL, client: &http.Client{Timeout: 5 * time.Second}}
}

func (n *Notifier) emit(ctx context.Context, evt Event) {
	evt.At = time.Now().UTC()
	if n.log != nil {
		n.log.WithField("event_type", evt.Type).WithField("details", evt.Details).Info("admin notification")
	}
	if n.webhookURL == "" {
		return
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		if n.log != nil {
			n.log.WithError(err).Warn("admin notifier webhook delivery failed")
		}
		return
	}
	resp.Body.Close()
}

// NodeRecoveryComplete reports the final outcome of a triggerRecovery run.
func (n *Notifier) NodeRecoveryComplete(ctx context.Context, nodeID string, recovered, failed, waiting int) {
	n.emit(ctx, Event{Type: EventNodeRecoveryComplete, Details: map[string]interface{}{
		"node_id": nodeID, "recovered": recovered, "failed": failed, "waiting": waiting,
	}})
}

// NodeStatusChange reports a node transition for operator visibility.
func (n *Notifier) NodeStatusChange(ctx context.Context, nodeID, from, to, reason string) {
	n.emit(ctx, Event{Type: EventNodeStatusChange, Details: map[string]interface{}{
		"node_id": nodeID, "from": from, "to": to, "reason": reason,
	}})
}

// CapacityOverflow reports that drain or recovery could not place every
// workload.
func (n *Notifier) CapacityOverflow(ctx context.Context, nodeID string, failed, total int) {
	n.emit(ctx, Event{Type: EventCapacityOverflow, Details: map[string]interface{}{
		"node_id": nodeID, "failed": failed, "total": total,
	}})
}

// WaitingTenantsExpired reports that tenants queued for recovery retry were
// dropped without ever being placed.
func (n *Notifier) WaitingTenantsExpired(ctx context.Context, eventID string, tenants []string) {
	n.emit(ctx, Event{Type: EventWaitingExpired, Details: map[string]interface{}{
		"event_id": eventID, "tenants": tenants,
	}})
}
