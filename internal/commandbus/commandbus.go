// Package commandbus implements the correlated request/response protocol
// the coordinator uses to drive node agents over a persistent WebSocket
// link: one outstanding call per UUID, resolved or timed out, never
// serialized across calls to the same node.
package commandbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	svcerrors "github.com/botfleet/coordinator/infrastructure/errors"
	"github.com/botfleet/coordinator/infrastructure/resilience"
	"github.com/botfleet/coordinator/internal/app/metrics"
	"github.com/botfleet/coordinator/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// CommandType is one of the closed allowlist of command frames the bus will
// send. Anything else is rejected before it reaches a socket.
type CommandType string

const (
	CommandBotStart        CommandType = "bot.start"
	CommandBotStop         CommandType = "bot.stop"
	CommandBotRestart      CommandType = "bot.restart"
	CommandBotUpdate       CommandType = "bot.update"
	CommandBotExport       CommandType = "bot.export"
	CommandBotImport       CommandType = "bot.import"
	CommandBotRemove       CommandType = "bot.remove"
	CommandBotLogs         CommandType = "bot.logs"
	CommandBotInspect      CommandType = "bot.inspect"
	CommandBackupUpload    CommandType = "backup.upload"
	CommandBackupDownload  CommandType = "backup.download"
	CommandBackupNightly   CommandType = "backup.run-nightly"
	CommandBackupHot       CommandType = "backup.run-hot"
)

var allowedCommands = map[CommandType]bool{
	CommandBotStart: true, CommandBotStop: true, CommandBotRestart: true,
	CommandBotUpdate: true, CommandBotExport: true, CommandBotImport: true,
	CommandBotRemove: true, CommandBotLogs: true, CommandBotInspect: true,
	CommandBackupUpload: true, CommandBackupDownload: true,
	CommandBackupNightly: true, CommandBackupHot: true,
}

// DefaultTimeout is the per-call deadline applied when the caller doesn't
// override it (§4.3).
const DefaultTimeout = 30 * time.Second

// Command is a server->agent request frame.
type Command struct {
	ID      string      `json:"id"`
	Type    CommandType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Result is the payload of an agent->server command_result frame.
type Result struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Command string          `json:"command"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type pendingCall struct {
	resultCh chan Result
	timer    *time.Timer
}

// Registry owns one live socket per nodeId, torn down on disconnect.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*websocket.Conn
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*websocket.Conn)}
}

// Set registers the live socket for nodeId, replacing any prior connection.
func (r *Registry) Set(nodeID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[nodeID] = conn
}

// Remove drops the registration for nodeId, typically called on disconnect.
func (r *Registry) Remove(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, nodeID)
}

// Get returns the live socket for nodeId, if any.
func (r *Registry) Get(nodeID string) (*websocket.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[nodeID]
	return conn, ok
}

// Bus correlates outbound commands with inbound command_result frames. The
// pending-call map is the only shared mutable state; it is never held
// across a socket write or a caller's wait.
type Bus struct {
	registry *Registry
	log      *logger.Logger

	mu      sync.Mutex
	pending map[string]pendingCall

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker
}

// New creates a Bus reading live connections from registry.
func New(registry *Registry, log *logger.Logger) *Bus {
	return &Bus{
		registry: registry, log: log,
		pending:  make(map[string]pendingCall),
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

// breakerFor returns the per-node circuit breaker, trading off against a
// single node's flaky socket without affecting sends to any other node.
func (b *Bus) breakerFor(nodeID string) *resilience.CircuitBreaker {
	b.breakersMu.Lock()
	defer b.breakersMu.Unlock()
	cb, ok := b.breakers[nodeID]
	if !ok {
		cb = resilience.New(resilience.DefaultNodeLinkConfig(b.log))
		b.breakers[nodeID] = cb
	}
	return cb
}

// Send delivers cmdType/payload to nodeId and blocks for the matching
// command_result, honoring timeout (DefaultTimeout if zero) and ctx
// cancellation. The pending entry is always removed on return.
func (b *Bus) Send(ctx context.Context, nodeID string, cmdType CommandType, payload interface{}, timeout time.Duration) (json.RawMessage, error) {
	start := time.Now()
	outcome := "error"
	defer func() { metrics.RecordCommandBusRoundTrip(string(cmdType), outcome, time.Since(start)) }()

	if !allowedCommands[cmdType] {
		return nil, svcerrors.InvalidArgument("type", "not an allowed command type")
	}

	var data json.RawMessage
	cb := b.breakerFor(nodeID)
	err := cb.Execute(ctx, func() error {
		res, sendErr := b.sendOnce(ctx, nodeID, cmdType, payload, timeout)
		if sendErr != nil {
			return sendErr
		}
		data = res
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
			return nil, svcerrors.ConnectionUnavailable(nodeID)
		}
		return nil, err
	}
	outcome = "success"
	return data, nil
}

// sendOnce performs a single correlated request/response round trip over
// nodeID's socket, independent of circuit-breaker bookkeeping.
func (b *Bus) sendOnce(ctx context.Context, nodeID string, cmdType CommandType, payload interface{}, timeout time.Duration) (json.RawMessage, error) {
	conn, ok := b.registry.Get(nodeID)
	if !ok {
		return nil, svcerrors.ConnectionUnavailable(nodeID)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	id := uuid.NewString()
	resultCh := make(chan Result, 1)
	timer := time.AfterFunc(timeout, func() { b.cancel(id) })
	b.mu.Lock()
	b.pending[id] = pendingCall{resultCh: resultCh, timer: timer}
	b.mu.Unlock()

	frame := Command{ID: id, Type: cmdType, Payload: payload}
	data, err := json.Marshal(frame)
	if err != nil {
		b.drop(id)
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		b.drop(id)
		return nil, svcerrors.ConnectionUnavailable(nodeID)
	}

	select {
	case res, ok := <-resultCh:
		if !ok {
			return nil, svcerrors.Timeout(string(cmdType))
		}
		if !res.Success {
			if res.Error == "" {
				return nil, svcerrors.Internal("command failed", nil)
			}
			return nil, svcerrors.Internal(res.Error, nil)
		}
		return res.Data, nil
	case <-ctx.Done():
		b.drop(id)
		return nil, ctx.Err()
	}
}

// HandleResult dispatches an inbound command_result frame to its waiter, if
// still pending. Unknown or already-resolved IDs are logged and ignored —
// the sender already gave up.
func (b *Bus) HandleResult(res Result) {
	b.mu.Lock()
	call, ok := b.pending[res.ID]
	if ok {
		delete(b.pending, res.ID)
	}
	b.mu.Unlock()
	if !ok {
		if b.log != nil {
			b.log.WithField("id", res.ID).Debug("command result for unknown or expired call")
		}
		return
	}
	call.timer.Stop()
	call.resultCh <- res
}

func (b *Bus) cancel(id string) {
	b.mu.Lock()
	call, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if ok {
		close(call.resultCh)
	}
}

func (b *Bus) drop(id string) {
	b.mu.Lock()
	call, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if ok {
		call.timer.Stop()
	}
}
