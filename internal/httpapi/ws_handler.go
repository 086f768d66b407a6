package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/botfleet/coordinator/internal/commandbus"
	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/heartbeat"
	"github.com/botfleet/coordinator/internal/registration"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inboundFrame is the envelope a node agent sends over its WS link: either a
// command_result correlated to a prior Bus.Send, or a flat heartbeat report.
// Both shapes are read from the one wire envelope since the node agent
// never nests a heartbeat's fields under a payload key.
type inboundFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`

	NodeID        string          `json:"node_id,omitempty"`
	UptimeS       int64           `json:"uptime_s,omitempty"`
	MemoryTotalMb int64           `json:"memory_total_mb,omitempty"`
	MemoryUsedMb  int64           `json:"memory_used_mb,omitempty"`
	DiskTotalGb   int64           `json:"disk_total_gb,omitempty"`
	DiskUsedGb    int64           `json:"disk_used_gb,omitempty"`
	Containers    []wireContainer `json:"containers,omitempty"`
}

type wireContainer struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	MemoryMb int64  `json:"memory_mb"`
	UptimeS  int64  `json:"uptime_s"`
}

// handleNodeWS upgrades the node-agent wire protocol connection: Bearer
// nodeSecret, matched by SHA-256 against Node.NodeSecretHash, then
// registered into the command bus's per-node connection registry for the
// lifetime of the socket.
func (s *Server) handleNodeWS(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["nodeId"]

	node, err := s.Nodes.GetNode(r.Context(), nodeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	secret := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if secret == "" || node.NodeSecretHash == "" || registration.HashSecret(secret) != node.NodeSecretHash {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid node secret")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.Log != nil {
			s.Log.WithError(err).WithField("node_id", nodeID).Error("ws upgrade failed")
		}
		return
	}
	defer conn.Close()

	s.Registry.Set(nodeID, conn)
	defer s.Registry.Remove(nodeID)

	if s.Log != nil {
		s.Log.WithField("node_id", nodeID).Info("node agent connected")
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if s.Log != nil {
				s.Log.WithError(err).WithField("node_id", nodeID).Info("node agent disconnected")
			}
			return
		}
		s.handleInboundFrame(r.Context(), nodeID, raw)
	}
}

func (s *Server) handleInboundFrame(ctx context.Context, nodeID string, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		if s.Log != nil {
			s.Log.WithError(err).WithField("node_id", nodeID).Warn("malformed inbound frame")
		}
		return
	}

	switch frame.Type {
	case "command_result":
		s.Bus.HandleResult(commandbus.Result{
			ID: frame.ID, Type: frame.Type, Command: frame.Command,
			Success: frame.Success, Data: frame.Data, Error: frame.Error,
		})
	case "heartbeat":
		containers := make([]domain.ContainerHeartbeat, 0, len(frame.Containers))
		for _, c := range frame.Containers {
			containers = append(containers, domain.ContainerHeartbeat{
				Name: c.Name, Status: c.Status, MemMb: c.MemoryMb, Uptime: c.UptimeS,
			})
		}
		hb := domain.Heartbeat{
			NodeID: nodeID, UptimeSeconds: frame.UptimeS,
			MemTotalMb: frame.MemoryTotalMb, MemUsedMb: frame.MemoryUsedMb,
			DiskTotalGb: frame.DiskTotalGb, DiskUsedGb: frame.DiskUsedGb,
			Containers: containers, ReceivedAt: time.Now().UTC(),
		}
		if err := heartbeat.Ingest(ctx, s.Nodes, hb); err != nil && s.Log != nil {
			s.Log.WithError(err).WithField("node_id", nodeID).Warn("heartbeat ingest failed")
		}
	default:
		if s.Log != nil {
			s.Log.WithField("node_id", nodeID).WithField("frame_type", frame.Type).Warn("unknown inbound frame type")
		}
	}
}
