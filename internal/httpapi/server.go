// Package httpapi implements the coordinator's two external interfaces: the
// admin HTTP surface (credit and fleet-management endpoints) and the
// node-agent WebSocket upgrade route, both routed with gorilla/mux.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/botfleet/coordinator/internal/app/metrics"
	"github.com/botfleet/coordinator/internal/billing"
	"github.com/botfleet/coordinator/internal/commandbus"
	"github.com/botfleet/coordinator/internal/ledger"
	"github.com/botfleet/coordinator/internal/orchestrator"
	"github.com/botfleet/coordinator/internal/registration"
	"github.com/botfleet/coordinator/internal/storage"
	"github.com/botfleet/coordinator/pkg/logger"
)

// Server holds every collaborator the HTTP surface dispatches into. It owns
// no state of its own beyond routing.
type Server struct {
	Nodes       storage.NodeStore
	Bots        storage.BotStore
	Tokens      *registration.TokenService
	Registrar   *registration.Registrar
	Ledger      *ledger.Ledger
	Billing     *billing.Gate
	Drainer     *orchestrator.Drainer
	Recoverer   *orchestrator.Recoverer
	Registry    *commandbus.Registry
	Bus         *commandbus.Bus
	AdminTokens map[string]bool
	Log         *logger.Logger
}

// NewRouter builds the full route table: admin endpoints behind bearer-token
// auth, the node-agent WS upgrade behind node-secret auth, and an
// unauthenticated health/metrics pair.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(metrics.InstrumentHandler)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/internal/nodes/{nodeId}/ws", s.handleNodeWS).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdminToken)

	admin.HandleFunc("/nodes", s.handleListNodes).Methods(http.MethodGet)
	admin.HandleFunc("/nodes/{nodeId}", s.handleGetNode).Methods(http.MethodGet)
	admin.HandleFunc("/nodes/{nodeId}/drain", s.handleDrainNode).Methods(http.MethodPost)

	admin.HandleFunc("/registration/tokens", s.handleCreateToken).Methods(http.MethodPost)
	admin.HandleFunc("/registration/tokens", s.handleListTokens).Methods(http.MethodGet)

	admin.HandleFunc("/tenants/{tenant}/credits", s.handleGetBalance).Methods(http.MethodGet)
	admin.HandleFunc("/tenants/{tenant}/credits/transactions", s.handleListTransactions).Methods(http.MethodGet)
	admin.HandleFunc("/tenants/{tenant}/credits/adjustments", s.handleListTransactions).Methods(http.MethodGet)
	admin.HandleFunc("/tenants/{tenant}/credits/grant", s.handleGrantCredit).Methods(http.MethodPost)
	admin.HandleFunc("/tenants/{tenant}/credits/refund", s.handleRefundCredit).Methods(http.MethodPost)
	admin.HandleFunc("/tenants/{tenant}/credits/correction", s.handleCorrectionCredit).Methods(http.MethodPost)

	admin.HandleFunc("/bots/{botId}/reactivate", s.handleReactivateBot).Methods(http.MethodPost)
	admin.HandleFunc("/bots/{botId}/destroy", s.handleDestroyBot).Methods(http.MethodPost)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
