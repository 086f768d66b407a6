package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/botfleet/coordinator/internal/storage"
)

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.Nodes.ListNodes(r.Context(), storage.NodeFilter{})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["nodeId"]
	node, err := s.Nodes.GetNode(r.Context(), nodeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleDrainNode(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["nodeId"]
	report, err := s.Drainer.Drain(r.Context(), nodeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type createTokenRequest struct {
	UserID string `json:"user_id"`
	Label  string `json:"label"`
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed request body")
		return
	}
	token, err := s.Tokens.Create(r.Context(), req.UserID, req.Label)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	tokens, err := s.Tokens.ListActive(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleReactivateBot(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["botId"]
	bot, err := s.Billing.ReactivateBot(r.Context(), botID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

func (s *Server) handleDestroyBot(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["botId"]
	bot, err := s.Billing.DestroyBot(r.Context(), botID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bot)
}
