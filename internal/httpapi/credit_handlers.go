package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/botfleet/coordinator/internal/storage"
)

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	balance, err := s.Ledger.Balance(r.Context(), tenant)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	filter := storage.CreditFilter{}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		filter.Offset = offset
	}

	txns, total, err := s.Ledger.ListTransactions(r.Context(), tenant, filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": txns, "total": total})
}

type grantRequest struct {
	AmountCents      int64  `json:"amount_cents"`
	Reason           string `json:"reason"`
	AttributedUserID string `json:"attributed_user_id"`
}

func (s *Server) handleGrantCredit(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidJSON(w)
		return
	}
	txn, err := s.Ledger.Grant(r.Context(), tenant, req.AmountCents, req.Reason, req.AttributedUserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

type refundRequest struct {
	AmountCents      int64    `json:"amount_cents"`
	Reason           string   `json:"reason"`
	AttributedUserID string   `json:"attributed_user_id"`
	ReferenceIDs     []string `json:"reference_ids"`
}

func (s *Server) handleRefundCredit(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidJSON(w)
		return
	}
	txn, err := s.Ledger.Refund(r.Context(), tenant, req.AmountCents, req.Reason, req.AttributedUserID, req.ReferenceIDs)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

type correctionRequest struct {
	AmountCents      int64  `json:"amount_cents"`
	Reason           string `json:"reason"`
	AttributedUserID string `json:"attributed_user_id"`
}

func (s *Server) handleCorrectionCredit(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	var req correctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidJSON(w)
		return
	}
	txn, err := s.Ledger.Correction(r.Context(), tenant, req.AmountCents, req.Reason, req.AttributedUserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}
