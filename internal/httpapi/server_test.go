package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/botfleet/coordinator/internal/commandbus"
	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/ledger"
	"github.com/botfleet/coordinator/internal/registration"
	"github.com/botfleet/coordinator/internal/storage/memory"
)

func newCtx() context.Context { return context.Background() }

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	s := &Server{
		Nodes:    store,
		Bots:     store,
		Tokens:   registration.NewTokenService(store),
		Ledger:   ledger.New(store),
		Registry: commandbus.NewRegistry(),
		Bus:      commandbus.New(commandbus.NewRegistry(), nil),
		AdminTokens: map[string]bool{
			"admin-secret": true,
		},
	}
	return s, store
}

func TestHandleHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAdminRoutes_RequireToken(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/nodes", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdminRoutes_ListNodes(t *testing.T) {
	s, store := newTestServer(t)
	node := domain.Node{ID: "node-1", Host: "10.0.0.1", CapacityMb: 4096, Status: domain.NodeActive}
	if _, err := store.CreateNode(newCtx(), node); err != nil {
		t.Fatalf("create node: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/nodes", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var got []domain.Node
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "node-1" {
		t.Fatalf("unexpected nodes response: %+v", got)
	}
}

func TestAdminRoutes_CreditGrantAndBalance(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(grantRequest{AmountCents: 500, Reason: "promo credit", AttributedUserID: "user-1"})
	req := httptest.NewRequest(http.MethodPost, "/admin/tenants/tenant-1/credits/grant", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("grant status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/tenants/tenant-1/credits", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec = httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var balance domain.CreditBalance
	if err := json.Unmarshal(rec.Body.Bytes(), &balance); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if balance.BalanceCents != 500 {
		t.Fatalf("balance = %d, want 500", balance.BalanceCents)
	}
}

func TestAdminRoutes_ListTransactionsAndAdjustmentsAlias(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(grantRequest{AmountCents: 1000, Reason: "promo credit"})
	req := httptest.NewRequest(http.MethodPost, "/admin/tenants/tenant-1/credits/grant", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("grant status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}

	for _, path := range []string{"/admin/tenants/tenant-1/credits/transactions", "/admin/tenants/tenant-1/credits/adjustments"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer admin-secret")
		rec := httptest.NewRecorder()
		s.NewRouter().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want 200, body=%s", path, rec.Code, rec.Body.String())
		}

		var got struct {
			Entries []domain.CreditTransaction `json:"entries"`
			Total   int                        `json:"total"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("%s decode: %v", path, err)
		}
		if got.Total != 1 || len(got.Entries) != 1 {
			t.Fatalf("%s unexpected response: %+v", path, got)
		}
	}
}

func TestAdminRoutes_InvalidJSONBody(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/tenants/tenant-1/credits/grant", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}

	var got struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Error != "Invalid JSON body" {
		t.Fatalf("error = %q, want %q", got.Error, "Invalid JSON body")
	}
}

func TestAdminRoutes_RefundInsufficientBalance(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(refundRequest{AmountCents: 500, Reason: "oops"})
	req := httptest.NewRequest(http.MethodPost, "/admin/tenants/tenant-1/credits/refund", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}

	var got struct {
		Error          string `json:"error"`
		CurrentBalance int64  `json:"current_balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Error == "" || got.CurrentBalance != 0 {
		t.Fatalf("unexpected error body: %+v", got)
	}
}

func TestAdminRoutes_RegistrationTokenLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(createTokenRequest{UserID: "user-1", Label: "laptop"})
	req := httptest.NewRequest(http.MethodPost, "/admin/registration/tokens", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create token status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/registration/tokens?user_id=user-1", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec = httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list tokens status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var tokens []domain.RegistrationToken
	if err := json.Unmarshal(rec.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tokens) != 1 || tokens[0].UserID != "user-1" {
		t.Fatalf("unexpected tokens response: %+v", tokens)
	}
}

func TestHandleNodeWS_RejectsBadSecret(t *testing.T) {
	s, store := newTestServer(t)
	node := domain.Node{ID: "node-1", Host: "10.0.0.1", CapacityMb: 4096, Status: domain.NodeActive,
		NodeSecretHash: registration.HashSecret("right-secret")}
	if _, err := store.CreateNode(newCtx(), node); err != nil {
		t.Fatalf("create node: %v", err)
	}

	srv := httptest.NewServer(s.NewRouter())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/internal/nodes/node-1/ws"
	headers := http.Header{"Authorization": {"Bearer wrong-secret"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, headers)
	if err == nil {
		t.Fatal("expected dial failure for bad secret")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("status = %d, want 401", status)
	}
}

func TestHandleNodeWS_HeartbeatUpdatesNode(t *testing.T) {
	s, store := newTestServer(t)
	node := domain.Node{ID: "node-1", Host: "10.0.0.1", CapacityMb: 4096, Status: domain.NodeActive,
		NodeSecretHash: registration.HashSecret("right-secret")}
	if _, err := store.CreateNode(newCtx(), node); err != nil {
		t.Fatalf("create node: %v", err)
	}

	srv := httptest.NewServer(s.NewRouter())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/internal/nodes/node-1/ws"
	headers := http.Header{"Authorization": {"Bearer right-secret"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, headers)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frame := map[string]interface{}{
		"type":            "heartbeat",
		"node_id":         "node-1",
		"uptime_s":        120,
		"memory_total_mb": 4096,
		"memory_used_mb":  256,
		"disk_total_gb":   100,
		"disk_used_gb":    10,
		"containers": []map[string]interface{}{
			{"name": "bot-1", "status": "running", "memory_mb": 256, "uptime_s": 120},
		},
	}
	data, _ := json.Marshal(frame)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := store.GetNode(newCtx(), "node-1")
		if err != nil {
			t.Fatalf("get node: %v", err)
		}
		if n.UsedMb == 256 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("heartbeat did not update node usage in time")
}
