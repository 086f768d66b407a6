package commandbus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialPair spins up a test WS server that echoes nothing and returns a
// client-side *websocket.Conn the Bus can write to, plus a way to read what
// it sent and push a result frame back.
func dialPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	serverConnCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConnCh <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-serverConnCh
	t.Cleanup(func() { serverConn.Close() })
	return clientConn, serverConn
}

func TestSend_RejectsUnknownCommandType(t *testing.T) {
	bus := New(NewRegistry(), nil)
	_, err := bus.Send(context.Background(), "node-1", "not.a.real.command", nil, 0)
	if err == nil {
		t.Fatal("expected error for disallowed command type")
	}
}

func TestSend_NoConnection(t *testing.T) {
	bus := New(NewRegistry(), nil)
	_, err := bus.Send(context.Background(), "node-1", CommandBotStart, nil, 0)
	if err == nil {
		t.Fatal("expected ConnectionUnavailable")
	}
}

func TestSend_SuccessRoundTrip(t *testing.T) {
	clientSide, serverSide := dialPair(t)
	registry := NewRegistry()
	registry.Set("node-1", clientSide)
	bus := New(registry, nil)

	go func() {
		_, raw, err := serverSide.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return
		}
		result := Result{ID: cmd.ID, Type: "command_result", Command: string(cmd.Type), Success: true, Data: json.RawMessage(`{"ok":true}`)}
		go func() { bus.HandleResult(result) }()
	}()

	data, err := bus.Send(context.Background(), "node-1", CommandBotStart, map[string]string{"name": "b1"}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("data = %s", data)
	}
}

func TestSend_Timeout(t *testing.T) {
	clientSide, _ := dialPair(t)
	registry := NewRegistry()
	registry.Set("node-1", clientSide)
	bus := New(registry, nil)

	_, err := bus.Send(context.Background(), "node-1", CommandBotStop, nil, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestSend_FailureResult(t *testing.T) {
	clientSide, serverSide := dialPair(t)
	registry := NewRegistry()
	registry.Set("node-1", clientSide)
	bus := New(registry, nil)

	go func() {
		_, raw, err := serverSide.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		_ = json.Unmarshal(raw, &cmd)
		bus.HandleResult(Result{ID: cmd.ID, Success: false, Error: "container missing"})
	}()

	_, err := bus.Send(context.Background(), "node-1", CommandBotRemove, nil, time.Second)
	if err == nil {
		t.Fatal("expected failure error")
	}
}
