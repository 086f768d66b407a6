package orchestrator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/botfleet/coordinator/internal/commandbus"
)

// dialNode spins up a test WS server and registers its client side into
// registry under nodeID, returning the server-side conn for the test to
// drive responses from.
func dialNode(t *testing.T, registry *commandbus.Registry, nodeID string) *websocket.Conn {
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

	registry.Set(nodeID, clientConn)
	serverConn := <-serverConnCh
	t.Cleanup(func() { serverConn.Close() })
	return serverConn
}

// autoRespond drives serverConn, replying success (or the named failure) to
// every command frame it receives, until the connection closes.
func autoRespond(bus *commandbus.Bus, serverConn *websocket.Conn, failOnCommand commandbus.CommandType, failureMsg string) {
	go func() {
		for {
			_, raw, err := serverConn.ReadMessage()
			if err != nil {
				return
			}
			var cmd commandbus.Command
			if err := json.Unmarshal(raw, &cmd); err != nil {
				continue
			}
			if cmd.Type == failOnCommand {
				bus.HandleResult(commandbus.Result{ID: cmd.ID, Success: false, Error: failureMsg})
				continue
			}
			bus.HandleResult(commandbus.Result{ID: cmd.ID, Success: true, Data: json.RawMessage(`{}`)})
		}
	}()
}
