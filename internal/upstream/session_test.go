package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsecast/relay/internal/event"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn, *http.Request)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func sendFrame(t *testing.T, conn *websocket.Conn, ev string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal frame data: %v", err)
	}
	if err := conn.WriteJSON(frame{Event: ev, Data: payload}); err != nil {
		t.Logf("write frame: %v", err)
	}
}

func sendHello(t *testing.T, conn *websocket.Conn, room string) {
	t.Helper()
	sendFrame(t, conn, "hello", map[string]any{
		"roomId":              room,
		"upgradedToWebsocket": true,
	})
}

func testConfig(server *httptest.Server) SessionConfig {
	return SessionConfig{
		WSURL:            wsURL(server),
		Target:           "@creator",
		HandshakeTimeout: 2 * time.Second,
		WriteTimeout:     time.Second,
		PingTimeout:      30 * time.Second,
		BufferSize:       16,
	}
}

func waitEvent(t *testing.T, s Session) event.Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return event.Event{}
	}
}

func TestSession_Connect(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		sendHello(t, conn, "room-7")
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	s := NewSession(testConfig(server), nil)

	state, err := s.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if state.RoomID != "room-7" {
		t.Errorf("RoomID = %q, want room-7", state.RoomID)
	}
	if !state.UpgradedToWebsocket {
		t.Error("UpgradedToWebsocket = false, want true")
	}

	st, ok := s.State()
	if !ok || !st.IsConnected {
		t.Errorf("State() = %+v, %v, want connected", st, ok)
	}

	if err := s.Disconnect(); err != nil {
		t.Errorf("Disconnect failed: %v", err)
	}
	if st, _ := s.State(); st.IsConnected {
		t.Error("still connected after Disconnect")
	}
}

func TestSession_ConnectSendsTargetQuery(t *testing.T) {
	var gotTarget string
	var mu sync.Mutex

	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		mu.Lock()
		gotTarget = r.URL.Query().Get("target")
		mu.Unlock()
		sendHello(t, conn, "room-7")
	})
	defer server.Close()

	s := NewSession(testConfig(server), nil)
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	if gotTarget != "@creator" {
		t.Errorf("target query = %q, want @creator", gotTarget)
	}
}

func TestSession_RejectsWrongHello(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		sendFrame(t, conn, "chat", map[string]any{"comment": "hi"})
	})
	defer server.Close()

	s := NewSession(testConfig(server), nil)
	if _, err := s.Connect(context.Background()); err == nil {
		t.Fatal("Connect succeeded without hello frame")
	}
}

func TestSession_ForwardsContentEvents(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		sendHello(t, conn, "room-7")
		sendFrame(t, conn, "chat", map[string]any{"comment": "hello"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	s := NewSession(testConfig(server), nil)
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	ev := waitEvent(t, s)
	if ev.Kind != event.KindChat {
		t.Errorf("Kind = %q, want chat", ev.Kind)
	}
	if ev.Room != "room-7" {
		t.Errorf("Room = %q, want room-7", ev.Room)
	}
	var payload struct {
		Comment string `json:"comment"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.Comment != "hello" {
		t.Errorf("Payload = %s, want comment hello", ev.Payload)
	}
}

func TestSession_SkipsUnknownEvents(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		sendHello(t, conn, "room-7")
		sendFrame(t, conn, "debugProbe", map[string]any{"x": 1})
		sendFrame(t, conn, "like", map[string]any{"likeCount": 3})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	s := NewSession(testConfig(server), nil)
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	ev := waitEvent(t, s)
	if ev.Kind != event.KindLike {
		t.Errorf("Kind = %q, want like (unknown event not skipped)", ev.Kind)
	}
}

func TestSession_MalformedFrameSurfacesError(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		sendHello(t, conn, "room-7")
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		sendFrame(t, conn, "chat", map[string]any{"comment": "still here"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	s := NewSession(testConfig(server), nil)
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	select {
	case err := <-s.Errors():
		if err == nil {
			t.Error("nil error from Errors()")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame error")
	}

	// The connection survives a bad frame.
	ev := waitEvent(t, s)
	if ev.Kind != event.KindChat {
		t.Errorf("Kind = %q, want chat after malformed frame", ev.Kind)
	}
}

func TestSession_EmitsDisconnectedOnServerClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		sendHello(t, conn, "room-7")
		// Handler returns; the deferred close drops the connection.
	})
	defer server.Close()

	s := NewSession(testConfig(server), nil)
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ev := waitEvent(t, s)
	if ev.Kind != event.KindDisconnected {
		t.Errorf("Kind = %q, want disconnected", ev.Kind)
	}
	if st, _ := s.State(); st.IsConnected {
		t.Error("still connected after server close")
	}
}

func TestSession_StreamEndForwarded(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		sendHello(t, conn, "room-7")
		sendFrame(t, conn, "streamEnd", nil)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	s := NewSession(testConfig(server), nil)
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	ev := waitEvent(t, s)
	if ev.Kind != event.KindStreamEnd {
		t.Errorf("Kind = %q, want streamEnd", ev.Kind)
	}
}

func TestSession_DisconnectIsSilentAndIdempotent(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		sendHello(t, conn, "room-7")
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	s := NewSession(testConfig(server), nil)
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := s.Disconnect(); err != nil {
		t.Errorf("Disconnect failed: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Errorf("second Disconnect failed: %v", err)
	}

	// A local close emits no disconnected event.
	select {
	case ev := <-s.Events():
		t.Errorf("unexpected event after local close: %v", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSession_ConnectAfterDisconnectFails(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		sendHello(t, conn, "room-7")
	})
	defer server.Close()

	s := NewSession(testConfig(server), nil)
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	s.Disconnect()

	if _, err := s.Connect(context.Background()); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("Connect after Disconnect = %v, want ErrAlreadyClosed", err)
	}
}

func TestSession_ReconnectAfterDrop(t *testing.T) {
	var mu sync.Mutex
	drops := 0

	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		sendHello(t, conn, "room-7")
		mu.Lock()
		first := drops == 0
		drops++
		mu.Unlock()
		if first {
			return // drop the first connection immediately
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	s := NewSession(testConfig(server), nil)
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ev := waitEvent(t, s)
	if ev.Kind != event.KindDisconnected {
		t.Fatalf("Kind = %q, want disconnected", ev.Kind)
	}

	// The same session can be dialed again after a drop.
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	defer s.Disconnect()

	if st, _ := s.State(); !st.IsConnected {
		t.Error("not connected after reconnect")
	}
}

func TestSession_DisconnectedSurvivesFullBuffer(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		sendHello(t, conn, "room-7")
		sendFrame(t, conn, "chat", map[string]any{"comment": "one"})
		// Handler returns; the deferred close drops the connection while
		// the chat event still occupies the whole buffer.
	})
	defer server.Close()

	cfg := testConfig(server)
	cfg.BufferSize = 1
	s := NewSession(cfg, nil)
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Wait for the drop to land before draining anything, so the buffer is
	// known to be full at the moment the connection dies.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if st, _ := s.State(); !st.IsConnected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection did not drop")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ev := waitEvent(t, s)
	if ev.Kind != event.KindChat {
		t.Fatalf("first event = %q, want chat", ev.Kind)
	}
	ev = waitEvent(t, s)
	if ev.Kind != event.KindDisconnected {
		t.Errorf("second event = %q, want disconnected despite full buffer", ev.Kind)
	}
}

func TestSession_StaleConnectionSurfacesError(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		sendHello(t, conn, "room-7")
		// Swallow pings without ponging so the session goes stale.
		conn.SetPingHandler(func(string) error { return nil })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := testConfig(server)
	cfg.PingTimeout = 100 * time.Millisecond
	s := NewSession(cfg, nil)
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	select {
	case err := <-s.Errors():
		if !errors.Is(err, ErrStaleConnection) {
			t.Errorf("Errors() = %v, want ErrStaleConnection", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stale-connection error")
	}

	ev := waitEvent(t, s)
	if ev.Kind != event.KindDisconnected {
		t.Errorf("Kind = %q, want disconnected after staleness teardown", ev.Kind)
	}
}

func TestSession_DisconnectUnblocksPendingLifecycleEmit(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		sendHello(t, conn, "room-7")
		sendFrame(t, conn, "chat", map[string]any{"comment": "one"})
	})
	defer server.Close()

	cfg := testConfig(server)
	cfg.BufferSize = 1
	s := NewSession(cfg, nil)
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if st, _ := s.State(); !st.IsConnected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection did not drop")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The consumer leaves without ever draining; Disconnect must release
	// the read loop blocked on the lifecycle emit rather than leak it.
	if err := s.Disconnect(); err != nil {
		t.Errorf("Disconnect failed: %v", err)
	}
}
