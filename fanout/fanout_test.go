package fanout

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"paneforge/clock"
	"paneforge/events"
	"paneforge/panedriver"
	"paneforge/store"
	"paneforge/supervisor"
)

func newTestHub(t *testing.T) (*httptest.Server, *events.Bus, *supervisor.Supervisor) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(db)
	pane := panedriver.NewFake()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	sup := supervisor.New(context.Background(), st, pane, clk, bus, supervisor.Config{})

	hub := New(bus, sup, clk, Config{})
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return srv, bus, sup
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPingPong(t *testing.T) {
	srv, _, _ := newTestHub(t)
	conn := dial(t, srv)

	if err := conn.WriteJSON(ClientMessage{Type: "ping"}); err != nil {
		t.Fatalf("writing ping: %v", err)
	}

	var resp ServerMessage
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("reading pong: %v", err)
	}
	if resp.Type != "pong" {
		t.Fatalf("type = %s, want pong", resp.Type)
	}
}

func TestSubscribeReceivesReplayAndEvents(t *testing.T) {
	srv, bus, _ := newTestHub(t)
	conn := dial(t, srv)

	if err := conn.WriteJSON(ClientMessage{Type: "session:subscribe", SessionID: "sess-1"}); err != nil {
		t.Fatalf("writing subscribe: %v", err)
	}

	var subscribed ServerMessage
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&subscribed); err != nil {
		t.Fatalf("reading subscribed ack: %v", err)
	}
	if subscribed.Type != "subscribed" {
		t.Fatalf("type = %s, want subscribed", subscribed.Type)
	}

	bus.Publish(events.Event{Kind: events.KindSessionOutput, SessionID: "sess-1", Payload: events.SessionOutputPayload{Lines: []string{"hi"}}})

	var relayed ServerMessage
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&relayed); err != nil {
		t.Fatalf("reading relayed event: %v", err)
	}
	if relayed.Type != string(events.KindSessionOutput) {
		t.Fatalf("type = %s, want session.output", relayed.Type)
	}
}

func TestOversizeMessageClosesConnection(t *testing.T) {
	srv, _, _ := newTestHub(t)
	conn := dial(t, srv)

	huge := ClientMessage{Type: "session:input", SessionID: "sess-1", Text: strings.Repeat("x", 70_000)}
	data, err := json.Marshal(huge)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	conn.WriteMessage(websocket.TextMessage, data)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("expected connection to close on oversize message")
	}
}
