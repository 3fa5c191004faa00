package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/marketpulse/chathub/internal/broker"
	"github.com/marketpulse/chathub/internal/middleware"
	"github.com/marketpulse/chathub/internal/models"
	"github.com/marketpulse/chathub/internal/registry"
	"github.com/marketpulse/chathub/internal/store"
	"github.com/marketpulse/chathub/internal/transport"
)

func newWSTestServer(t *testing.T) (*httptest.Server, *registry.Registry, *broker.Broker) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	reg := registry.New("http://localhost:8082", logger)
	b := broker.New(store.NewMemStore(), transport.NewNoop(), logger, broker.Options{
		SnapshotKey: "test:snapshot",
	})
	wsHandler := NewWSHandler(b, reg, logger)

	srv := gin.New()
	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(testSecret))
	v1.GET("/ws", wsHandler.Serve)

	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		b.Close()
	})
	return ts, reg, b
}

// dialWS connects like a browser would: token in the query string, since
// websocket upgrades cannot carry an Authorization header.
func dialWS(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) serverEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev serverEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func writeIntent(t *testing.T, conn *websocket.Conn, intent clientIntent) {
	t.Helper()
	if err := conn.WriteJSON(intent); err != nil {
		t.Fatalf("write intent %+v: %v", intent, err)
	}
}

func TestWSJoinSendRoundTrip(t *testing.T) {
	ts, reg, b := newWSTestServer(t)
	conn := dialWS(t, ts, testToken(t))

	writeIntent(t, conn, clientIntent{Action: "join", RoomID: "r-linked"})

	ev := readEvent(t, conn)
	if ev.Type != "joined" || ev.RoomID != "r-linked" {
		t.Fatalf("first event = %+v; want joined r-linked", ev)
	}
	if ev.Participant == nil || ev.Participant.ID != "u1" {
		t.Fatalf("joined participant = %+v; want u1", ev.Participant)
	}

	ev = readEvent(t, conn)
	if ev.Type != "history" || ev.RoomID != "r-linked" {
		t.Fatalf("second event = %+v; want history r-linked", ev)
	}
	if len(ev.Messages) != 0 {
		t.Fatalf("history for a fresh room has %d messages; want 0", len(ev.Messages))
	}

	// Joining by direct link materialized a placeholder room.
	room := reg.GetByID("r-linked")
	if room == nil {
		t.Fatal("joined room not materialized in the registry")
	}
	if room.CreatedByID != models.SystemCreatorID {
		t.Fatalf("placeholder creator = %q; want system", room.CreatedByID)
	}

	writeIntent(t, conn, clientIntent{Action: "send", Content: "hello out there"})

	ev = readEvent(t, conn)
	if ev.Type != "message" || ev.Message == nil {
		t.Fatalf("event after send = %+v; want message", ev)
	}
	if ev.Message.Content != "hello out there" || ev.Message.AuthorID != "u1" {
		t.Fatalf("message = %+v; want hello from u1", ev.Message)
	}

	if got := b.Messages("r-linked"); len(got) != 1 {
		t.Fatalf("broker log length = %d; want 1", len(got))
	}
}

func TestWSHistoryReplaysExistingLog(t *testing.T) {
	ts, _, b := newWSTestServer(t)

	b.Send(context.Background(), "r1", models.Message{
		Content: "before you arrived", AuthorID: "u9", AuthorName: "Grace",
	})

	conn := dialWS(t, ts, testToken(t))
	writeIntent(t, conn, clientIntent{Action: "join", RoomID: "r1"})

	if ev := readEvent(t, conn); ev.Type != "joined" {
		t.Fatalf("first event = %+v; want joined", ev)
	}
	ev := readEvent(t, conn)
	if ev.Type != "history" || len(ev.Messages) != 1 {
		t.Fatalf("history = %+v; want the one earlier message", ev)
	}
	if ev.Messages[0].Content != "before you arrived" {
		t.Fatalf("history[0] = %+v; want the earlier message", ev.Messages[0])
	}
}

func TestWSSendWithoutRoomYieldsError(t *testing.T) {
	ts, _, b := newWSTestServer(t)
	conn := dialWS(t, ts, testToken(t))

	writeIntent(t, conn, clientIntent{Action: "send", Content: "into the void"})

	ev := readEvent(t, conn)
	if ev.Type != "error" || ev.Error != "no active room" {
		t.Fatalf("event = %+v; want 'no active room' error", ev)
	}
	if got := b.Messages(""); len(got) != 0 {
		t.Fatalf("broker accepted a roomless message: %+v", got)
	}
}

func TestWSLeaveThenSendYieldsError(t *testing.T) {
	ts, _, _ := newWSTestServer(t)
	conn := dialWS(t, ts, testToken(t))

	writeIntent(t, conn, clientIntent{Action: "join", RoomID: "r1"})
	readEvent(t, conn) // joined
	readEvent(t, conn) // history

	writeIntent(t, conn, clientIntent{Action: "leave"})
	writeIntent(t, conn, clientIntent{Action: "send", Content: "too late"})

	// The leave itself produces a "left" event before the error lands.
	ev := readEvent(t, conn)
	if ev.Type != "left" || ev.ParticipantID != "u1" {
		t.Fatalf("event after leave = %+v; want left u1", ev)
	}
	ev = readEvent(t, conn)
	if ev.Type != "error" || ev.Error != "no active room" {
		t.Fatalf("event = %+v; want 'no active room' error", ev)
	}
}

func TestWSMalformedAndUnknownIntents(t *testing.T) {
	ts, _, _ := newWSTestServer(t)
	conn := dialWS(t, ts, testToken(t))

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != "error" || ev.Error != "malformed intent" {
		t.Fatalf("event = %+v; want 'malformed intent' error", ev)
	}

	writeIntent(t, conn, clientIntent{Action: "dance"})
	if ev := readEvent(t, conn); ev.Type != "error" || ev.Error != "unknown action" {
		t.Fatalf("event = %+v; want 'unknown action' error", ev)
	}

	writeIntent(t, conn, clientIntent{Action: "join"})
	if ev := readEvent(t, conn); ev.Type != "error" || ev.Error != "join requires room_id" {
		t.Fatalf("event = %+v; want 'join requires room_id' error", ev)
	}
}

func TestWSRejectsMissingToken(t *testing.T) {
	ts, _, _ := newWSTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.Close()
		t.Fatal("dial without token succeeded; want rejection")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("dial rejection status = %+v; want 401", resp)
	}
}
