package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/marketpulse/chathub/internal/auth"
	"github.com/marketpulse/chathub/internal/broker"
	"github.com/marketpulse/chathub/internal/middleware"
	"github.com/marketpulse/chathub/internal/models"
	"github.com/marketpulse/chathub/internal/registry"
	"github.com/marketpulse/chathub/internal/store"
	"github.com/marketpulse/chathub/internal/transport"
)

const testSecret = "test-secret"

func newTestRouter(t *testing.T) (*gin.Engine, *registry.Registry, *broker.Broker) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	reg := registry.New("http://localhost:8082", logger)
	b := broker.New(store.NewMemStore(), transport.NewNoop(), logger, broker.Options{})

	roomHandler := NewRoomHandler(reg, b, logger)
	tokenHandler := NewTokenHandler(testSecret, time.Hour, logger)

	srv := gin.New()
	srv.POST("/v1/session", tokenHandler.Create)
	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(testSecret))
	v1.POST("/rooms", roomHandler.Create)
	v1.GET("/rooms", roomHandler.List)
	v1.GET("/rooms/:id", roomHandler.GetByID)
	v1.DELETE("/rooms/:id", roomHandler.Deactivate)
	v1.GET("/rooms/:id/share", roomHandler.Share)
	v1.GET("/rooms/:id/messages", roomHandler.Messages)
	v1.POST("/reset", roomHandler.Reset)

	return srv, reg, b
}

func testToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateToken(models.Participant{ID: "u1", Name: "Ada"}, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

func doRequest(t *testing.T, srv *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestRoomLifecycleOverHTTP(t *testing.T) {
	srv, _, _ := newTestRouter(t)
	token := testToken(t)

	rec := doRequest(t, srv, http.MethodPost, "/v1/rooms", token,
		`{"name":"Earnings Chat","description":"quarterly numbers"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var room models.Room
	if err := json.Unmarshal(rec.Body.Bytes(), &room); err != nil {
		t.Fatalf("decode created room: %v", err)
	}
	if room.ID == "" || room.Name != "Earnings Chat" || !room.IsActive {
		t.Fatalf("created room = %+v", room)
	}
	if room.CreatedByID != "u1" {
		t.Fatalf("CreatedByID = %q; want the token's participant", room.CreatedByID)
	}

	rec = doRequest(t, srv, http.MethodGet, "/v1/rooms", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	var rooms []models.Room
	if err := json.Unmarshal(rec.Body.Bytes(), &rooms); err != nil {
		t.Fatalf("decode room list: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != room.ID {
		t.Fatalf("room list = %+v; want the created room", rooms)
	}

	rec = doRequest(t, srv, http.MethodGet, "/v1/rooms/"+room.ID+"/share", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("share: status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), room.ID) {
		t.Fatalf("share body missing room id: %s", rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodDelete, "/v1/rooms/"+room.ID, token, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("deactivate: status = %d", rec.Code)
	}

	// Hidden from the list, still resolvable by id.
	rec = doRequest(t, srv, http.MethodGet, "/v1/rooms", token, "")
	if body := rec.Body.String(); strings.Contains(body, room.ID) {
		t.Fatalf("deactivated room still listed: %s", body)
	}
	rec = doRequest(t, srv, http.MethodGet, "/v1/rooms/"+room.ID, token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get after deactivate: status = %d", rec.Code)
	}
}

func TestRoomEndpointsRequireToken(t *testing.T) {
	srv, _, _ := newTestRouter(t)

	rec := doRequest(t, srv, http.MethodGet, "/v1/rooms", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d without token; want 401", rec.Code)
	}
}

func TestUnknownRoomIs404(t *testing.T) {
	srv, _, _ := newTestRouter(t)
	token := testToken(t)

	rec := doRequest(t, srv, http.MethodGet, "/v1/rooms/nope", token, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d; want 404", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodDelete, "/v1/rooms/nope", token, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deactivate status = %d; want 404", rec.Code)
	}
}

func TestSessionIssuesUsableToken(t *testing.T) {
	srv, _, _ := newTestRouter(t)

	rec := doRequest(t, srv, http.MethodPost, "/v1/session", "", `{"name":"Grace"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("session: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token       string             `json:"token"`
		Participant models.Participant `json:"participant"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode session response: %v", err)
	}
	if resp.Token == "" || resp.Participant.ID == "" || resp.Participant.Name != "Grace" {
		t.Fatalf("session response = %+v", resp)
	}

	rec = doRequest(t, srv, http.MethodGet, "/v1/rooms", resp.Token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("issued token rejected: status = %d", rec.Code)
	}
}

func TestResetClearsEverything(t *testing.T) {
	srv, reg, b := newTestRouter(t)
	token := testToken(t)

	room := reg.Create("u1", "doomed", "")
	b.Send(context.Background(), room.ID, models.Message{Content: "bye", AuthorID: "u1"})

	rec := doRequest(t, srv, http.MethodPost, "/v1/reset", token, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reset: status = %d", rec.Code)
	}
	if reg.GetByID(room.ID) != nil {
		t.Fatal("room survived reset")
	}
	if got := len(b.Messages(room.ID)); got != 0 {
		t.Fatalf("messages survived reset: %d", got)
	}
}
