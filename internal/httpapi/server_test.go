package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/khoanguyen-dev/mai/internal/config"
	"github.com/khoanguyen-dev/mai/internal/convlog"
	"github.com/khoanguyen-dev/mai/internal/orchestrator"
	"github.com/khoanguyen-dev/mai/internal/protocol"
	"github.com/khoanguyen-dev/mai/internal/syncqueue"
)

type stubEngine struct {
	lastReq orchestrator.ChatRequest
	kicked  bool
	turns   []convlog.Turn
}

func (s *stubEngine) HandleChat(_ context.Context, req orchestrator.ChatRequest) (orchestrator.ChatResponse, error) {
	s.lastReq = req
	return orchestrator.ChatResponse{
		Messages: []protocol.Message{{Text: "Chào bạn!", FacialExpression: "smile", Animation: "Talking_1"}},
		Metadata: &orchestrator.Metadata{Mode: "conversation", SessionID: req.SessionID, Processing: "background_job_queued"},
	}, nil
}

func (s *stubEngine) JobStatus() syncqueue.Status { return syncqueue.Status{QueueSize: 2} }
func (s *stubEngine) KickJobs()                   { s.kicked = true }
func (s *stubEngine) RecentTurns(_ context.Context, userID string, limit int) ([]convlog.Turn, error) {
	return s.turns, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *stubEngine) {
	t.Helper()
	engine := &stubEngine{}
	srv := New(config.Config{AllowAnyOrigin: true}, engine, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, engine
}

func TestChatEndpoint(t *testing.T) {
	ts, engine := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"message":     "Chào bạn",
		"sessionId":   "s1",
		"userId":      "u1",
		"userContext": map[string]string{"device": "web", "locale": "vi-VN"},
	})
	res, err := http.Post(ts.URL+"/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/chat error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var payload orchestrator.ChatResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Messages) != 1 || payload.Messages[0].Text != "Chào bạn!" {
		t.Fatalf("unexpected messages: %+v", payload.Messages)
	}
	if engine.lastReq.UserID != "u1" || engine.lastReq.SessionID != "s1" {
		t.Fatalf("request not forwarded: %+v", engine.lastReq)
	}
	var uc map[string]string
	if err := json.Unmarshal(engine.lastReq.UserContext, &uc); err != nil {
		t.Fatalf("userContext did not round-trip: %v", err)
	}
	if uc["device"] != "web" || uc["locale"] != "vi-VN" {
		t.Fatalf("userContext = %+v", uc)
	}
}

func TestChatEndpointAcceptsEmptyBody(t *testing.T) {
	ts, engine := newTestServer(t)

	res, err := http.Post(ts.URL+"/v1/chat", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("POST /v1/chat error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if engine.lastReq.Message != "" {
		t.Fatalf("empty body must produce an empty message, got %q", engine.lastReq.Message)
	}
}

func TestJobsEndpoints(t *testing.T) {
	ts, engine := newTestServer(t)

	res, err := http.Get(ts.URL + "/v1/jobs/status")
	if err != nil {
		t.Fatalf("GET /v1/jobs/status error = %v", err)
	}
	defer res.Body.Close()
	var status syncqueue.Status
	if err := json.NewDecoder(res.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.QueueSize != 2 {
		t.Fatalf("queueSize = %d, want 2", status.QueueSize)
	}

	procRes, err := http.Post(ts.URL+"/v1/jobs/process", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("POST /v1/jobs/process error = %v", err)
	}
	defer procRes.Body.Close()
	if procRes.StatusCode != http.StatusOK {
		t.Fatalf("process status = %d, want %d", procRes.StatusCode, http.StatusOK)
	}
	if !engine.kicked {
		t.Fatalf("manual processing must kick the queue")
	}
}

func TestHistoryRequiresUserID(t *testing.T) {
	ts, _ := newTestServer(t)

	res, err := http.Get(ts.URL + "/v1/history")
	if err != nil {
		t.Fatalf("GET /v1/history error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestHistoryReturnsTurns(t *testing.T) {
	ts, engine := newTestServer(t)
	engine.turns = []convlog.Turn{{UserID: "u1", UserInput: "Chào bạn", Route: "conversation"}}

	res, err := http.Get(ts.URL + "/v1/history?user_id=u1&limit=5")
	if err != nil {
		t.Fatalf("GET /v1/history error = %v", err)
	}
	defer res.Body.Close()

	var payload struct {
		UserID string         `json:"user_id"`
		Turns  []convlog.Turn `json:"turns"`
		Count  int            `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if payload.Count != 1 || payload.Turns[0].UserInput != "Chào bạn" {
		t.Fatalf("unexpected history: %+v", payload)
	}
}

func TestChatWebsocketRoundTrip(t *testing.T) {
	ts, engine := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws?session_id=s9&user_id=u9"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "user_message", "text": "Chào bạn"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out struct {
		Type     string             `json:"type"`
		Messages []protocol.Message `json:"messages"`
	}
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Type != "chat_response" || len(out.Messages) != 1 {
		t.Fatalf("unexpected frame: %+v", out)
	}
	if engine.lastReq.SessionID != "s9" || engine.lastReq.UserID != "u9" {
		t.Fatalf("query identity not applied: %+v", engine.lastReq)
	}

	// A malformed frame gets an error reply, not a dropped connection.
	if err := conn.WriteJSON(map[string]string{"type": "bogus"}); err != nil {
		t.Fatalf("write bogus: %v", err)
	}
	var errFrame struct {
		Type string `json:"type"`
		Code string `json:"code"`
	}
	if err := conn.ReadJSON(&errFrame); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if errFrame.Type != "error" || errFrame.Code != "invalid_client_message" {
		t.Fatalf("unexpected error frame: %+v", errFrame)
	}
}
