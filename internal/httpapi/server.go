package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/khoanguyen-dev/mai/internal/config"
	"github.com/khoanguyen-dev/mai/internal/convlog"
	"github.com/khoanguyen-dev/mai/internal/observability"
	"github.com/khoanguyen-dev/mai/internal/orchestrator"
	"github.com/khoanguyen-dev/mai/internal/syncqueue"
)

// ChatEngine is the orchestrator surface the HTTP layer depends on.
type ChatEngine interface {
	HandleChat(ctx context.Context, req orchestrator.ChatRequest) (orchestrator.ChatResponse, error)
	JobStatus() syncqueue.Status
	KickJobs()
	RecentTurns(ctx context.Context, userID string, limit int) ([]convlog.Turn, error)
}

type Server struct {
	cfg      config.Config
	engine   ChatEngine
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, engine ChatEngine, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		engine:  engine,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up; other sites must not
				// be able to drive a user's assistant session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Get("/v1/jobs/status", s.handleJobStatus)
	r.Post("/v1/jobs/process", s.handleProcessJobs)
	r.Get("/v1/history", s.handleHistory)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status := s.engine.JobStatus()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"queue_size":     status.QueueSize,
		"job_processing": status.IsProcessing,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.ChatRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := s.engine.HandleChat(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "chat_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.JobStatus())
}

func (s *Server) handleProcessJobs(w http.ResponseWriter, _ *http.Request) {
	s.engine.KickJobs()
	status := s.engine.JobStatus()
	respondJSON(w, http.StatusOK, map[string]any{
		"message":   "Background job processing triggered",
		"queueSize": status.QueueSize,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "query parameter user_id is required")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	turns, err := s.engine.RecentTurns(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "turns": turns, "count": len(turns)})
}

type wsInbound struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type wsOutbound struct {
	Type string `json:"type"`
	orchestrator.ChatResponse
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// handleChatWS runs chat turns over a websocket. Each inbound user_message
// frame produces exactly one chat_response frame; writes stay on this
// goroutine so frames never interleave.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}

		var in wsInbound
		if err := json.Unmarshal(data, &in); err != nil || in.Type != "user_message" {
			s.writeWS(conn, wsOutbound{Type: "error", Code: "invalid_client_message", Detail: "expected a user_message frame"})
			continue
		}

		req := orchestrator.ChatRequest{Message: in.Text, SessionID: in.SessionID, UserID: in.UserID}
		if req.SessionID == "" {
			req.SessionID = sessionID
		}
		if req.UserID == "" {
			req.UserID = userID
		}

		resp, err := s.engine.HandleChat(r.Context(), req)
		if err != nil {
			s.writeWS(conn, wsOutbound{Type: "error", Code: "chat_failed", Detail: err.Error()})
			continue
		}
		if !s.writeWS(conn, wsOutbound{Type: "chat_response", ChatResponse: resp}) {
			return
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, v wsOutbound) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v) == nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
