package persist

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/khoanguyen-dev/mai/internal/protocol"
)

func TestProcessConversationPayloadShape(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/process-conversation" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if r.Header.Get("X-Source") != "mai-server" {
			t.Fatalf("X-Source = %q", r.Header.Get("X-Source"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	err := c.ProcessConversation(context.Background(), ConversationRecord{
		ParsedResponse: protocol.ConversationResult{Mode: "simple_task"},
		UserInput:      "nhắc tôi gọi khách",
		UserID:         "u1",
		SessionID:      "s1",
	})
	if err != nil {
		t.Fatalf("ProcessConversation() error = %v", err)
	}

	for _, key := range []string{"parsed_response", "user_input", "user_id", "session_id", "timestamp", "source"} {
		if _, ok := got[key]; !ok {
			t.Fatalf("payload missing %q: %v", key, got)
		}
	}
	if got["source"] != "mai-server" {
		t.Fatalf("source = %v", got["source"])
	}
}

func TestListTasksBuildsServerSideFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tasks-user/u1" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("status") != "pending" || q.Get("priority") != "high" || q.Get("due_date") == "" {
			t.Fatalf("unexpected query: %v", q)
		}
		if q.Get("category") != "" {
			t.Fatalf("category=all must not be forwarded, got %q", q.Get("category"))
		}
		_ = json.NewEncoder(w).Encode([]Task{{ID: "t1", Title: "call", Status: "pending"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	tasks, err := c.ListTasks(context.Background(), "u1", ListFilters{
		Status:   "pending",
		Priority: "high",
		Category: "all",
		DueDate:  "2026-09-01",
	})
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Fatalf("tasks = %+v", tasks)
	}
}

func TestNon2xxBecomesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	err := c.DeleteTask(context.Background(), "t1")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.Code != http.StatusBadGateway {
		t.Fatalf("Code = %d, want 502", se.Code)
	}
}

func TestUpdateTaskSendsSingleCall(t *testing.T) {
	calls := 0
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodPut || r.URL.Path != "/api/v1/tasks/t9" {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(Task{ID: "t9"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if _, err := c.UpdateTask(context.Background(), "t9", map[string]any{"dueDate": "2026-09-02", "dueTime": "14:00"}); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if body["dueDate"] != "2026-09-02" || body["dueTime"] != "14:00" {
		t.Fatalf("body = %v", body)
	}
}
