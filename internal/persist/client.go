package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/khoanguyen-dev/mai/internal/protocol"
)

// Task is the remote store's task document. The store serves snake_case
// fields on reads; updates use the camelCase vocabulary (see taskops).
type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority,omitempty"`
	Category    string   `json:"category,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	DueTime     string   `json:"due_time,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	CompletedAt string   `json:"completed_at,omitempty"`
}

// Profile is the optional personalization document.
type Profile struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Language string `json:"language,omitempty"`
}

// ConversationRecord is the payload delivered to the store's conversation
// processing endpoint.
type ConversationRecord struct {
	ParsedResponse protocol.ConversationResult `json:"parsed_response"`
	UserInput      string                      `json:"user_input"`
	UserID         string                      `json:"user_id"`
	SessionID      string                      `json:"session_id"`
	Timestamp      time.Time                   `json:"timestamp"`
	Source         string                      `json:"source"`
}

// ListFilters are the filter shapes the store supports server-side.
// Anything else (overdue, this_week) is the executor's problem.
type ListFilters struct {
	Status   string
	Priority string
	Category string
	DueDate  string
	Limit    int
}

// StatusError is a non-2xx reply from the store.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("task store status %d: %s", e.Code, e.Body)
}

// Client talks to the remote task-persistence service. Every call carries
// a bounded timeout via the underlying http.Client.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// ProcessConversation forwards a conversation outcome for durable storage.
func (c *Client) ProcessConversation(ctx context.Context, rec ConversationRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Source == "" {
		rec.Source = "mai-server"
	}
	return c.do(ctx, http.MethodPost, "/api/v1/process-conversation", rec, nil)
}

// ListTasks fetches a user's tasks with any server-side filters applied.
func (c *Client) ListTasks(ctx context.Context, userID string, f ListFilters) ([]Task, error) {
	q := url.Values{}
	if f.Status != "" && f.Status != "all" {
		q.Set("status", f.Status)
	}
	if f.Priority != "" && f.Priority != "all" {
		q.Set("priority", f.Priority)
	}
	if f.Category != "" && f.Category != "all" {
		q.Set("category", f.Category)
	}
	if f.DueDate != "" {
		q.Set("due_date", f.DueDate)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}

	path := "/api/v1/tasks-user/" + url.PathEscape(userID)
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var tasks []Task
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTask sends a partial update. Fields must already use the store's
// camelCase vocabulary.
func (c *Client) UpdateTask(ctx context.Context, taskID string, fields map[string]any) (Task, error) {
	var updated Task
	err := c.do(ctx, http.MethodPut, "/api/v1/tasks/"+url.PathEscape(taskID), fields, &updated)
	return updated, err
}

// CompleteTask marks a task completed; the store stamps the completion
// time server-side.
func (c *Client) CompleteTask(ctx context.Context, taskID string) (Task, error) {
	var updated Task
	err := c.do(ctx, http.MethodPut, "/api/v1/tasks/"+url.PathEscape(taskID)+"/complete", map[string]any{}, &updated)
	return updated, err
}

func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/tasks/"+url.PathEscape(taskID), nil, nil)
}

// GetProfile fetches optional personalization data. Callers treat failures
// as an empty profile.
func (c *Client) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := c.do(ctx, http.MethodGet, "/api/v1/profile/"+url.PathEscape(userID), nil, &p)
	return p, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Source", "mai-server")

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(detail))}
	}

	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
