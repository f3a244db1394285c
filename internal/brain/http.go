package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAdapter forwards requests to a chat-completions compatible HTTP
// endpoint.
type HTTPAdapter struct {
	url    string
	model  string
	client *http.Client
}

func NewHTTPAdapter(url, model string) *HTTPAdapter {
	return &HTTPAdapter{
		url:   strings.TrimSpace(url),
		model: model,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// SetTimeout bounds every model call. A timeout surfaces as an ordinary
// error; retry policy lives with the caller.
func (a *HTTPAdapter) SetTimeout(d time.Duration) {
	if d > 0 {
		a.client.Timeout = d
	}
}

func (a *HTTPAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	body := map[string]any{
		"model":    a.model,
		"messages": req.Messages,
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.ForceJSON {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, fmt.Errorf("brain http status %d: %s", res.StatusCode, string(detail))
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		text := strings.TrimSpace(string(raw))
		if text == "" {
			return Response{}, fmt.Errorf("empty brain response")
		}
		return Response{Content: text}, nil
	}

	text := extractContent(obj)
	if text == "" {
		return Response{}, fmt.Errorf("brain response carried no content")
	}
	return Response{Content: text}, nil
}

func extractContent(obj map[string]any) string {
	// Chat-completions shape first: choices[0].message.content.
	if choices, ok := obj["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if msg, ok := choice["message"].(map[string]any); ok {
				if s, ok := msg["content"].(string); ok {
					return s
				}
			}
			if s, ok := choice["text"].(string); ok {
				return s
			}
		}
	}
	for _, k := range []string{"content", "text", "output", "message"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return ""
}
