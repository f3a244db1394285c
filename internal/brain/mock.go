package brain

import (
	"context"
	"strings"
)

// MockAdapter is a local fallback used when no brain endpoint is configured.
// It inspects the system instruction to decide which schema the caller
// expects and answers with a minimal well-formed document, so the rest of
// the pipeline stays exercisable without a model.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Complete(_ context.Context, req Request) (Response, error) {
	system := ""
	user := ""
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "user":
			user = m.Content
		}
	}

	switch {
	case strings.Contains(system, `"intentType"`):
		return Response{Content: mockClassification(user)}, nil
	case strings.Contains(system, `"taskOperation"`):
		return Response{Content: `{
			"operation": "query",
			"intent": "simulated task query",
			"confidence": 0.7,
			"needsConfirmation": false,
			"confirmationType": "none",
			"messages": [{"text": "Đây là kết quả mô phỏng.", "facialExpression": "smile", "animation": "Talking_0"}],
			"taskOperation": {"operation": "query", "queryFilters": {"status": "all", "timeRange": "all"}}
		}`}, nil
	default:
		return Response{Content: `{
			"mode": "conversation",
			"intent": "simulated chat",
			"confidence": 0.8,
			"messages": [{"text": "Mình đang chạy ở chế độ mô phỏng, nhưng vẫn nghe bạn đây!", "facialExpression": "smile", "animation": "Talking_1"}],
			"taskAction": {"action": "none"},
			"schedulingAction": {"type": "none", "action": "none"}
		}`}, nil
	}
}

func mockClassification(user string) string {
	lower := strings.ToLower(user)
	intent := "conversation"
	action := "chat"
	switch {
	case strings.Contains(lower, "xóa") || strings.Contains(lower, "delete"):
		intent, action = "task_delete", "delete"
	case strings.Contains(lower, "xem") || strings.Contains(lower, "danh sách"):
		intent, action = "task_query", "query"
	case strings.Contains(lower, "nhắc") || strings.Contains(lower, "tạo task"):
		intent, action = "simple_task", "create"
	}
	return `{"intentType": "` + intent + `", "confidence": 0.9, "action": "` + action + `", "taskIdentifier": null, "reasoning": "mock"}`
}
