package intent

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/khoanguyen-dev/mai/internal/brain"
)

// Classification is the structured verdict for a single utterance.
type Classification struct {
	IntentType     string  `json:"intentType"`
	Confidence     float64 `json:"confidence"`
	Action         string  `json:"action"`
	TaskIdentifier string  `json:"taskIdentifier,omitempty"`
	Reasoning      string  `json:"reasoning,omitempty"`
}

const classifierPrompt = `Bạn là một AI classifier chuyên phân tích intent của user trong hệ thống quản lý task.

Hãy phân tích và trả về JSON với format sau:

{
  "intentType": "conversation|simple_task|scheduling|task_query|task_update|task_delete|task_stats|task_priority|task_reminder",
  "confidence": 0.0-1.0,
  "action": "create|update|delete|query|stats|chat|prioritize|remind",
  "taskIdentifier": "task_title_or_keyword_or_null",
  "reasoning": "explanation_of_classification"
}

CLASSIFICATION RULES:

1. **conversation**: chào hỏi, chia sẻ cảm xúc, câu hỏi chung.
   VD: "Chào bạn", "Hôm nay tôi thế nào", "Cảm ơn bạn"

2. **simple_task**: tạo task đơn giản, reminder.
   VD: "Nhắc tôi gọi khách hàng", "Tạo task mua sữa", "Thêm việc họp team"

3. **scheduling**: sắp xếp nhiều task, lên lịch phức tạp.
   VD: "Sắp xếp lịch hôm nay", "Plan cho tuần này", "Lên schedule meeting"

4. **task_query**: truy vấn, tìm kiếm, xem task.
   VD: "Task hôm nay có gì", "Cho tôi xem task pending", "Danh sách công việc"

5. **task_update**: cập nhật task cụ thể (status, thông tin).
   VD: "Đánh dấu task X completed", "Hoàn thành việc mua sữa"

6. **task_delete**: xóa task cụ thể.
   VD: "Xóa task mua sữa", "Delete task meeting", "Bỏ việc gọi khách hàng"

7. **task_stats**: thống kê, báo cáo task.
   VD: "Thống kê task tuần này", "Báo cáo công việc", "Progress hôm nay"

8. **task_priority**: thay đổi độ ưu tiên task.
   VD: "Task gọi khách hàng ưu tiên cao", "Đặt task X làm urgent"

9. **task_reminder**: thiết lập reminder cho task.
   VD: "Nhắc tôi 30 phút trước meeting", "Set reminder cho task X"

CONFIRMATION CONTINUITY (quan trọng):
- Nếu recent history cho thấy assistant vừa hỏi một câu clarifying và input
  của user là câu trả lời khẳng định/bổ sung ("có", "ok", "2 giờ chiều"...)
  thì GIỮ NGUYÊN intent category gốc của request trước đó, KHÔNG phân loại
  lại thành conversation chỉ vì text xác nhận quá ngắn.

Chú ý:
- Nếu có nhắc đến tên task cụ thể -> taskIdentifier
- Confidence cao khi intent rõ ràng
- Ưu tiên task operations nếu có keyword liên quan task
- Nếu không chắc chắn, default về conversation với confidence thấp`

// Classifier turns an utterance into a Classification via the language
// model, with a small window of recent history for confirmation
// continuity.
type Classifier struct {
	adapter brain.Adapter
}

func NewClassifier(adapter brain.Adapter) *Classifier {
	return &Classifier{adapter: adapter}
}

// fallback is the fail-open default: model failures and malformed output
// degrade to a low-confidence conversation verdict instead of an error.
func fallback() Classification {
	return Classification{
		IntentType: "conversation",
		Confidence: 0.5,
		Action:     "chat",
		Reasoning:  "classification failed, defaulting to conversation",
	}
}

// Classify never returns an error; see fallback.
func (c *Classifier) Classify(ctx context.Context, utterance string, recent []brain.ChatMessage) Classification {
	messages := []brain.ChatMessage{{Role: "system", Content: classifierPrompt}}
	if n := len(recent); n > 0 {
		window := recent
		if n > 6 {
			window = recent[n-6:]
		}
		var b strings.Builder
		b.WriteString("RECENT HISTORY:\n")
		for _, m := range window {
			if m.Role == "system" {
				continue
			}
			b.WriteString(m.Role)
			b.WriteString(": ")
			b.WriteString(truncate(m.Content, 200))
			b.WriteString("\n")
		}
		messages = append(messages, brain.ChatMessage{Role: "system", Content: b.String()})
	}
	messages = append(messages, brain.ChatMessage{Role: "user", Content: utterance})

	res, err := c.adapter.Complete(ctx, brain.Request{
		Messages:    messages,
		Temperature: 0.2,
		MaxTokens:   500,
		ForceJSON:   true,
	})
	if err != nil {
		log.Printf("intent classification failed, failing open: %v", err)
		return fallback()
	}

	var out Classification
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		log.Printf("intent classification returned malformed JSON, failing open: %v", err)
		return fallback()
	}
	if strings.TrimSpace(out.IntentType) == "" {
		return fallback()
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
