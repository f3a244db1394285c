package protocol

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// Message is a single assistant utterance. Audio and Lipsync are attached
// by the speech synthesizer after the model call; the model only produces
// text, expression and animation.
type Message struct {
	Text             string          `json:"text"`
	FacialExpression string          `json:"facialExpression,omitempty"`
	Animation        string          `json:"animation,omitempty"`
	Audio            string          `json:"audio,omitempty"`
	Lipsync          json.RawMessage `json:"lipsync,omitempty"`
}

// TaskDraft is the task payload produced on the creation path.
type TaskDraft struct {
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	Category    string     `json:"category,omitempty"`
	DueDate     string     `json:"dueDate,omitempty"`
	DueTime     string     `json:"dueTime,omitempty"`
	Status      string     `json:"status,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Subtasks    []string   `json:"subtasks,omitempty"`
	Reminders   []Reminder `json:"reminders,omitempty"`
}

type Reminder struct {
	Type      string `json:"type,omitempty"`
	BeforeDue string `json:"beforeDue,omitempty"`
	Message   string `json:"message,omitempty"`
}

// TaskAction is always present in a ConversationResult, inert as
// {Action: "none"} when the turn carried no task intent.
type TaskAction struct {
	Action string     `json:"action"`
	Task   *TaskDraft `json:"task,omitempty"`
}

type ScheduledTask struct {
	Title       string `json:"title"`
	StartTime   string `json:"startTime,omitempty"`
	EndTime     string `json:"endTime,omitempty"`
	Duration    string `json:"duration,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Category    string `json:"category,omitempty"`
	Flexibility string `json:"flexibility,omitempty"`
}

type ScheduleConflict struct {
	Type        string   `json:"type,omitempty"`
	Description string   `json:"description,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// SchedulingAction mirrors TaskAction for the multi-task planning path.
type SchedulingAction struct {
	Type      string             `json:"type"`
	Action    string             `json:"action"`
	TimeScope string             `json:"timeScope,omitempty"`
	Tasks     []ScheduledTask    `json:"tasks,omitempty"`
	Conflicts []ScheduleConflict `json:"conflicts,omitempty"`
}

// Clarification lists what the model still needs before finalizing.
type Clarification struct {
	Questions   []string `json:"questions,omitempty"`
	MissingInfo []string `json:"missingInfo,omitempty"`
}

// ConversationResult is the structured outcome of the conversation /
// task-creation path.
type ConversationResult struct {
	Mode              string            `json:"mode"`
	Intent            string            `json:"intent,omitempty"`
	Confidence        float64           `json:"confidence"`
	NeedsConfirmation bool              `json:"needsConfirmation,omitempty"`
	ConfirmationType  string            `json:"confirmationType,omitempty"`
	PendingData       json.RawMessage   `json:"pendingData,omitempty"`
	Messages          []Message         `json:"messages"`
	TaskAction        *TaskAction       `json:"taskAction"`
	SchedulingAction  *SchedulingAction `json:"schedulingAction"`
	Clarification     *Clarification    `json:"clarificationNeeded,omitempty"`
}

// TargetTask identifies one existing task an operation applies to.
type TargetTask struct {
	ID     string `json:"id,omitempty"`
	Title  string `json:"title,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type QueryFilters struct {
	Status    string `json:"status,omitempty"`
	Priority  string `json:"priority,omitempty"`
	TimeRange string `json:"timeRange,omitempty"`
	Category  string `json:"category,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// UpdateData describes a field change. Fields holds multi-field updates
// (e.g. a simultaneous date+time reschedule); Field/NewValue the single
// field form. Field names use the plan's snake_case vocabulary.
type UpdateData struct {
	Field     string            `json:"field,omitempty"`
	OldValue  string            `json:"oldValue,omitempty"`
	NewValue  string            `json:"newValue,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	UserInput string            `json:"userInput,omitempty"`
}

type StatsRequest struct {
	Type      string `json:"type,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
}

// TaskOperationPlan is the model-produced description of an action against
// existing tasks, consumed by the executor.
type TaskOperationPlan struct {
	Operation     string        `json:"operation"`
	TargetTasks   []TargetTask  `json:"targetTasks,omitempty"`
	QueryFilters  *QueryFilters `json:"queryFilters,omitempty"`
	UpdateData    *UpdateData   `json:"updateData,omitempty"`
	StatsRequest  *StatsRequest `json:"statsRequested,omitempty"`
	UserSelection string        `json:"userSelection,omitempty"`
}

// OperationResult is the structured outcome of the task-operations path.
type OperationResult struct {
	Operation         string             `json:"operation"`
	Intent            string             `json:"intent,omitempty"`
	Confidence        float64            `json:"confidence"`
	NeedsConfirmation bool               `json:"needsConfirmation"`
	ConfirmationType  string             `json:"confirmationType,omitempty"`
	Messages          []Message          `json:"messages"`
	TaskOperation     *TaskOperationPlan `json:"taskOperation"`
	Clarification     *Clarification     `json:"clarificationNeeded,omitempty"`
}

var ErrEmptyResult = errors.New("empty model output")

// ParseConversationResult validates and normalizes raw model output. A
// strict unmarshal is attempted first; when the model returns broken JSON
// the salvage path pulls whatever fields gjson can still see. The returned
// result always has at least one message and non-nil taskAction and
// schedulingAction so downstream consumers never handle a partial shape.
func ParseConversationResult(raw []byte) (ConversationResult, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return ConversationResult{}, ErrEmptyResult
	}

	var res ConversationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		res = salvageConversation(raw)
	}
	normalizeConversation(&res)
	return res, nil
}

func salvageConversation(raw []byte) ConversationResult {
	body := gjson.ParseBytes(raw)
	res := ConversationResult{
		Mode:       body.Get("mode").String(),
		Intent:     body.Get("intent").String(),
		Confidence: body.Get("confidence").Float(),
	}
	res.NeedsConfirmation = body.Get("needsConfirmation").Bool()
	res.ConfirmationType = body.Get("confirmationType").String()
	for _, m := range body.Get("messages").Array() {
		text := m.Get("text").String()
		if text == "" {
			text = m.String()
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		res.Messages = append(res.Messages, Message{
			Text:             text,
			FacialExpression: m.Get("facialExpression").String(),
			Animation:        m.Get("animation").String(),
		})
	}
	return res
}

func normalizeConversation(res *ConversationResult) {
	if res.Mode == "" {
		res.Mode = "conversation"
	}
	res.Confidence = clamp01(res.Confidence)
	if len(res.Messages) == 0 {
		res.Messages = []Message{{
			Text:             "Tôi chưa hiểu rõ lắm, bạn có thể nói lại không?",
			FacialExpression: "thinking",
			Animation:        "Thinking_0",
		}}
	}
	if res.TaskAction == nil {
		res.TaskAction = &TaskAction{Action: "none"}
	}
	if res.TaskAction.Action == "" {
		res.TaskAction.Action = "none"
	}
	if res.SchedulingAction == nil {
		res.SchedulingAction = &SchedulingAction{Type: "none", Action: "none"}
	}
	if res.SchedulingAction.Type == "" {
		res.SchedulingAction.Type = "none"
	}
	if res.SchedulingAction.Action == "" {
		res.SchedulingAction.Action = "none"
	}
}

// ParseOperationResult is the task-operations counterpart. Unrecognized or
// missing operations normalize to an all-filters query, the safe read-only
// default.
func ParseOperationResult(raw []byte) (OperationResult, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return OperationResult{}, ErrEmptyResult
	}

	var res OperationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		body := gjson.ParseBytes(raw)
		res = OperationResult{
			Operation:         body.Get("operation").String(),
			Intent:            body.Get("intent").String(),
			Confidence:        body.Get("confidence").Float(),
			NeedsConfirmation: body.Get("needsConfirmation").Bool(),
			ConfirmationType:  body.Get("confirmationType").String(),
		}
		for _, m := range body.Get("messages").Array() {
			if text := m.Get("text").String(); strings.TrimSpace(text) != "" {
				res.Messages = append(res.Messages, Message{
					Text:             text,
					FacialExpression: m.Get("facialExpression").String(),
					Animation:        m.Get("animation").String(),
				})
			}
		}
	}
	normalizeOperation(&res)
	return res, nil
}

func validOperation(op string) bool {
	switch op {
	case "query", "update", "delete", "priority_change", "mark_complete", "stats":
		return true
	default:
		return false
	}
}

func normalizeOperation(res *OperationResult) {
	res.Confidence = clamp01(res.Confidence)
	if !validOperation(res.Operation) {
		res.Operation = "query"
	}
	if res.TaskOperation == nil {
		res.TaskOperation = &TaskOperationPlan{Operation: res.Operation}
	}
	if !validOperation(res.TaskOperation.Operation) {
		res.TaskOperation.Operation = res.Operation
	}
	if res.TaskOperation.Operation == "query" && res.TaskOperation.QueryFilters == nil {
		res.TaskOperation.QueryFilters = &QueryFilters{Status: "all", TimeRange: "all"}
	}
	if len(res.Messages) == 0 {
		res.Messages = []Message{{
			Text:             "Tôi hiểu bạn muốn thao tác với tasks. Bạn có thể nói rõ hơn muốn làm gì không?",
			FacialExpression: "thinking",
			Animation:        "Thinking_0",
		}}
	}
	if res.ConfirmationType == "" {
		res.ConfirmationType = "none"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
