package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/khoanguyen-dev/mai/internal/brain"
	"github.com/khoanguyen-dev/mai/internal/confirm"
	"github.com/khoanguyen-dev/mai/internal/convlog"
	"github.com/khoanguyen-dev/mai/internal/intent"
	"github.com/khoanguyen-dev/mai/internal/observability"
	"github.com/khoanguyen-dev/mai/internal/persist"
	"github.com/khoanguyen-dev/mai/internal/protocol"
	"github.com/khoanguyen-dev/mai/internal/session"
	"github.com/khoanguyen-dev/mai/internal/speech"
	"github.com/khoanguyen-dev/mai/internal/syncqueue"
	"github.com/khoanguyen-dev/mai/internal/taskops"
)

const (
	conversationTemperature = 0.6
	operationTemperature    = 0.3
	maxCompletionTokens     = 1000

	// Intro lines never change within a deploy, so their audio files are
	// named and reused instead of re-synthesized per greeting.
	introAudioPrefix = "intro"
)

// TaskStore is the read side of the persistence service: current tasks for
// operation context and the optional profile for prompt personalization.
type TaskStore interface {
	ListTasks(ctx context.Context, userID string, f persist.ListFilters) ([]persist.Task, error)
	GetProfile(ctx context.Context, userID string) (persist.Profile, error)
}

// PlanExecutor applies a validated operation plan.
type PlanExecutor interface {
	Execute(ctx context.Context, plan *protocol.TaskOperationPlan, userID string) taskops.Result
}

// JobQueue receives conversation outcomes for background persistence.
type JobQueue interface {
	Submit(job syncqueue.Job)
	Status() syncqueue.Status
	Kick()
}

type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	// UserContext is an opaque client-supplied blob carried through the
	// request envelope; the server accepts it without interpreting it.
	UserContext json.RawMessage `json:"userContext,omitempty"`
}

// Metadata mirrors the response envelope the frontend reads alongside the
// messages.
type Metadata struct {
	Mode              string                 `json:"mode,omitempty"`
	Intent            string                 `json:"intent,omitempty"`
	Confidence        float64                `json:"confidence,omitempty"`
	SessionID         string                 `json:"sessionId,omitempty"`
	Processing        string                 `json:"processing,omitempty"`
	NeedsConfirmation bool                   `json:"needsConfirmation,omitempty"`
	ConfirmationType  string                 `json:"confirmationType,omitempty"`
	Confirmed         bool                   `json:"confirmed,omitempty"`
	Classification    *intent.Classification `json:"classification,omitempty"`
	Routing           *intent.Decision       `json:"routing,omitempty"`
}

// TaskData carries query/update results for the frontend's toast display.
type TaskData struct {
	Operation   string                 `json:"operation"`
	Tasks       []persist.Task         `json:"tasks"`
	Count       int                    `json:"count"`
	Filters     *protocol.QueryFilters `json:"filters,omitempty"`
	DisplayType string                 `json:"displayType"`
}

type ChatResponse struct {
	Messages        []protocol.Message `json:"messages"`
	Metadata        *Metadata          `json:"metadata,omitempty"`
	TaskData        *TaskData          `json:"taskData,omitempty"`
	OperationResult *taskops.Result    `json:"operationResult,omitempty"`
}

// Engine is the conversation orchestrator: it owns the turn lifecycle from
// raw utterance to enriched reply, delegating model calls, confirmation
// state, task execution and persistence to its collaborators.
type Engine struct {
	brain      brain.Adapter
	classifier *intent.Classifier
	sessions   *session.Store
	confirms   *confirm.Store
	tasks      TaskStore
	executor   PlanExecutor
	queue      JobQueue
	turns      convlog.Store
	speech     speech.Synthesizer
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewEngine(
	adapter brain.Adapter,
	sessions *session.Store,
	confirms *confirm.Store,
	tasks TaskStore,
	executor PlanExecutor,
	queue JobQueue,
	turns convlog.Store,
	synth speech.Synthesizer,
	metrics *observability.Metrics,
) *Engine {
	if synth == nil {
		synth = speech.Disabled{}
	}
	return &Engine{
		brain:      adapter,
		classifier: intent.NewClassifier(adapter),
		sessions:   sessions,
		confirms:   confirms,
		tasks:      tasks,
		executor:   executor,
		queue:      queue,
		turns:      turns,
		speech:     synth,
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// HandleChat runs one conversational turn.
func (e *Engine) HandleChat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if req.SessionID == "" {
		req.SessionID = "default"
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}

	start := e.now()
	defer func() {
		if e.metrics != nil {
			e.metrics.ObserveTurnLatency(e.now().Sub(start))
		}
	}()

	if req.Message == "" {
		return ChatResponse{Messages: e.speech.Attach(ctx, introMessages(), introAudioPrefix)}, nil
	}

	// The system prompt carries the current date and time, so it is rebuilt
	// and swapped in on every turn rather than cached at session creation.
	// Stored profile data rides along when the store has any.
	prompt := conversationSystemPrompt(e.now()) + e.profileContext(ctx, req.UserID)
	e.sessions.GetOrCreate(req.SessionID, func() string { return prompt })
	e.sessions.ReplaceSystem(req.SessionID, prompt)
	if e.metrics != nil {
		e.metrics.ActiveSessions.Set(float64(e.sessions.Sessions()))
	}

	// Claim-and-clear happens in one critical section: when duplicate
	// replies arrive concurrently, exactly one wins the stored plan and the
	// rest fall through to normal classification.
	if pending, ok := e.confirms.TakeIf(req.SessionID, func(p confirm.Pending) bool {
		return confirm.IsConfirmationResponse(req.Message, p)
	}); ok {
		e.countConfirmation("accepted")
		log.Printf("confirmation reply detected for session %s (kind=%s)", req.SessionID, pending.Kind)
		if pending.Kind == confirm.KindTaskOperation {
			return e.handleOperationConfirmation(ctx, req, pending)
		}
		return e.handleConversationConfirmation(ctx, req, pending)
	}

	classification := e.classifier.Classify(ctx, req.Message, e.sessions.Snapshot(req.SessionID))
	decision := intent.Route(classification)
	log.Printf("routing session=%s route=%s intent=%s confidence=%.2f",
		req.SessionID, decision.Route, decision.IntentType, decision.Confidence)

	if decision.Route == intent.RouteTaskOperations {
		return e.handleTaskOperations(ctx, req, classification, decision)
	}
	return e.handleConversation(ctx, req, classification, decision)
}

// JobStatus exposes the sync queue state for the jobs endpoints.
func (e *Engine) JobStatus() syncqueue.Status { return e.queue.Status() }

// KickJobs manually triggers queue draining.
func (e *Engine) KickJobs() { e.queue.Kick() }

// RecentTurns returns the persisted exchange log for a user.
func (e *Engine) RecentTurns(ctx context.Context, userID string, limit int) ([]convlog.Turn, error) {
	return e.turns.RecentTurns(ctx, userID, limit)
}

// profileContext renders the user's stored profile as a system prompt
// suffix. A failed or empty profile degrades to no personalization.
func (e *Engine) profileContext(ctx context.Context, userID string) string {
	p, err := e.tasks.GetProfile(ctx, userID)
	if err != nil {
		log.Printf("profile lookup failed for user %s, continuing without personalization: %v", userID, err)
		return ""
	}
	var b strings.Builder
	if p.Name != "" {
		fmt.Fprintf(&b, "\n- Tên người dùng: %s", p.Name)
	}
	if p.Timezone != "" {
		fmt.Fprintf(&b, "\n- Múi giờ: %s", p.Timezone)
	}
	if p.Language != "" {
		fmt.Fprintf(&b, "\n- Ngôn ngữ ưa thích: %s", p.Language)
	}
	if b.Len() == 0 {
		return ""
	}
	return "\n\nTHÔNG TIN NGƯỜI DÙNG:" + b.String()
}

func (e *Engine) handleConversation(ctx context.Context, req ChatRequest, cls intent.Classification, dec intent.Decision) (ChatResponse, error) {
	result, err := e.completeConversation(ctx, req.SessionID, req.Message)
	if err != nil {
		e.countModelError("conversation")
		log.Printf("conversation model call failed for session %s: %v", req.SessionID, err)
		resp := ChatResponse{
			Messages: e.speech.Attach(ctx, []protocol.Message{errorMessage("")}, ""),
			Metadata: &Metadata{
				Mode:           "conversation",
				SessionID:      req.SessionID,
				Processing:     "model_error",
				Classification: &cls,
				Routing:        &dec,
			},
		}
		e.recordTurn(ctx, req, resp, dec, false)
		e.countTurn(dec.Route, "model_error")
		return resp, nil
	}

	if result.NeedsConfirmation {
		var missing []string
		if result.Clarification != nil {
			missing = result.Clarification.MissingInfo
		}
		e.confirms.Put(req.SessionID, confirm.Pending{
			Kind:          confirm.KindConversational,
			Subtype:       confirm.Subtype(result.ConfirmationType),
			OriginalInput: req.Message,
			Conversation:  &result,
			MissingInfo:   missing,
		})
		e.countConfirmation("stored")

		resp := ChatResponse{
			Messages: e.speech.Attach(ctx, result.Messages, ""),
			Metadata: &Metadata{
				Mode:              result.Mode,
				Intent:            result.Intent,
				Confidence:        result.Confidence,
				SessionID:         req.SessionID,
				Processing:        "awaiting_confirmation",
				NeedsConfirmation: true,
				ConfirmationType:  result.ConfirmationType,
				Classification:    &cls,
				Routing:           &dec,
			},
		}
		e.recordTurn(ctx, req, resp, dec, true)
		e.countTurn(dec.Route, "awaiting_confirmation")
		return resp, nil
	}

	e.queue.Submit(syncqueue.Job{
		Type:      "conversation_processing",
		UserInput: req.Message,
		Parsed:    result,
		SessionID: req.SessionID,
		UserID:    req.UserID,
	})

	resp := ChatResponse{
		Messages: e.speech.Attach(ctx, result.Messages, ""),
		Metadata: &Metadata{
			Mode:           result.Mode,
			Intent:         result.Intent,
			Confidence:     result.Confidence,
			SessionID:      req.SessionID,
			Processing:     "background_job_queued",
			Classification: &cls,
			Routing:        &dec,
		},
	}
	e.recordTurn(ctx, req, resp, dec, false)
	e.countTurn(dec.Route, "queued")
	return resp, nil
}

func (e *Engine) handleConversationConfirmation(ctx context.Context, req ChatRequest, pending confirm.Pending) (ChatResponse, error) {
	combined := pending.OriginalInput + "\n\nThông tin bổ sung từ user: " + req.Message

	result, err := e.completeConversation(ctx, req.SessionID, combined)
	if err != nil {
		e.countModelError("confirmation")
		log.Printf("model failed on confirmation merge for session %s, using pending data: %v", req.SessionID, err)
		result = confirm.MergeFallback(req.Message, pending)
	}

	e.queue.Submit(syncqueue.Job{
		Type:      "confirmation_completion",
		UserInput: combined,
		Parsed:    result,
		SessionID: req.SessionID,
		UserID:    req.UserID,
	})

	dec := intent.Decision{Route: intent.RouteConversation, IntentType: result.Mode}
	resp := ChatResponse{
		Messages: e.speech.Attach(ctx, result.Messages, ""),
		Metadata: &Metadata{
			Mode:       result.Mode,
			Intent:     result.Intent,
			Confidence: result.Confidence,
			SessionID:  req.SessionID,
			Processing: "confirmed_and_queued",
			Confirmed:  true,
		},
	}
	e.recordTurn(ctx, req, resp, dec, false)
	e.countTurn(intent.RouteConversation, "confirmed")
	return resp, nil
}

// completeConversation runs the model against the session history and
// folds both turns back into it.
func (e *Engine) completeConversation(ctx context.Context, sessionID, input string) (protocol.ConversationResult, error) {
	e.sessions.Append(sessionID, brain.ChatMessage{Role: "user", Content: input})

	history := e.sessions.Snapshot(sessionID)
	log.Printf("sending %d messages to model for session %s", len(history), sessionID)

	out, err := e.brain.Complete(ctx, brain.Request{
		Messages:    history,
		Temperature: conversationTemperature,
		MaxTokens:   maxCompletionTokens,
		ForceJSON:   true,
	})
	if err != nil {
		return protocol.ConversationResult{}, fmt.Errorf("model completion: %w", err)
	}

	result, err := protocol.ParseConversationResult([]byte(out.Content))
	if err != nil {
		return protocol.ConversationResult{}, fmt.Errorf("parse model output: %w", err)
	}

	e.sessions.Append(sessionID, brain.ChatMessage{Role: "assistant", Content: out.Content})
	return result, nil
}

func (e *Engine) handleTaskOperations(ctx context.Context, req ChatRequest, cls intent.Classification, dec intent.Decision) (ChatResponse, error) {
	tasks, err := e.tasks.ListTasks(ctx, req.UserID, persist.ListFilters{})
	if err != nil {
		// Operating blind beats refusing the turn; the model will see an
		// empty task list and ask for specifics.
		log.Printf("task fetch failed for user %s, proceeding without context: %v", req.UserID, err)
		tasks = nil
	}
	log.Printf("found %d existing tasks for operations (user=%s)", len(tasks), req.UserID)

	op := e.planOperation(ctx, req.Message, tasks)

	if op.NeedsConfirmation {
		var missing []string
		if op.Clarification != nil {
			missing = op.Clarification.MissingInfo
		}
		e.confirms.Put(req.SessionID, confirm.Pending{
			Kind:          confirm.KindTaskOperation,
			Subtype:       confirm.Subtype(op.ConfirmationType),
			OriginalInput: req.Message,
			Operation:     &op,
			MissingInfo:   missing,
		})
		e.countConfirmation("stored")

		resp := ChatResponse{
			Messages: e.speech.Attach(ctx, op.Messages, ""),
			Metadata: &Metadata{
				Mode:              "task_operation",
				Intent:            op.Intent,
				Confidence:        op.Confidence,
				SessionID:         req.SessionID,
				Processing:        "awaiting_confirmation",
				NeedsConfirmation: true,
				ConfirmationType:  op.ConfirmationType,
				Classification:    &cls,
				Routing:           &dec,
			},
		}
		e.recordTurn(ctx, req, resp, dec, true)
		e.countTurn(dec.Route, "awaiting_confirmation")
		return resp, nil
	}

	execResult := e.executor.Execute(ctx, op.TaskOperation, req.UserID)
	e.countOperation(execResult)

	messages := append([]protocol.Message{}, op.Messages...)
	if execResult.Success {
		messages = append(messages, successMessage(op.Operation, execResult))
	} else {
		messages = append(messages, protocol.Message{
			Text:             "❌ Có lỗi xảy ra: " + execResult.Error,
			FacialExpression: "concerned",
			Animation:        "Talking_0",
		})
	}

	resp := ChatResponse{
		Messages: e.speech.Attach(ctx, messages, ""),
		Metadata: &Metadata{
			Mode:           "task_operation",
			Intent:         op.Intent,
			Confidence:     op.Confidence,
			SessionID:      req.SessionID,
			Processing:     "executed",
			Classification: &cls,
			Routing:        &dec,
		},
		OperationResult: &execResult,
		TaskData:        taskDataFor(op.Operation, execResult),
	}
	e.recordTurn(ctx, req, resp, dec, false)
	e.countTurn(dec.Route, outcomeOf(execResult))
	return resp, nil
}

func (e *Engine) handleOperationConfirmation(ctx context.Context, req ChatRequest, pending confirm.Pending) (ChatResponse, error) {
	op := pending.Operation
	if op == nil || op.TaskOperation == nil {
		log.Printf("pending task operation for session %s has no plan, asking again", req.SessionID)
		return ChatResponse{
			Messages: e.speech.Attach(ctx, []protocol.Message{
				errorMessage("Xin lỗi, mình không còn giữ thao tác trước đó. Bạn nói lại giúp mình nhé?"),
			}, ""),
			Metadata: &Metadata{Mode: "task_operation", SessionID: req.SessionID, Processing: "confirmation_lost"},
		}, nil
	}
	log.Printf("executing confirmed %s operation for session %s", op.Operation, req.SessionID)

	plan := *op.TaskOperation
	switch pending.Subtype {
	case confirm.SubtypeTaskSelection:
		plan.UserSelection = req.Message
	case confirm.SubtypeUpdateDetails:
		if plan.UpdateData == nil {
			plan.UpdateData = &protocol.UpdateData{}
		}
		plan.UpdateData.UserInput = req.Message
	}

	execResult := e.executor.Execute(ctx, &plan, req.UserID)
	e.countOperation(execResult)

	var messages []protocol.Message
	if execResult.Success {
		messages = []protocol.Message{
			{
				Text:             "Perfect! Đã xác nhận và thực hiện thao tác thành công.",
				FacialExpression: "smile",
				Animation:        "Celebrating",
			},
			successMessage(op.Operation, execResult),
		}
	} else {
		messages = []protocol.Message{{
			Text:             "❌ Có lỗi khi thực hiện: " + execResult.Error,
			FacialExpression: "concerned",
			Animation:        "Talking_0",
		}}
	}

	dec := intent.Decision{Route: intent.RouteTaskOperations, IntentType: op.Operation}
	resp := ChatResponse{
		Messages: e.speech.Attach(ctx, messages, ""),
		Metadata: &Metadata{
			Mode:       "task_operation",
			Intent:     op.Intent,
			Confidence: op.Confidence,
			SessionID:  req.SessionID,
			Processing: "confirmed_and_executed",
			Confirmed:  true,
		},
		OperationResult: &execResult,
		TaskData:        taskDataFor(op.Operation, execResult),
	}
	e.recordTurn(ctx, req, resp, dec, false)
	e.countTurn(intent.RouteTaskOperations, outcomeOf(execResult))
	return resp, nil
}

// planOperation asks the model for a TaskOperationPlan. Failures fall open
// to a clarifying query so the task-operations path never errors the turn.
func (e *Engine) planOperation(ctx context.Context, input string, tasks []persist.Task) protocol.OperationResult {
	taskContext := "\n\n📋 CURRENT USER TASKS: No tasks found."
	if len(tasks) > 0 {
		if blob, err := json.Marshal(tasks); err == nil {
			taskContext = fmt.Sprintf("\n\n📋 CURRENT USER TASKS (%d total):\n%s", len(tasks), blob)
		}
	}

	out, err := e.brain.Complete(ctx, brain.Request{
		Messages: []brain.ChatMessage{
			{Role: "system", Content: taskOperationPrompt(e.now())},
			{Role: "user", Content: input + taskContext},
		},
		Temperature: operationTemperature,
		MaxTokens:   maxCompletionTokens,
		ForceJSON:   true,
	})
	if err == nil {
		if op, perr := protocol.ParseOperationResult([]byte(out.Content)); perr == nil {
			return op
		} else {
			err = perr
		}
	}

	e.countModelError("task_operation")
	log.Printf("task operation planning failed, falling back to clarifying query: %v", err)
	return protocol.OperationResult{
		Operation:  "query",
		Intent:     "fallback task query",
		Confidence: 0.5,
		Messages: []protocol.Message{{
			Text:             "Tôi hiểu bạn muốn thao tác với tasks. Bạn có thể nói rõ hơn muốn làm gì không?",
			FacialExpression: "thinking",
			Animation:        "Thinking_0",
		}},
		TaskOperation: &protocol.TaskOperationPlan{
			Operation: "query",
			QueryFilters: &protocol.QueryFilters{
				Status: "all", Priority: "all", TimeRange: "all", Category: "all",
			},
		},
	}
}

func successMessage(operation string, res taskops.Result) protocol.Message {
	switch operation {
	case "query":
		return protocol.Message{
			Text:             fmt.Sprintf("✅ Tìm thấy %d tasks phù hợp với yêu cầu của bạn.", res.Count),
			FacialExpression: "smile",
			Animation:        "Talking_0",
		}
	case "update", "priority_change", "mark_complete":
		taskName := "task"
		if len(res.Tasks) > 0 && res.Tasks[0].Title != "" {
			taskName = res.Tasks[0].Title
		}
		return protocol.Message{
			Text:             fmt.Sprintf("✅ Đã cập nhật %s thành công!", taskName),
			FacialExpression: "smile",
			Animation:        "Celebrating",
		}
	case "delete":
		return protocol.Message{
			Text:             fmt.Sprintf("✅ Đã xóa %d task(s) thành công.", res.Count),
			FacialExpression: "smile",
			Animation:        "Talking_0",
		}
	case "stats":
		total, rate := 0, 0
		if res.Stats != nil {
			total, rate = res.Stats.TotalTasks, res.Stats.CompletionRate
		}
		return protocol.Message{
			Text:             fmt.Sprintf("📊 Thống kê: %d tasks, hoàn thành %d%%.", total, rate),
			FacialExpression: "smile",
			Animation:        "Talking_1",
		}
	default:
		return protocol.Message{
			Text:             "✅ Thao tác hoàn thành thành công!",
			FacialExpression: "smile",
			Animation:        "Talking_1",
		}
	}
}

// taskDataFor surfaces result rows for operations the frontend renders as
// a toast; other operations carry their outcome in text only.
func taskDataFor(operation string, res taskops.Result) *TaskData {
	if !res.Success {
		return nil
	}
	switch operation {
	case "query", "update", "priority_change", "mark_complete", "delete":
		return &TaskData{
			Operation:   operation,
			Tasks:       res.Tasks,
			Count:       res.Count,
			Filters:     res.Filters,
			DisplayType: "toast",
		}
	}
	return nil
}

func outcomeOf(res taskops.Result) string {
	if res.Success {
		return "executed"
	}
	return "failed"
}

func (e *Engine) recordTurn(ctx context.Context, req ChatRequest, resp ChatResponse, dec intent.Decision, pending bool) {
	if e.turns == nil {
		return
	}
	input, inputChanged := convlog.RedactPII(req.Message)
	turn := convlog.Turn{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		UserInput: input,
		Route:     dec.Route,
		Intent:    dec.IntentType,
		Pending:   pending,
		Redacted:  inputChanged,
	}
	if resp.Metadata != nil {
		turn.Mode = resp.Metadata.Mode
		turn.Confidence = resp.Metadata.Confidence
	}
	if len(resp.Messages) > 0 {
		reply, replyChanged := convlog.RedactPII(resp.Messages[0].Text)
		turn.ReplyText = reply
		turn.Redacted = turn.Redacted || replyChanged
	}
	if err := e.turns.SaveTurn(ctx, turn); err != nil {
		log.Printf("failed to record turn for session %s: %v", req.SessionID, err)
	}
}

func (e *Engine) countTurn(route, outcome string) {
	if e.metrics != nil {
		e.metrics.ChatTurns.WithLabelValues(route, outcome).Inc()
	}
}

func (e *Engine) countModelError(site string) {
	if e.metrics != nil {
		e.metrics.ModelErrors.WithLabelValues(site).Inc()
	}
}

func (e *Engine) countConfirmation(event string) {
	if e.metrics != nil {
		e.metrics.ConfirmationEvents.WithLabelValues(event).Inc()
	}
}

func (e *Engine) countOperation(res taskops.Result) {
	if e.metrics != nil {
		e.metrics.TaskOperations.WithLabelValues(res.Operation, outcomeOf(res)).Inc()
	}
}
