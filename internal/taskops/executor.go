package taskops

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/khoanguyen-dev/mai/internal/persist"
	"github.com/khoanguyen-dev/mai/internal/protocol"
	"github.com/khoanguyen-dev/mai/internal/reliability"
)

// StoreClient is the slice of the persistence client the executor needs.
type StoreClient interface {
	ListTasks(ctx context.Context, userID string, f persist.ListFilters) ([]persist.Task, error)
	UpdateTask(ctx context.Context, taskID string, fields map[string]any) (persist.Task, error)
	CompleteTask(ctx context.Context, taskID string) (persist.Task, error)
	DeleteTask(ctx context.Context, taskID string) error
}

// Stats is the locally aggregated report; the store has no aggregation
// endpoint, so stats are always computed from a full fetch.
type Stats struct {
	TotalTasks     int            `json:"total_tasks"`
	Completed      int            `json:"completed"`
	Pending        int            `json:"pending"`
	InProgress     int            `json:"in_progress"`
	ByPriority     map[string]int `json:"by_priority"`
	ByCategory     map[string]int `json:"by_category"`
	CompletionRate int            `json:"completion_rate"`
}

// Result is the uniform envelope every operation returns.
type Result struct {
	Success   bool                   `json:"success"`
	Operation string                 `json:"operation"`
	Tasks     []persist.Task         `json:"tasks,omitempty"`
	Count     int                    `json:"count"`
	Filters   *protocol.QueryFilters `json:"filters,omitempty"`
	Stats     *Stats                 `json:"stats,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// fieldMapping translates the plan's snake_case field vocabulary into the
// camelCase names the store's update API expects.
var fieldMapping = map[string]string{
	"title":              "title",
	"description":        "description",
	"priority":           "priority",
	"category":           "category",
	"status":             "status",
	"due_date":           "dueDate",
	"due_time":           "dueTime",
	"estimated_duration": "estimatedDuration",
	"actual_duration":    "actualDuration",
}

var objectIDShape = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// Executor applies a validated TaskOperationPlan against the remote store.
// It performs no confirmation of its own: destructive plans reach it only
// after the caller has collected the user's confirmation.
type Executor struct {
	store         StoreClient
	retryAttempts int
	retryDelay    time.Duration
	now           func() time.Time
}

func NewExecutor(store StoreClient, retryAttempts int, retryDelay time.Duration) *Executor {
	if retryAttempts < 0 {
		retryAttempts = 0
	}
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	return &Executor{
		store:         store,
		retryAttempts: retryAttempts,
		retryDelay:    retryDelay,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Execute dispatches on the plan's operation. Errors are folded into the
// Result envelope; the caller renders them as a user-safe message.
func (e *Executor) Execute(ctx context.Context, plan *protocol.TaskOperationPlan, userID string) Result {
	if plan == nil {
		return Result{Success: false, Error: "empty operation plan"}
	}

	var (
		res Result
		err error
	)
	switch plan.Operation {
	case "query":
		res, err = e.Query(ctx, plan.QueryFilters, userID)
	case "update", "priority_change":
		res, err = e.Update(ctx, plan)
	case "mark_complete":
		res, err = e.MarkComplete(ctx, plan.TargetTasks)
	case "delete":
		res, err = e.Delete(ctx, plan.TargetTasks)
	case "stats":
		res, err = e.Stats(ctx, plan.StatsRequest, userID)
	default:
		err = fmt.Errorf("unsupported operation: %s", plan.Operation)
	}
	if err != nil {
		return Result{Success: false, Operation: plan.Operation, Error: err.Error()}
	}
	return res
}

// Query builds server-side filter parameters for the shapes the store
// supports (status, priority, category, exact due-date) and applies the
// rest client-side after fetching. "overdue" and "this_week" are always
// client-side: the store cannot express relative ranges, so if its filter
// set ever grows this split must be revisited to keep the two halves
// consistent.
func (e *Executor) Query(ctx context.Context, filters *protocol.QueryFilters, userID string) (Result, error) {
	if filters == nil {
		filters = &protocol.QueryFilters{Status: "all", TimeRange: "all"}
	}

	lf := persist.ListFilters{
		Status:   filters.Status,
		Priority: filters.Priority,
		Category: filters.Category,
		Limit:    filters.Limit,
	}

	today := e.now().Format("2006-01-02")
	tomorrow := e.now().Add(24 * time.Hour).Format("2006-01-02")
	switch filters.TimeRange {
	case "today":
		lf.DueDate = today
	case "tomorrow":
		lf.DueDate = tomorrow
	}

	tasks, err := e.store.ListTasks(ctx, userID, lf)
	if err != nil {
		return Result{}, fmt.Errorf("query failed: %w", err)
	}

	switch filters.TimeRange {
	case "overdue":
		kept := tasks[:0]
		for _, t := range tasks {
			if t.DueDate != "" && t.DueDate < today && t.Status != "completed" {
				kept = append(kept, t)
			}
		}
		tasks = kept
	case "this_week":
		weekEnd := e.now().Add(7 * 24 * time.Hour).Format("2006-01-02")
		kept := tasks[:0]
		for _, t := range tasks {
			if t.DueDate != "" && t.DueDate >= today && t.DueDate <= weekEnd {
				kept = append(kept, t)
			}
		}
		tasks = kept
	}

	return Result{
		Success:   true,
		Operation: "query",
		Tasks:     tasks,
		Count:     len(tasks),
		Filters:   filters,
	}, nil
}

// Update covers plain field updates and priority changes. Multi-field
// plans produce exactly one remote call carrying every translated field.
func (e *Executor) Update(ctx context.Context, plan *protocol.TaskOperationPlan) (Result, error) {
	if len(plan.TargetTasks) == 0 {
		return Result{}, fmt.Errorf("update failed: no target task")
	}
	upd := plan.UpdateData
	if upd == nil {
		return Result{}, fmt.Errorf("update failed: no update data")
	}

	payload := map[string]any{}
	if upd.Field != "" {
		payload[translateField(upd.Field)] = upd.NewValue
		if upd.Field == "status" && upd.NewValue == "completed" {
			payload["completedAt"] = e.now().Format(time.RFC3339)
		}
	}
	for field, value := range upd.Fields {
		payload[translateField(field)] = value
		if field == "status" && value == "completed" {
			payload["completedAt"] = e.now().Format(time.RFC3339)
		}
	}
	if len(payload) == 0 {
		return Result{}, fmt.Errorf("update failed: empty update payload")
	}

	var updated []persist.Task
	for _, target := range plan.TargetTasks {
		task, err := e.updateWithRetry(ctx, target.ID, payload)
		if err != nil {
			return Result{}, fmt.Errorf("update failed: %w", err)
		}
		updated = append(updated, task)
	}

	return Result{
		Success:   true,
		Operation: "update",
		Tasks:     updated,
		Count:     len(updated),
	}, nil
}

// MarkComplete is a specialized update: status=completed plus a completion
// timestamp stamped by the store. A target whose identifier does not look
// like a store id gets a warning, not a hard failure; the store is the
// authority on identifiers.
func (e *Executor) MarkComplete(ctx context.Context, targets []protocol.TargetTask) (Result, error) {
	if len(targets) == 0 {
		return Result{}, fmt.Errorf("mark complete failed: no target tasks provided")
	}

	var completed []persist.Task
	for _, target := range targets {
		if target.ID == "" {
			return Result{}, fmt.Errorf("mark complete failed: missing task id for %q", target.Title)
		}
		if !objectIDShape.MatchString(target.ID) {
			log.Printf("task id %q does not look like a store object id", target.ID)
		}
		task, err := e.completeWithRetry(ctx, target.ID)
		if err != nil {
			return Result{}, fmt.Errorf("mark complete failed: %w", err)
		}
		completed = append(completed, task)
	}

	return Result{
		Success:   true,
		Operation: "mark_complete",
		Tasks:     completed,
		Count:     len(completed),
	}, nil
}

// Delete removes every target unconditionally. Obtaining confirmation is
// the caller's responsibility.
func (e *Executor) Delete(ctx context.Context, targets []protocol.TargetTask) (Result, error) {
	if len(targets) == 0 {
		return Result{}, fmt.Errorf("delete failed: no target tasks provided")
	}

	var deleted []persist.Task
	for _, target := range targets {
		if err := e.store.DeleteTask(ctx, target.ID); err != nil {
			return Result{}, fmt.Errorf("delete failed: %w", err)
		}
		deleted = append(deleted, persist.Task{ID: target.ID, Title: target.Title})
	}

	return Result{
		Success:   true,
		Operation: "delete",
		Tasks:     deleted,
		Count:     len(deleted),
	}, nil
}

// Stats fetches the full task list and aggregates locally.
func (e *Executor) Stats(ctx context.Context, _ *protocol.StatsRequest, userID string) (Result, error) {
	tasks, err := e.store.ListTasks(ctx, userID, persist.ListFilters{})
	if err != nil {
		return Result{}, fmt.Errorf("stats generation failed: %w", err)
	}

	stats := &Stats{
		ByPriority: map[string]int{},
		ByCategory: map[string]int{},
	}
	stats.TotalTasks = len(tasks)
	for _, t := range tasks {
		switch t.Status {
		case "completed":
			stats.Completed++
		case "pending":
			stats.Pending++
		case "in_progress":
			stats.InProgress++
		}
		if t.Priority != "" {
			stats.ByPriority[t.Priority]++
		}
		category := t.Category
		if category == "" {
			category = "other"
		}
		stats.ByCategory[category]++
	}
	if stats.TotalTasks > 0 {
		stats.CompletionRate = int(float64(stats.Completed)/float64(stats.TotalTasks)*100 + 0.5)
	}

	return Result{
		Success:   true,
		Operation: "stats",
		Count:     stats.TotalTasks,
		Stats:     stats,
	}, nil
}

// updateWithRetry retries only transient transport failures, a small fixed
// number of times with a fixed delay. Anything else (validation, 4xx)
// surfaces immediately.
func (e *Executor) updateWithRetry(ctx context.Context, taskID string, payload map[string]any) (persist.Task, error) {
	var lastErr error
	for attempt := 0; attempt <= e.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return persist.Task{}, ctx.Err()
			case <-time.After(e.retryDelay):
			}
			log.Printf("retrying task update %s (attempt %d/%d)", taskID, attempt, e.retryAttempts)
		}
		task, err := e.store.UpdateTask(ctx, taskID, payload)
		if err == nil {
			return task, nil
		}
		lastErr = err
		if !reliability.IsTransientNetError(err) {
			return persist.Task{}, err
		}
	}
	return persist.Task{}, lastErr
}

func (e *Executor) completeWithRetry(ctx context.Context, taskID string) (persist.Task, error) {
	var lastErr error
	for attempt := 0; attempt <= e.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return persist.Task{}, ctx.Err()
			case <-time.After(e.retryDelay):
			}
			log.Printf("retrying task complete %s (attempt %d/%d)", taskID, attempt, e.retryAttempts)
		}
		task, err := e.store.CompleteTask(ctx, taskID)
		if err == nil {
			return task, nil
		}
		lastErr = err
		if !reliability.IsTransientNetError(err) {
			return persist.Task{}, err
		}
	}
	return persist.Task{}, lastErr
}

func translateField(field string) string {
	if mapped, ok := fieldMapping[field]; ok {
		return mapped
	}
	return field
}
