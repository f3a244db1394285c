package taskops

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/khoanguyen-dev/mai/internal/persist"
	"github.com/khoanguyen-dev/mai/internal/protocol"
)

type fakeStore struct {
	tasks        []persist.Task
	listErr      error
	listFilters  []persist.ListFilters
	updateCalls  []map[string]any
	updateErrs   []error
	completeIDs  []string
	completeErrs []error
	deletedIDs   []string
	deleteErr    error
}

func (f *fakeStore) ListTasks(_ context.Context, _ string, filters persist.ListFilters) ([]persist.Task, error) {
	f.listFilters = append(f.listFilters, filters)
	return f.tasks, f.listErr
}

func (f *fakeStore) UpdateTask(_ context.Context, taskID string, fields map[string]any) (persist.Task, error) {
	copied := map[string]any{}
	for k, v := range fields {
		copied[k] = v
	}
	f.updateCalls = append(f.updateCalls, copied)
	if len(f.updateErrs) > 0 {
		err := f.updateErrs[0]
		f.updateErrs = f.updateErrs[1:]
		if err != nil {
			return persist.Task{}, err
		}
	}
	return persist.Task{ID: taskID}, nil
}

func (f *fakeStore) CompleteTask(_ context.Context, taskID string) (persist.Task, error) {
	f.completeIDs = append(f.completeIDs, taskID)
	if len(f.completeErrs) > 0 {
		err := f.completeErrs[0]
		f.completeErrs = f.completeErrs[1:]
		if err != nil {
			return persist.Task{}, err
		}
	}
	return persist.Task{ID: taskID, Status: "completed"}, nil
}

func (f *fakeStore) DeleteTask(_ context.Context, taskID string) error {
	f.deletedIDs = append(f.deletedIDs, taskID)
	return f.deleteErr
}

func newTestExecutor(store *fakeStore) *Executor {
	e := NewExecutor(store, 2, time.Millisecond)
	e.now = func() time.Time {
		return time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	}
	return e
}

func TestQueryServerAndClientSideSplit(t *testing.T) {
	store := &fakeStore{tasks: []persist.Task{
		{ID: "a", DueDate: "2026-08-20", Status: "pending"},
		{ID: "b", DueDate: "2026-08-20", Status: "completed"},
		{ID: "c", DueDate: "2026-09-03", Status: "pending"},
		{ID: "d", Status: "pending"},
	}}
	e := newTestExecutor(store)

	res, err := e.Query(context.Background(), &protocol.QueryFilters{Status: "all", TimeRange: "overdue"}, "u1")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if res.Count != 1 || res.Tasks[0].ID != "a" {
		t.Fatalf("overdue filter kept %+v, want only task a", res.Tasks)
	}
	// Relative ranges never reach the server.
	if store.listFilters[0].DueDate != "" {
		t.Fatalf("overdue was forwarded server-side: %+v", store.listFilters[0])
	}
}

func TestQueryTodayResolvesToExactDueDate(t *testing.T) {
	store := &fakeStore{}
	e := newTestExecutor(store)

	if _, err := e.Query(context.Background(), &protocol.QueryFilters{TimeRange: "today"}, "u1"); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got := store.listFilters[0].DueDate; got != "2026-09-01" {
		t.Fatalf("due_date = %q, want 2026-09-01", got)
	}
}

func TestQueryThisWeekClientSide(t *testing.T) {
	store := &fakeStore{tasks: []persist.Task{
		{ID: "in", DueDate: "2026-09-05"},
		{ID: "out", DueDate: "2026-09-20"},
		{ID: "past", DueDate: "2026-08-30"},
	}}
	e := newTestExecutor(store)

	res, err := e.Query(context.Background(), &protocol.QueryFilters{TimeRange: "this_week"}, "u1")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if res.Count != 1 || res.Tasks[0].ID != "in" {
		t.Fatalf("this_week kept %+v", res.Tasks)
	}
}

func TestUpdateMultiFieldSingleCall(t *testing.T) {
	store := &fakeStore{}
	e := newTestExecutor(store)

	plan := &protocol.TaskOperationPlan{
		Operation:   "update",
		TargetTasks: []protocol.TargetTask{{ID: "t1", Title: "họp team"}},
		UpdateData: &protocol.UpdateData{
			Fields: map[string]string{"due_date": "2026-09-02", "due_time": "14:00"},
		},
	}
	res, err := e.Update(context.Background(), plan)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("Success = false")
	}
	if len(store.updateCalls) != 1 {
		t.Fatalf("update calls = %d, want 1", len(store.updateCalls))
	}
	body := store.updateCalls[0]
	if body["dueDate"] != "2026-09-02" || body["dueTime"] != "14:00" {
		t.Fatalf("translated body = %v", body)
	}
	if _, ok := body["due_date"]; ok {
		t.Fatalf("snake_case leaked into remote payload: %v", body)
	}
}

func TestUpdateCompletedStampsTimestamp(t *testing.T) {
	store := &fakeStore{}
	e := newTestExecutor(store)

	plan := &protocol.TaskOperationPlan{
		Operation:   "update",
		TargetTasks: []protocol.TargetTask{{ID: "t1"}},
		UpdateData:  &protocol.UpdateData{Field: "status", NewValue: "completed"},
	}
	if _, err := e.Update(context.Background(), plan); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	body := store.updateCalls[0]
	if body["status"] != "completed" {
		t.Fatalf("status = %v", body["status"])
	}
	if body["completedAt"] != "2026-09-01T10:00:00Z" {
		t.Fatalf("completedAt = %v", body["completedAt"])
	}
}

func TestUpdateRetriesTransientOnly(t *testing.T) {
	transient := fmt.Errorf("send request: %w", syscall.ECONNRESET)
	store := &fakeStore{updateErrs: []error{transient, transient, nil}}
	e := newTestExecutor(store)

	plan := &protocol.TaskOperationPlan{
		Operation:   "update",
		TargetTasks: []protocol.TargetTask{{ID: "t1"}},
		UpdateData:  &protocol.UpdateData{Field: "priority", NewValue: "urgent"},
	}
	res, err := e.Update(context.Background(), plan)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !res.Success || len(store.updateCalls) != 3 {
		t.Fatalf("calls = %d, want 3 (two retries then success)", len(store.updateCalls))
	}
}

func TestUpdateDoesNotRetryValidationErrors(t *testing.T) {
	store := &fakeStore{updateErrs: []error{&persist.StatusError{Code: 422, Body: "bad field"}}}
	e := newTestExecutor(store)

	plan := &protocol.TaskOperationPlan{
		Operation:   "update",
		TargetTasks: []protocol.TargetTask{{ID: "t1"}},
		UpdateData:  &protocol.UpdateData{Field: "priority", NewValue: "urgent"},
	}
	if _, err := e.Update(context.Background(), plan); err == nil {
		t.Fatalf("expected error")
	}
	if len(store.updateCalls) != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 4xx)", len(store.updateCalls))
	}
}

func TestMarkCompleteWarnsButProceedsOnOddID(t *testing.T) {
	store := &fakeStore{}
	e := newTestExecutor(store)

	res, err := e.MarkComplete(context.Background(), []protocol.TargetTask{{ID: "not-an-object-id", Title: "x"}})
	if err != nil {
		t.Fatalf("MarkComplete() error = %v", err)
	}
	if !res.Success || len(store.completeIDs) != 1 {
		t.Fatalf("complete calls = %d, want 1", len(store.completeIDs))
	}
}

func TestDeletePerformsNoSafetyCheck(t *testing.T) {
	store := &fakeStore{}
	e := newTestExecutor(store)

	res, err := e.Delete(context.Background(), []protocol.TargetTask{{ID: "a"}, {ID: "b"}})
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if res.Count != 2 || len(store.deletedIDs) != 2 {
		t.Fatalf("deleted = %v", store.deletedIDs)
	}
}

func TestStatsLocalAggregation(t *testing.T) {
	store := &fakeStore{tasks: []persist.Task{
		{Status: "completed", Priority: "high", Category: "work"},
		{Status: "completed", Priority: "low"},
		{Status: "pending", Priority: "high", Category: "work"},
		{Status: "in_progress", Category: "health"},
	}}
	e := newTestExecutor(store)

	res, err := e.Stats(context.Background(), nil, "u1")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	s := res.Stats
	if s.TotalTasks != 4 || s.Completed != 2 || s.Pending != 1 || s.InProgress != 1 {
		t.Fatalf("stats = %+v", s)
	}
	if s.ByPriority["high"] != 2 || s.ByCategory["work"] != 2 || s.ByCategory["other"] != 1 {
		t.Fatalf("breakdowns = %+v", s)
	}
	if s.CompletionRate != 50 {
		t.Fatalf("CompletionRate = %d, want 50", s.CompletionRate)
	}
}

func TestExecuteFoldsErrorsIntoEnvelope(t *testing.T) {
	store := &fakeStore{listErr: errors.New("store down")}
	e := newTestExecutor(store)

	res := e.Execute(context.Background(), &protocol.TaskOperationPlan{Operation: "query"}, "u1")
	if res.Success {
		t.Fatalf("Success = true, want false")
	}
	if res.Operation != "query" || res.Error == "" {
		t.Fatalf("envelope = %+v", res)
	}
}
