package syncqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingDeliverer struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]int // job ID -> number of failures before success
}

func (d *recordingDeliverer) Deliver(ctx context.Context, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, job.ID)
	if d.fail[job.ID] > 0 {
		d.fail[job.ID]--
		return errors.New("store unavailable")
	}
	return nil
}

func (d *recordingDeliverer) callSeq() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

func testConfig() Config {
	return Config{
		MaxAttempts: 3,
		RetryBase:   5 * time.Millisecond,
		RetryCap:    20 * time.Millisecond,
		JobGap:      time.Millisecond,
	}
}

func waitDrained(t *testing.T, q *Queue) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := q.Status()
		if st.QueueSize == 0 && !st.IsProcessing {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("queue did not drain: %+v", q.Status())
}

func TestEnqueueDrainsFIFO(t *testing.T) {
	d := &recordingDeliverer{}
	q := New(d, testConfig(), nil)
	defer q.Close(time.Second)

	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(Job{ID: id, Type: "task_action"})
	}
	waitDrained(t, q)

	got := d.callSeq()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestFailedJobRetriesBeforeLaterJobs(t *testing.T) {
	d := &recordingDeliverer{fail: map[string]int{"first": 1}}
	q := New(d, testConfig(), nil)
	defer q.Close(time.Second)

	q.Enqueue(Job{ID: "first"})
	q.Enqueue(Job{ID: "second"})
	waitDrained(t, q)

	got := d.callSeq()
	want := []string{"first", "first", "second"}
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestJobDroppedAfterMaxAttempts(t *testing.T) {
	d := &recordingDeliverer{fail: map[string]int{"doomed": 99}}
	q := New(d, testConfig(), nil)
	defer q.Close(time.Second)

	q.Enqueue(Job{ID: "doomed"})
	waitDrained(t, q)

	if got := len(d.callSeq()); got != 3 {
		t.Fatalf("delivery attempts = %d, want 3", got)
	}
	// Drained queue must not retain the dropped job.
	if st := q.Status(); st.QueueSize != 0 {
		t.Fatalf("queue size = %d after terminal drop, want 0", st.QueueSize)
	}
}

func TestSubmitEnqueuesOnlyOnFailure(t *testing.T) {
	var mu sync.Mutex
	var enqueued []Job
	fails := 1
	d := DelivererFunc(func(ctx context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		if fails > 0 {
			fails--
			enqueued = append(enqueued, job)
			return errors.New("store unavailable")
		}
		return nil
	})
	q := New(d, testConfig(), nil)
	defer q.Close(time.Second)

	q.Submit(Job{Type: "task_action", SessionID: "s1"})
	waitDrained(t, q)

	mu.Lock()
	defer mu.Unlock()
	if len(enqueued) != 1 {
		t.Fatalf("failed deliveries = %d, want 1", len(enqueued))
	}
	if enqueued[0].Attempts != 0 {
		t.Fatalf("job entered queue with attempts = %d, want 0", enqueued[0].Attempts)
	}
	if enqueued[0].ID == "" {
		t.Fatalf("submitted job was not assigned an ID")
	}
}

func TestSubmitSuccessLeavesQueueEmpty(t *testing.T) {
	d := &recordingDeliverer{}
	q := New(d, testConfig(), nil)
	defer q.Close(time.Second)

	q.Submit(Job{ID: "ok"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(d.callSeq()) == 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if got := len(d.callSeq()); got != 1 {
		t.Fatalf("deliveries = %d, want 1", got)
	}
	if st := q.Status(); st.QueueSize != 0 {
		t.Fatalf("queue size = %d, want 0", st.QueueSize)
	}
}

func TestCloseRejectsNewWork(t *testing.T) {
	d := &recordingDeliverer{}
	q := New(d, testConfig(), nil)
	q.Close(time.Second)

	q.Enqueue(Job{ID: "late"})
	q.Submit(Job{ID: "later"})
	time.Sleep(10 * time.Millisecond)

	if got := len(d.callSeq()); got != 0 {
		t.Fatalf("deliveries after close = %d, want 0", got)
	}
}
