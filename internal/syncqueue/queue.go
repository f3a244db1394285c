package syncqueue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khoanguyen-dev/mai/internal/observability"
	"github.com/khoanguyen-dev/mai/internal/protocol"
	"github.com/khoanguyen-dev/mai/internal/reliability"
)

// Job is one conversation outcome awaiting delivery to the remote store.
type Job struct {
	ID          string                      `json:"id"`
	Type        string                      `json:"type"`
	UserInput   string                      `json:"userInput"`
	Parsed      protocol.ConversationResult `json:"parsed"`
	SessionID   string                      `json:"sessionId"`
	UserID      string                      `json:"userId"`
	Timestamp   time.Time                   `json:"timestamp"`
	Attempts    int                         `json:"attempts"`
	MaxAttempts int                         `json:"maxAttempts"`
}

// Deliverer sends one job to the remote persistence service.
type Deliverer interface {
	Deliver(ctx context.Context, job Job) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, job Job) error

func (f DelivererFunc) Deliver(ctx context.Context, job Job) error { return f(ctx, job) }

// Status is the queue's externally visible state.
type Status struct {
	QueueSize    int  `json:"queueSize"`
	IsProcessing bool `json:"isProcessing"`
}

type Config struct {
	MaxAttempts int
	RetryBase   time.Duration
	RetryCap    time.Duration
	JobGap      time.Duration
}

// Queue guarantees eventual at-least-once delivery of conversation
// outcomes while the user-facing response never waits on persistence.
// Jobs are drained FIFO by a single consumer goroutine; a failed job backs
// off and re-enters at the front so retries are prioritized over newer
// work, and after MaxAttempts it is dropped with a terminal log. There is
// no dead-letter store.
type Queue struct {
	deliverer Deliverer
	cfg       Config
	metrics   *observability.Metrics

	mu       sync.Mutex
	jobs     []Job
	draining bool
	closed   bool

	wg   sync.WaitGroup
	stop chan struct{}
}

func New(deliverer Deliverer, cfg Config, metrics *observability.Metrics) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = time.Minute
	}
	if cfg.JobGap < 0 {
		cfg.JobGap = 0
	}
	return &Queue{
		deliverer: deliverer,
		cfg:       cfg,
		metrics:   metrics,
		stop:      make(chan struct{}),
	}
}

// Submit attempts immediate delivery in the background and enqueues for
// retry only on failure. The caller has already answered the user before
// this runs; delivery failure is absorbed, never surfaced.
func (q *Queue) Submit(job Job) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		log.Printf("sync queue closed, dropping job type=%s session=%s", job.Type, job.SessionID)
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		prepared := q.prepare(job)
		if err := q.deliverer.Deliver(context.Background(), prepared); err != nil {
			log.Printf("immediate delivery failed for job %s, enqueueing: %v", prepared.ID, err)
			q.Enqueue(prepared)
			return
		}
		if q.metrics != nil {
			q.metrics.JobOutcomes.WithLabelValues("delivered").Inc()
		}
	}()
}

// Enqueue places a job at the back of the queue and starts a drain if one
// is not already in flight.
func (q *Queue) Enqueue(job Job) {
	job = q.prepare(job)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		log.Printf("sync queue closed, dropping job %s", job.ID)
		return
	}
	q.jobs = append(q.jobs, job)
	depth := len(q.jobs)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(depth))
	}
	log.Printf("job %s queued (type=%s, depth=%d)", job.ID, job.Type, depth)
	q.Kick()
}

// Kick starts the drain loop unless one is already running. Safe to call
// from anywhere, including the manual processing endpoint.
func (q *Queue) Kick() {
	q.mu.Lock()
	if q.draining || q.closed || len(q.jobs) == 0 {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.wg.Add(1)
	q.mu.Unlock()

	go q.drain()
}

func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 || q.closed {
			q.draining = false
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		depth := len(q.jobs)
		q.mu.Unlock()

		if q.metrics != nil {
			q.metrics.QueueDepth.Set(float64(depth))
		}

		err := q.deliverer.Deliver(context.Background(), job)
		if err == nil {
			log.Printf("job %s delivered (attempt %d/%d)", job.ID, job.Attempts+1, job.MaxAttempts)
			if q.metrics != nil {
				q.metrics.JobOutcomes.WithLabelValues("delivered").Inc()
			}
		} else {
			job.Attempts++
			if job.Attempts < job.MaxAttempts {
				// Back off, then re-enter at the front: the retried job is
				// attempted before any newer job.
				delay := reliability.ExponentialBackoff(job.Attempts, q.cfg.RetryBase, q.cfg.RetryCap)
				log.Printf("job %s failed (attempt %d/%d), retrying in %s: %v",
					job.ID, job.Attempts, job.MaxAttempts, delay, err)
				if q.metrics != nil {
					q.metrics.JobRetries.Inc()
				}
				if !q.sleep(delay) {
					q.requeueFront(job)
					return
				}
				q.requeueFront(job)
			} else {
				log.Printf("job %s permanently failed after %d attempts: %v", job.ID, job.Attempts, err)
				if q.metrics != nil {
					q.metrics.JobOutcomes.WithLabelValues("dropped").Inc()
				}
			}
		}

		if q.cfg.JobGap > 0 {
			if !q.sleep(q.cfg.JobGap) {
				q.mu.Lock()
				q.draining = false
				q.mu.Unlock()
				return
			}
		}
	}
}

// sleep waits for d, returning false when the queue is shutting down.
func (q *Queue) sleep(d time.Duration) bool {
	select {
	case <-q.stop:
		return false
	case <-time.After(d):
		return true
	}
}

func (q *Queue) requeueFront(job Job) {
	q.mu.Lock()
	q.jobs = append([]Job{job}, q.jobs...)
	depth := len(q.jobs)
	if q.closed {
		q.draining = false
	}
	q.mu.Unlock()
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(depth))
	}
}

func (q *Queue) prepare(job Job) Job {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Timestamp.IsZero() {
		job.Timestamp = time.Now().UTC()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.cfg.MaxAttempts
	}
	return job
}

func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{QueueSize: len(q.jobs), IsProcessing: q.draining}
}

// Close stops accepting work and waits for in-flight delivery, bounded by
// the given timeout. Jobs still queued at shutdown are lost; they were
// best-effort by contract.
func (q *Queue) Close(timeout time.Duration) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.stop)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Printf("sync queue close timed out after %s", timeout)
	}
}
