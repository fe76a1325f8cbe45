package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vantagehq/eventcore/internal/metrics"
)

// MemoryConfig holds configuration for the in-process queue.
type MemoryConfig struct {
	// Workers is the number of concurrent worker goroutines per queue
	// (default: 4).
	Workers int

	// PollInterval is how often idle workers check for ready jobs
	// (default: 100ms).
	PollInterval time.Duration

	// DefaultPolicy applies to jobs enqueued without an explicit
	// retry policy.
	DefaultPolicy RetryPolicy
}

// Memory is an in-process Queue. Jobs are delivered at-least-once:
// a handler error reschedules the job with backoff until the attempt
// budget is exhausted, at which point the permanent-failure callbacks
// run. Duplicate job ids are dropped while the original is in flight.
type Memory struct {
	cfg MemoryConfig

	mu     sync.Mutex
	queues map[string]*memQueue
	seq    uint64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

type memQueue struct {
	name      string
	waiting   jobHeap
	delayed   []*memJob
	ids       map[string]struct{}
	handlers  map[string]Handler
	onFailure []FailureHandler
	paused    bool
	active    int
	completed int
	failed    int
}

type memJob struct {
	job     Job
	queue   string
	policy  RetryPolicy
	readyAt time.Time
	seq     uint64
}

// NewMemory creates an in-process queue.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.DefaultPolicy.MaxAttempts == 0 {
		cfg.DefaultPolicy.MaxAttempts = 3
	}
	if cfg.DefaultPolicy.BaseDelay == 0 {
		cfg.DefaultPolicy.BaseDelay = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Memory{
		cfg:    cfg,
		queues: make(map[string]*memQueue),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches worker goroutines for every registered queue.
func (m *Memory) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true

	for name := range m.queues {
		for i := 0; i < m.cfg.Workers; i++ {
			m.wg.Add(1)
			go m.workerLoop(name)
		}
	}

	log.Info().
		Int("workers", m.cfg.Workers).
		Int("queues", len(m.queues)).
		Msg("Queue workers started")
}

// Stop shuts down all workers and waits for in-flight jobs.
func (m *Memory) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Enqueue implements Queue.
func (m *Memory) Enqueue(ctx context.Context, queue, name string, payload []byte, opts Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-m.ctx.Done():
		return ErrQueueStopped
	default:
	}

	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	policy := m.mergePolicy(opts.Policy)

	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(queue)

	if _, dup := q.ids[jobID]; dup {
		log.Debug().
			Str("queue", queue).
			Str("job_id", jobID).
			Msg("Duplicate job id, dropping enqueue")
		return nil
	}

	m.seq++
	mj := &memJob{
		job: Job{
			ID:          jobID,
			Name:        name,
			Payload:     payload,
			Priority:    opts.Priority,
			Attempt:     1,
			MaxAttempts: policy.MaxAttempts,
			EnqueuedAt:  time.Now().UTC(),
		},
		queue:  queue,
		policy: policy,
		seq:    m.seq,
	}

	q.ids[jobID] = struct{}{}

	if opts.Delay > 0 {
		mj.readyAt = time.Now().Add(opts.Delay)
		q.delayed = append(q.delayed, mj)
	} else {
		heap.Push(&q.waiting, mj)
	}

	return nil
}

// RegisterHandler implements Queue.
func (m *Memory) RegisterHandler(queue, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue(queue).handlers[name] = handler
}

// OnPermanentFailure implements Queue.
func (m *Memory) OnPermanentFailure(queue string, fn FailureHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queue)
	q.onFailure = append(q.onFailure, fn)
}

// Pause implements Queue.
func (m *Memory) Pause(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue(queue).paused = true
}

// Resume implements Queue.
func (m *Memory) Resume(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue(queue).paused = false
}

// Drain implements Queue. Waiting and delayed jobs are discarded;
// active jobs run to completion.
func (m *Memory) Drain(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(queue)
	for _, mj := range q.waiting {
		delete(q.ids, mj.job.ID)
	}
	for _, mj := range q.delayed {
		delete(q.ids, mj.job.ID)
	}
	q.waiting = q.waiting[:0]
	q.delayed = q.delayed[:0]
}

// Counts implements Queue.
func (m *Memory) Counts(queue string) Counts {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(queue)
	return Counts{
		Waiting:   len(q.waiting),
		Active:    q.active,
		Completed: q.completed,
		Failed:    q.failed,
		Delayed:   len(q.delayed),
	}
}

// ProcessOnce synchronously runs at most one ready job on the queue.
// It exists for tests and for callers that drive the queue manually
// instead of via Start. Returns true if a job was processed.
func (m *Memory) ProcessOnce(queue string) bool {
	mj, handler := m.dequeue(queue)
	if mj == nil {
		return false
	}
	m.execute(mj, handler)
	return true
}

func (m *Memory) queue(name string) *memQueue {
	q, ok := m.queues[name]
	if !ok {
		q = &memQueue{
			name:     name,
			ids:      make(map[string]struct{}),
			handlers: make(map[string]Handler),
		}
		m.queues[name] = q
	}
	return q
}

func (m *Memory) mergePolicy(p RetryPolicy) RetryPolicy {
	def := m.cfg.DefaultPolicy
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BackoffKind == "" {
		p.BackoffKind = def.BackoffKind
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

func (m *Memory) workerLoop(queue string) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			// Drain everything that is ready before sleeping again.
			for {
				mj, handler := m.dequeue(queue)
				if mj == nil {
					break
				}
				m.execute(mj, handler)
				if m.ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// dequeue promotes due delayed jobs and pops the highest-priority ready
// job, marking it active. Returns nil when nothing is ready.
func (m *Memory) dequeue(queue string) (*memJob, Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(queue)
	if q.paused {
		return nil, nil
	}

	now := time.Now()
	remaining := q.delayed[:0]
	for _, mj := range q.delayed {
		if !mj.readyAt.After(now) {
			heap.Push(&q.waiting, mj)
		} else {
			remaining = append(remaining, mj)
		}
	}
	q.delayed = remaining

	if q.waiting.Len() == 0 {
		return nil, nil
	}

	mj := heap.Pop(&q.waiting).(*memJob)
	handler, ok := q.handlers[mj.job.Name]
	if !ok {
		// No handler registered: count as failed so the job is not
		// silently lost.
		q.failed++
		delete(q.ids, mj.job.ID)
		log.Error().
			Str("queue", queue).
			Str("job", mj.job.Name).
			Msg("No handler registered for job")
		return nil, nil
	}

	q.active++
	return mj, handler
}

func (m *Memory) execute(mj *memJob, handler Handler) {
	jobCopy := mj.job
	err := handler(m.ctx, &jobCopy)

	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(mj.queue)
	q.active--

	if err == nil {
		q.completed++
		delete(q.ids, mj.job.ID)
		metrics.QueueJobFinished(mj.queue, "completed")
		return
	}

	if mj.job.Attempt >= mj.policy.MaxAttempts {
		q.failed++
		delete(q.ids, mj.job.ID)
		metrics.QueueJobFinished(mj.queue, "failed")

		log.Warn().
			Err(err).
			Str("queue", mj.queue).
			Str("job_id", mj.job.ID).
			Int("attempts", mj.job.Attempt).
			Msg("Job exhausted retry budget")

		failed := mj.job
		callbacks := append([]FailureHandler(nil), q.onFailure...)

		// Callbacks run outside the lock; they may call back into the
		// queue.
		m.mu.Unlock()
		for _, fn := range callbacks {
			fn(&failed, err)
		}
		m.mu.Lock()
		return
	}

	delay := StrategyFor(mj.policy).Delay(mj.job.Attempt)
	mj.job.Attempt++
	mj.readyAt = time.Now().Add(delay)
	q.delayed = append(q.delayed, mj)

	log.Debug().
		Err(err).
		Str("queue", mj.queue).
		Str("job_id", mj.job.ID).
		Int("next_attempt", mj.job.Attempt).
		Dur("delay", delay).
		Msg("Job scheduled for retry")
}

// jobHeap orders jobs by priority (descending), then enqueue order.
type jobHeap []*memJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) {
	*h = append(*h, x.(*memJob))
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	mj := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return mj
}
