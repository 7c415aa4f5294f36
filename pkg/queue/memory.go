package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FixedTime/pkg/logger"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process queue with the same retry semantics as RedisQueue.
// Messages do not survive a restart.
type MemoryQueue struct {
	logger *logger.Logger
	cfg    Config
	jobs   map[string]Job
	ch     chan Message
	dead   []Message

	mu      sync.Mutex
	wg      sync.WaitGroup
	running bool
	cancel  context.CancelFunc
}

func NewMemoryQueue(lgr *logger.Logger, cfg Config) *MemoryQueue {
	cfg.normalize()
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &MemoryQueue{
		logger: lgr,
		cfg:    cfg,
		jobs:   make(map[string]Job),
		ch:     make(chan Message, cfg.QueueSize),
	}
}

func (q *MemoryQueue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.Type()] = job
}

func (q *MemoryQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return errors.New("queue already running")
	}
	ctx, q.cancel = context.WithCancel(ctx)
	q.running = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	return nil
}

func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout: %w", ctx.Err())
	}
}

func (q *MemoryQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	q.mu.Lock()
	_, ok := q.jobs[msgType]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("no job registered for type: %s", msgType)
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return err
	}
	msg := Message{ID: uuid.NewString(), Type: msgType, Payload: raw, Timestamp: time.Now()}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("queue full")
	}
}

// DeadLetters returns messages that exhausted their retries.
func (q *MemoryQueue) DeadLetters() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.dead...)
}

func (q *MemoryQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q.ch:
			q.process(ctx, msg)
		}
	}
}

func (q *MemoryQueue) process(ctx context.Context, msg Message) {
	q.mu.Lock()
	job := q.jobs[msg.Type]
	q.mu.Unlock()

	err := job.Handle(ctx, msg.Payload)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	q.logger.Warn("job failed",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	if msg.Attempts >= q.cfg.RetryLimit {
		q.mu.Lock()
		q.dead = append(q.dead, msg)
		q.mu.Unlock()
		return
	}
	msg.Attempts++
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		t := time.NewTimer(q.cfg.RetryDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			select {
			case q.ch <- msg:
			case <-ctx.Done():
			}
		}
	}()
}
