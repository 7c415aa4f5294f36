package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"FixedTime/internal/domain/repository"
	"FixedTime/pkg/logger"
)

var ErrWorkerNotFound = errors.New("worker not found")

// WorkerFactory builds the worker for a key. It is called once per start.
type WorkerFactory func(key WorkerKey) (*Worker, error)

// WorkerInfo is the listing view of a registered worker.
type WorkerInfo struct {
	Key            WorkerKey `json:"key"`
	Running        bool      `json:"running"`
	State          string    `json:"state"`
	ProcessedSlots int64     `json:"processed_slots"`
	LastStatus     string    `json:"last_status,omitempty"`
	LastReason     string    `json:"last_reason,omitempty"`
}

type workerHandle struct {
	w      *Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns the worker goroutines, one per key.
type Scheduler struct {
	factory    WorkerFactory
	configured []WorkerKey
	metrics    repository.Metrics
	log        *logger.Logger

	mu      sync.Mutex
	base    context.Context
	workers map[WorkerKey]*workerHandle
}

func NewScheduler(factory WorkerFactory, configured []WorkerKey, metrics repository.Metrics, log *logger.Logger) *Scheduler {
	return &Scheduler{
		factory:    factory,
		configured: configured,
		metrics:    metrics,
		log:        log,
		base:       context.Background(),
		workers:    make(map[WorkerKey]*workerHandle),
	}
}

// Bind makes ctx the parent of workers started from now on.
func (s *Scheduler) Bind(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()
}

// Run binds worker lifetimes to ctx and stops every worker when it is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.Bind(ctx)
	<-ctx.Done()
	s.StopAll()
}

// StartWorker starts the worker for key. Starting a running key is a no-op.
func (s *Scheduler) StartWorker(key WorkerKey) error {
	if !repository.IsValidTimeframe(key.Timeframe) {
		return fmt.Errorf("start worker %s: %w", key, repository.ErrInvalidTimeframe)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.workers[key]; ok && !isDone(h.done) {
		return nil
	}

	w, err := s.factory(key)
	if err != nil {
		return fmt.Errorf("start worker %s: %w", key, err)
	}
	ctx, cancel := context.WithCancel(s.base)
	h := &workerHandle{w: w, cancel: cancel, done: make(chan struct{})}
	s.workers[key] = h

	go func() {
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("worker crashed", logger.String("worker", key.String()), logger.Any("panic", r))
			}
		}()
		w.Run(ctx)
	}()

	s.metrics.SetActiveWorkers(s.activeLocked())
	return nil
}

// StopWorker cancels the worker and waits for its goroutine to exit.
func (s *Scheduler) StopWorker(key WorkerKey) error {
	s.mu.Lock()
	h, ok := s.workers[key]
	if ok {
		delete(s.workers, key)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("stop worker %s: %w", key, ErrWorkerNotFound)
	}

	h.cancel()
	<-h.done

	s.mu.Lock()
	s.metrics.SetActiveWorkers(s.activeLocked())
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) StopAll() {
	s.mu.Lock()
	handles := make([]*workerHandle, 0, len(s.workers))
	for k, h := range s.workers {
		handles = append(handles, h)
		delete(s.workers, k)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		<-h.done
	}
	s.metrics.SetActiveWorkers(0)
}

// StartConfigured starts every configured key and returns the first error, if any,
// after trying them all.
func (s *Scheduler) StartConfigured() error {
	var errs []error
	for _, key := range s.configured {
		if err := s.StartWorker(key); err != nil {
			s.log.Error("configured worker not started", logger.String("worker", key.String()), logger.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) IsRunning(key WorkerKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.workers[key]
	return ok && !isDone(h.done)
}

func (s *Scheduler) List() []WorkerInfo {
	s.mu.Lock()
	out := make([]WorkerInfo, 0, len(s.workers))
	for k, h := range s.workers {
		info := WorkerInfo{
			Key:            k,
			Running:        !isDone(h.done),
			State:          h.w.State(),
			ProcessedSlots: h.w.ProcessedSlots(),
		}
		if res, ok := h.w.LastResult(); ok {
			info.LastStatus = string(res.Status)
			info.LastReason = res.Reason
		}
		out = append(out, info)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

func (s *Scheduler) activeLocked() int {
	n := 0
	for _, h := range s.workers {
		if !isDone(h.done) {
			n++
		}
	}
	return n
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
