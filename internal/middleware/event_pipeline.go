package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FixedTime/internal/domain/models"
	domrepo "FixedTime/internal/domain/repository"
	"FixedTime/pkg/logger"
)

// Sink receives decision events from the pipeline.
type Sink interface {
	Publish(ctx context.Context, ev models.DecisionEvent) error
}

type namedSink struct {
	name string
	sink Sink
}

// EventPipeline sits between the executor and the event sinks. Publish never
// blocks the caller: events go into a bounded buffer and are dropped with a
// metric when the buffer is full. A single goroutine delivers to every sink in
// registration order, so each sink sees events in publish order.
type EventPipeline struct {
	log         *logger.Logger
	metrics     domrepo.Metrics
	sinks       []namedSink
	bufSize     int
	sinkTimeout time.Duration

	ch      chan models.DecisionEvent
	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
	dropped uint64
}

type PipelineOption func(*EventPipeline)

func WithBufferSize(n int) PipelineOption {
	return func(p *EventPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithSinkTimeout bounds each sink call.
func WithSinkTimeout(d time.Duration) PipelineOption {
	return func(p *EventPipeline) {
		if d > 0 {
			p.sinkTimeout = d
		}
	}
}

func WithSink(name string, s Sink) PipelineOption {
	return func(p *EventPipeline) {
		if s != nil {
			p.sinks = append(p.sinks, namedSink{name: name, sink: s})
		}
	}
}

func NewEventPipeline(log *logger.Logger, metrics domrepo.Metrics, opts ...PipelineOption) *EventPipeline {
	p := &EventPipeline{
		log:         log,
		metrics:     metrics,
		bufSize:     1024,
		sinkTimeout: 2 * time.Second,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ch = make(chan models.DecisionEvent, p.bufSize)
	return p
}

// AddSink registers s. It must be called before Start.
func (p *EventPipeline) AddSink(name string, s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || s == nil {
		return
	}
	p.sinks = append(p.sinks, namedSink{name: name, sink: s})
}

func (p *EventPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.run(ctx)
}

func (p *EventPipeline) run(ctx context.Context) {
	defer close(p.done)
	for ev := range p.ch {
		p.deliver(ctx, ev)
	}
}

func (p *EventPipeline) deliver(ctx context.Context, ev models.DecisionEvent) {
	for _, s := range p.sinks {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.sinkTimeout)
		err := safePublish(sctx, s.sink, ev)
		cancel()
		if err != nil {
			p.metrics.RecordError("event_sink_" + s.name)
			p.log.Warn("event sink failed",
				logger.String("sink", s.name),
				logger.String("kind", ev.Kind),
				logger.Error(err))
		}
	}
}

func safePublish(ctx context.Context, s Sink, ev models.DecisionEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return s.Publish(ctx, ev)
}

// Publish enqueues ev. It returns ErrPipelineFull when the event was dropped.
func (p *EventPipeline) Publish(_ context.Context, ev models.DecisionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPipelineClosed
	}
	select {
	case p.ch <- ev:
		return nil
	default:
		p.dropped++
		p.metrics.RecordError("event_pipeline_drop")
		return ErrPipelineFull
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (p *EventPipeline) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close stops intake and waits until buffered events are delivered or ctx ends.
func (p *EventPipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	close(p.ch)
	p.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event pipeline drain: %w", ctx.Err())
	}
}

var (
	ErrPipelineFull   = errors.New("event pipeline full")
	ErrPipelineClosed = errors.New("event pipeline closed")
)
