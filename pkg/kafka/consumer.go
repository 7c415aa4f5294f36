package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FixedTime/pkg/logger"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
)

// MessageHandler handles messages from one topic.
type MessageHandler interface {
	Topic() string
	Handle(ctx context.Context, data []byte) error
}

// Consumer reads registered topics in a consumer group and dispatches to a
// worker pool. Offsets are committed after success or after dead-lettering.
type Consumer struct {
	cfg      ConsumerConfig
	log      *logger.Logger
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	dlq      *kafka.Writer
	hook     ConsumerHook

	msgs     chan kafka.Message
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func NewConsumer(lgr *logger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := ConsumerConfig{
		GroupID:     "fixedtime",
		WorkerCount: 1,
		BufferSize:  16,
		RetryMax:    3,
		BackoffMin:  100 * time.Millisecond,
		BackoffMax:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers are required")
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	initMetrics()

	c := &Consumer{
		cfg:      cfg,
		log:      lgr,
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
		hook:     NoopHook{},
		msgs:     make(chan kafka.Message, cfg.BufferSize),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, ok := c.handlers[h.Topic()]; ok {
		c.log.Warn("kafka handler already registered", logger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

// SetHook installs lifecycle hooks. Call before Start.
func (c *Consumer) SetHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return errors.New("kafka: no handlers registered")
	}
	ctx, c.cancel = context.WithCancel(ctx)

	for topic := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 1 << 20,
		})
		c.readers[topic] = r
		c.wg.Add(1)
		go c.read(ctx, r)
	}
	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.wg.Add(1)
		go c.work(ctx)
	}
	c.log.Info("kafka consumer started",
		logger.Int("topics", len(c.readers)),
		logger.Int("workers", c.cfg.WorkerCount),
		logger.String("group", c.cfg.GroupID))
	return nil
}

func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("timeout waiting for consumer: %w", ctx.Err())
		}
		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("close reader", logger.String("topic", topic), logger.Error(cerr))
			}
		}
		if c.dlq != nil {
			_ = c.dlq.Close()
		}
	})
	return err
}

func (c *Consumer) read(ctx context.Context, r *kafka.Reader) {
	defer c.wg.Done()
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("kafka fetch failed", logger.String("topic", r.Config().Topic), logger.Error(err))
			continue
		}
		select {
		case c.msgs <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) work(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.msgs:
			c.dispatch(ctx, m)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, m kafka.Message) {
	h, ok := c.handlers[m.Topic]
	if !ok {
		return
	}
	start := time.Now()
	err := c.handleWithRetry(ctx, h, m)
	handleLatency.WithLabelValues(m.Topic).Observe(time.Since(start).Seconds())
	consumedTotal.WithLabelValues(m.Topic, resultLabel(err)).Inc()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Error("kafka handler failed",
			logger.String("topic", m.Topic),
			logger.Int64("offset", m.Offset),
			logger.Error(err))
		if !c.deadLetter(ctx, m) {
			return
		}
	}
	if r := c.readers[m.Topic]; r != nil {
		if cerr := r.CommitMessages(ctx, m); cerr != nil && ctx.Err() == nil {
			c.log.Warn("kafka commit failed", logger.String("topic", m.Topic), logger.Error(cerr))
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, h MessageHandler, m kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	b := retry.WithMaxRetries(c.cfg.RetryMax,
		retry.WithCappedDuration(c.cfg.BackoffMax, retry.WithJitterPercent(20, retry.NewExponential(c.cfg.BackoffMin))))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		hctx, data, herr := c.hook.BeforeHandle(ctx, m.Topic, m.Value)
		if herr != nil {
			return herr
		}
		herr = h.Handle(hctx, data)
		c.hook.AfterHandle(hctx, m.Topic, data, herr)
		if herr == nil || IsPermanent(herr) {
			return herr
		}
		return retry.RetryableError(herr)
	})
}

// deadLetter reports whether the message may be committed.
func (c *Consumer) deadLetter(ctx context.Context, m kafka.Message) bool {
	if c.dlq == nil {
		return true
	}
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: append(m.Headers, kafka.Header{Key: "source_topic", Value: []byte(m.Topic)}),
	})
	if err != nil {
		c.log.Error("kafka dead letter failed", logger.String("topic", c.cfg.DLQTopic), logger.Error(err))
		return false
	}
	deadLetterTotal.WithLabelValues(m.Topic).Inc()
	return true
}
