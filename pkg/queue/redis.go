package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"FixedTime/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps pending messages in a list, delayed retries in a sorted set
// scored by due time, and exhausted messages in a dead-letter list.
type RedisQueue struct {
	logger    *logger.Logger
	cfg       Config
	client    redis.UniversalClient
	keyPrefix string
	pollEvery time.Duration

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type RedisOption func(*RedisQueue)

func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.keyPrefix = prefix
		}
	}
}

// WithRetryPoll sets how often due retries are moved back to the main list.
func WithRetryPoll(d time.Duration) RedisOption {
	return func(r *RedisQueue) {
		if d > 0 {
			r.pollEvery = d
		}
	}
}

func NewRedisQueue(lgr *logger.Logger, cfg Config, client redis.UniversalClient, opts ...RedisOption) *RedisQueue {
	cfg.normalize()
	if lgr == nil {
		lgr = logger.Nop()
	}
	q := &RedisQueue{
		logger:    lgr,
		cfg:       cfg,
		client:    client,
		keyPrefix: "fixedtime:jobs",
		pollEvery: 5 * time.Second,
		jobs:      make(map[string]Job),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
}

// Start pings redis and launches the workers and the retry mover.
func (r *RedisQueue) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
	r.wg.Add(1)
	go r.retryLoop(ctx)

	r.logger.Info("job queue started",
		logger.Int("workers", r.cfg.Workers),
		logger.String("prefix", r.keyPrefix))
	return nil
}

func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	}
}

// PublishMessage enqueues payload. Publishing works whether or not this
// process runs consumers.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	raw, err := encodePayload(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.pendingKey(), data).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// Depth returns the pending, retry and dead-letter sizes.
func (r *RedisQueue) Depth(ctx context.Context) (pending, retry, dead int64, err error) {
	pipe := r.client.Pipeline()
	p := pipe.LLen(ctx, r.pendingKey())
	rt := pipe.ZCard(ctx, r.retryKey())
	d := pipe.LLen(ctx, r.deadKey())
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return p.Val(), rt.Val(), d.Val(), nil
}

func (r *RedisQueue) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		res, err := r.client.BRPop(ctx, time.Second, r.pendingKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			r.logger.Error("brpop failed", logger.Int("worker_id", id), logger.Error(err))
			sleepCtx(ctx, time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.logger.Error("drop malformed message", logger.Error(err))
			continue
		}
		r.process(ctx, msg)
	}
}

func (r *RedisQueue) process(ctx context.Context, msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("no job registered", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.push(ctx, r.deadKey(), msg)
		return
	}

	err := job.Handle(ctx, msg.Payload)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	r.logger.Warn("job failed",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	if msg.Attempts >= r.cfg.RetryLimit {
		r.logger.Error("job exhausted retries", logger.String("id", msg.ID), logger.String("job", job.Name()))
		r.push(ctx, r.deadKey(), msg)
		return
	}
	msg.Attempts++
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	due := time.Now().Add(r.cfg.RetryDelay)
	if err := r.client.ZAdd(ctx, r.retryKey(), redis.Z{Score: float64(due.Unix()), Member: data}).Err(); err != nil {
		r.logger.Error("schedule retry", logger.Error(err))
	}
}

func (r *RedisQueue) push(ctx context.Context, key string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := r.client.LPush(ctx, key, data).Err(); err != nil {
		r.logger.Error("lpush failed", logger.String("key", key), logger.Error(err))
	}
}

func (r *RedisQueue) retryLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.moveDue(ctx)
		}
	}
}

func (r *RedisQueue) moveDue(ctx context.Context) {
	due, err := r.client.ZRangeByScore(ctx, r.retryKey(), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("fetch due retries", logger.Error(err))
		}
		return
	}
	for _, member := range due {
		pipe := r.client.TxPipeline()
		pipe.ZRem(ctx, r.retryKey(), member)
		pipe.LPush(ctx, r.pendingKey(), member)
		if _, err := pipe.Exec(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("requeue retry", logger.Error(err))
		}
	}
}

func (r *RedisQueue) pendingKey() string { return r.keyPrefix + ":pending" }
func (r *RedisQueue) retryKey() string   { return r.keyPrefix + ":retry" }
func (r *RedisQueue) deadKey() string    { return r.keyPrefix + ":dead" }

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
