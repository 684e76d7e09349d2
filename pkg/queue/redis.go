package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"QuantEngine/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type resultKey struct{}

type resultSlot struct{ data json.RawMessage }

// SetResult attaches a result to the running job's status record.
func SetResult(ctx context.Context, v interface{}) {
	slot, ok := ctx.Value(resultKey{}).(*resultSlot)
	if !ok {
		return
	}
	if b, err := json.Marshal(v); err == nil {
		slot.data = b
	}
}

// RedisQueue is a Redis list backed job queue with delayed retries, a dead
// letter list and per-job status records.
type RedisQueue struct {
	logger    *logger.Logger
	config    QueueConfig
	client    *redis.Client
	jobs      map[string]Job
	mu        sync.RWMutex
	wg        sync.WaitGroup
	running   bool
	consume   bool
	cancel    context.CancelFunc
	keyPrefix string
}

type RedisQueueOption func(*RedisQueue)

func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) { r.keyPrefix = prefix }
}

// NewRedisQueue creates a queue. With no jobs registered it only produces.
func NewRedisQueue(lgr *logger.Logger, config QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 10 * time.Second
	}
	if config.StatusTTL <= 0 {
		config.StatusTTL = 24 * time.Hour
	}
	if lgr == nil {
		lgr = logger.NewNop()
	}
	rq := &RedisQueue{
		logger:    lgr.Component("queue"),
		config:    config,
		client:    client,
		jobs:      make(map[string]Job),
		keyPrefix: "quant:queue",
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

// RegisterJob routes messages of job.Type() to job and turns on consuming.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.consume = true
	r.logger.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

// Start pings Redis and starts workers and the retry processor.
func (r *RedisQueue) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("queue already running")
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(pctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	var runCtx context.Context
	runCtx, r.cancel = context.WithCancel(context.Background())
	r.running = true

	if !r.consume {
		r.logger.Info("redis publisher started", logger.String("addr", r.client.Options().Addr))
		return nil
	}
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(runCtx, i)
	}
	r.wg.Add(1)
	go r.retryProcessor(runCtx)
	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.String("addr", r.client.Options().Addr))
	return nil
}

// Stop cancels workers and waits for in-flight jobs or ctx.
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
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for queue workers: %w", ctx.Err())
	case <-done:
		r.logger.Info("redis queue stopped")
		return nil
	}
}

// Enqueue stores a message and its queued status, returning the job id.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	r.mu.RLock()
	running := r.running
	r.mu.RUnlock()
	if !running {
		return "", fmt.Errorf("queue not running")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{ID: uuid.NewString(), Type: msgType, Payload: raw, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	r.setStatus(ctx, JobStatus{ID: msg.ID, Type: msgType, State: StateQueued, UpdatedAt: msg.Timestamp})
	if err := r.client.LPush(ctx, r.queueKey(), data).Err(); err != nil {
		return "", fmt.Errorf("lpush: %w", err)
	}
	return msg.ID, nil
}

// Status returns the last recorded status of job id.
func (r *RedisQueue) Status(ctx context.Context, id string) (JobStatus, error) {
	data, err := r.client.Get(ctx, r.statusKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return JobStatus{}, ErrJobNotFound
		}
		return JobStatus{}, err
	}
	var st JobStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return JobStatus{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

var ErrJobNotFound = errors.New("job not found")

func (r *RedisQueue) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		result, err := r.client.BRPop(ctx, time.Second, r.queueKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			r.logger.Error("brpop error", logger.Int("worker_id", id), logger.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		if len(result) < 2 {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
			r.logger.Error("unmarshal message", logger.Error(err))
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
		r.logger.Error("no job found", logger.String("type", msg.Type), logger.String("id", msg.ID))
		return
	}

	r.setStatus(ctx, JobStatus{ID: msg.ID, Type: msg.Type, State: StateRunning, Attempts: msg.Attempts + 1, UpdatedAt: time.Now().UTC()})

	slot := &resultSlot{}
	start := time.Now()
	err := job.Handle(context.WithValue(ctx, resultKey{}, slot), msg.ID, msg.Payload)
	if err == nil {
		r.setStatus(ctx, JobStatus{ID: msg.ID, Type: msg.Type, State: StateSucceeded, Attempts: msg.Attempts + 1, Result: slot.data, UpdatedAt: time.Now().UTC()})
		r.logger.Info("job done", logger.String("id", msg.ID), logger.String("job", job.Name()), logger.Duration("elapsed_ms", time.Since(start)))
		return
	}
	if ctx.Err() != nil {
		// shutting down; leave the job for a retry after restart
		r.scheduleRetry(context.Background(), msg, time.Now())
		return
	}

	r.logger.Error("job failed",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	st := JobStatus{ID: msg.ID, Type: msg.Type, Attempts: msg.Attempts + 1, Error: err.Error(), UpdatedAt: time.Now().UTC()}
	st.State = outcome(msg, r.config.RetryLimit, err)
	r.setStatus(ctx, st)
	if st.State == StateRetrying {
		msg.Attempts++
		r.scheduleRetry(ctx, msg, time.Now().Add(r.config.RetryDelay))
		return
	}
	r.deadLetter(ctx, msg)
}

func (r *RedisQueue) setStatus(ctx context.Context, st JobStatus) {
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, r.statusKey(st.ID), data, r.config.StatusTTL).Err(); err != nil {
		r.logger.Warn("store job status", logger.String("id", st.ID), logger.Error(err))
	}
}

func (r *RedisQueue) scheduleRetry(ctx context.Context, msg Message, at time.Time) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := r.client.ZAdd(ctx, r.retryKey(), redis.Z{Score: float64(at.Unix()), Member: data}).Err(); err != nil {
		r.logger.Error("zadd retry", logger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := r.client.LPush(ctx, r.deadLetterKey(), data).Err(); err != nil {
		r.logger.Error("lpush dlq", logger.Error(err))
	}
}

func (r *RedisQueue) retryProcessor(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.promoteRetries(ctx)
		}
	}
}

// promoteRetries moves due retries back onto the main list.
func (r *RedisQueue) promoteRetries(ctx context.Context) {
	due, err := r.client.ZRangeByScore(ctx, r.retryKey(), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("fetch retry messages", logger.Error(err))
		}
		return
	}
	for _, data := range due {
		pipe := r.client.TxPipeline()
		pipe.ZRem(ctx, r.retryKey(), data)
		pipe.LPush(ctx, r.queueKey(), data)
		if _, err := pipe.Exec(ctx); err != nil {
			if ctx.Err() == nil {
				r.logger.Error("move retry to queue", logger.Error(err))
			}
			return
		}
	}
}

func (r *RedisQueue) queueKey() string           { return r.keyPrefix + ":messages" }
func (r *RedisQueue) retryKey() string           { return r.keyPrefix + ":retry" }
func (r *RedisQueue) deadLetterKey() string      { return r.keyPrefix + ":dlq" }
func (r *RedisQueue) statusKey(id string) string { return r.keyPrefix + ":status:" + id }
