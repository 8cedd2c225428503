package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/models"
	"github.com/bobmcallan/logsentry/internal/queue"
)

// kvWorker drains a Redis stream via a consumer group, modeled on the
// rule worker's XGroupCreateMkStream/XReadGroup/XAck loop. Three
// auxiliary loops run alongside the main consume loop: one promotes due
// scheduled jobs into the stream, one reclaims messages abandoned by a
// crashed consumer via XAutoClaim, and one prunes completed/failed
// records past their retention window.
type kvWorker struct {
	client     *redis.Client
	name       string
	process    queue.ProcessFunc
	logger     *common.Logger
	consumerID string

	onCompleted func(*models.Job)
	onFailed    func(*models.Job, error)
	onError     func(error)

	cancel context.CancelFunc
}

func (w *kvWorker) OnCompleted(fn func(job *models.Job))         { w.onCompleted = fn }
func (w *kvWorker) OnFailed(fn func(job *models.Job, err error)) { w.onFailed = fn }
func (w *kvWorker) OnError(fn func(err error))                   { w.onError = fn }

func (w *kvWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if err := w.ensureGroup(runCtx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	go w.schedulerLoop(runCtx)
	go w.reclaimLoop(runCtx)
	go w.pruneLoop(runCtx)
	w.consumeLoop(runCtx)
	return nil
}

func (w *kvWorker) ensureGroup(ctx context.Context) error {
	err := w.client.XGroupCreateMkStream(ctx, streamKey(w.name), consumerGroup, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return err
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// consumeLoop reads one job at a time from the stream and executes it.
// Reconnect attempts back off exponentially, capped at 30s, and only on
// transient errors — a malformed payload or processor error is not a
// connectivity problem and must not trigger a reconnect delay.
func (w *kvWorker) consumeLoop(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		results, err := w.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: w.consumerID,
			Streams:  []string{streamKey(w.name), ">"},
			Count:    1,
			Block:    2 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			if w.onError != nil {
				w.onError(err)
			}
			if isTransientRedisErr(err) {
				w.sleep(ctx, backoff)
				backoff = time.Duration(math.Min(float64(backoff*2), float64(maxBackoff)))
				continue
			}
			w.sleep(ctx, time.Second)
			continue
		}
		backoff = time.Second

		for _, stream := range results {
			for _, msg := range stream.Messages {
				w.handle(ctx, msg)
			}
		}
	}
}

func (w *kvWorker) handle(ctx context.Context, msg redis.XMessage) {
	raw, ok := msg.Values["job"].(string)
	if !ok {
		w.ack(ctx, msg.ID)
		if w.onError != nil {
			w.onError(fmt.Errorf("message %s missing job field", msg.ID))
		}
		return
	}

	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.ack(ctx, msg.ID)
		if w.onError != nil {
			w.onError(fmt.Errorf("unmarshal job %s: %w", msg.ID, err))
		}
		return
	}

	job.Attempts++
	job.Status = models.JobStatusRunning
	job.StartedAt = time.Now()

	start := time.Now()
	execErr := w.process(ctx, &job)
	job.DurationMS = time.Since(start).Milliseconds()

	if execErr == nil {
		job.Status = models.JobStatusCompleted
		job.CompletedAt = time.Now()
		w.ack(ctx, msg.ID)
		w.releaseDedupeKey(ctx, &job)
		w.recordTerminal(ctx, completedKey(w.name), &job, completedMaxAge, completedMaxCount)
		if w.onCompleted != nil {
			w.onCompleted(&job)
		}
		return
	}

	job.Error = execErr.Error()
	if job.Attempts < job.MaxAttempts {
		// Not terminal: a fail-then-succeed job must emit exactly one
		// completed event and no failed event, so onFailed does not fire
		// here.
		job.Status = models.JobStatusPending
		job.RunAt = time.Now().Add(backoffFor(job.Attempts))
		if err := w.requeue(ctx, &job); err != nil && w.onError != nil {
			w.onError(fmt.Errorf("requeue job %s: %w", job.ID, err))
		}
		w.ack(ctx, msg.ID)
		return
	}

	job.Status = models.JobStatusFailed
	job.CompletedAt = time.Now()
	w.ack(ctx, msg.ID)
	w.releaseDedupeKey(ctx, &job)
	w.recordTerminal(ctx, failedKey(w.name), &job, failedMaxAge, failedMaxCount)
	if w.onFailed != nil {
		w.onFailed(&job, execErr)
	}
}

// releaseDedupeKey frees job's dedupe key once it reaches a terminal state,
// so the key is available for a future live job with the same DedupeKey.
func (w *kvWorker) releaseDedupeKey(ctx context.Context, job *models.Job) {
	if job.DedupeKey == "" {
		return
	}
	if err := w.client.Del(ctx, dedupeKey(w.name, job.DedupeKey)).Err(); err != nil && w.onError != nil {
		w.onError(fmt.Errorf("release dedupe key for job %s: %w", job.ID, err))
	}
}

func backoffFor(attempts int) time.Duration {
	seconds := math.Min(math.Pow(2, float64(attempts)), 300)
	return time.Duration(seconds) * time.Second
}

func (w *kvWorker) ack(ctx context.Context, id string) {
	if err := w.client.XAck(ctx, streamKey(w.name), consumerGroup, id).Err(); err != nil && w.onError != nil {
		w.onError(fmt.Errorf("xack %s: %w", id, err))
	}
}

func (w *kvWorker) requeue(ctx context.Context, job *models.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.RunAt.After(time.Now()) {
		return w.client.ZAdd(ctx, scheduledKey(w.name), redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: body}).Err()
	}
	_, err = w.client.XAdd(ctx, &redis.XAddArgs{Stream: streamKey(w.name), Values: map[string]any{"job": body}}).Result()
	return err
}

// recordTerminal appends a completed/failed job to its retention ZSET,
// scored by completion time so pruneLoop can trim by age and count.
func (w *kvWorker) recordTerminal(ctx context.Context, key string, job *models.Job, _ time.Duration, _ int) {
	body, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := w.client.ZAdd(ctx, key, redis.Z{Score: float64(job.CompletedAt.UnixMilli()), Member: body}).Err(); err != nil && w.onError != nil {
		w.onError(fmt.Errorf("record terminal job %s: %w", job.ID, err))
	}
}

// schedulerLoop promotes scheduled jobs whose run_at has passed into the
// live stream.
func (w *kvWorker) schedulerLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.promoteDue(ctx)
		}
	}
}

func (w *kvWorker) promoteDue(ctx context.Context) {
	now := float64(time.Now().UnixMilli())
	due, err := w.client.ZRangeByScore(ctx, scheduledKey(w.name), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now), Count: 100}).Result()
	if err != nil {
		if w.onError != nil && isTransientRedisErr(err) {
			w.onError(err)
		}
		return
	}
	for _, body := range due {
		if _, err := w.client.XAdd(ctx, &redis.XAddArgs{Stream: streamKey(w.name), Values: map[string]any{"job": body}}).Result(); err != nil {
			if w.onError != nil {
				w.onError(err)
			}
			continue
		}
		w.client.ZRem(ctx, scheduledKey(w.name), body)
	}
}

// reclaimLoop re-delivers messages whose consumer has held them past
// idleClaimAfter without acking, recovering from a crashed worker
// process.
func (w *kvWorker) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(idleClaimAfter)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _, err := w.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   streamKey(w.name),
				Group:    consumerGroup,
				Consumer: w.consumerID,
				MinIdle:  idleClaimAfter,
				Start:    "0",
				Count:    50,
			}).Result()
			if err != nil && err != redis.Nil && w.onError != nil && isTransientRedisErr(err) {
				w.onError(err)
			}
		}
	}
}

// pruneLoop trims the completed/failed retention sets by age and count.
func (w *kvWorker) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.prune(ctx, completedKey(w.name), completedMaxAge, completedMaxCount)
			w.prune(ctx, failedKey(w.name), failedMaxAge, failedMaxCount)
		}
	}
}

func (w *kvWorker) prune(ctx context.Context, key string, maxAge time.Duration, maxCount int) {
	cutoff := float64(time.Now().Add(-maxAge).UnixMilli())
	w.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", cutoff))
	w.client.ZRemRangeByRank(ctx, key, 0, int64(-maxCount-1))
}

func (w *kvWorker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (w *kvWorker) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	return nil
}
