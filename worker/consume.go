package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/segmentio/kafka-go"

	"weather-postcard/internal/postcard"
	"weather-postcard/internal/queue"
)

const (
	stageFanOut   = "fanout"
	stageAnnotate = "annotate"
)

// messageHandler runs one stage invocation for a decoded envelope.
type messageHandler func(ctx context.Context, env queue.Envelope) error

// runStageLoop consumes one topic until cancellation and applies handle to
// every message.
func (w *worker) runStageLoop(ctx context.Context, stage string, consumer kafkaConsumer, handle messageHandler) error {
	for {
		msg, err := consumer.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				w.logger.Printf("kafka consumer loop stopping due to cancellation stage=%s", stage)
				return nil
			}
			w.metrics.recordFetchError(stage)
			w.logger.Printf("kafka fetch failed stage=%s err=%v; retrying after=%s", stage, err, w.cfg.fetchErrBackoff)
			if err := sleepWithContext(ctx, w.cfg.fetchErrBackoff); err != nil {
				w.logger.Printf("kafka fetch backoff canceled stage=%s", stage)
				return nil
			}
			continue
		}

		if err := w.processFetchedMessage(ctx, stage, consumer, msg, handle); err != nil {
			w.logger.Printf(
				"message processing failed stage=%s topic=%s partition=%d offset=%d key=%s err=%v",
				stage,
				msg.Topic,
				msg.Partition,
				msg.Offset,
				string(msg.Key),
				err,
			)
		}
	}
}

// processFetchedMessage decodes one message, runs the stage with bounded
// redelivery, and commits only once the message reached a terminal outcome:
// processed, dropped as poison, or dead-lettered.
func (w *worker) processFetchedMessage(ctx context.Context, stage string, consumer kafkaConsumer, msg kafka.Message, handle messageHandler) error {
	env, err := queue.Decode(msg.Value)
	if err != nil {
		w.logger.Printf(
			"dropping invalid message stage=%s topic=%s partition=%d offset=%d key=%s err=%v",
			stage,
			msg.Topic,
			msg.Partition,
			msg.Offset,
			string(msg.Key),
			err,
		)
		w.metrics.recordOutcome(stage, "dropped")
		return w.commitMessage(consumer, msg, "drop-invalid-message")
	}

	maxAttempts := w.cfg.maxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := w.runAttempt(ctx, stage, env, handle)
		if err == nil {
			if attempt > 1 {
				w.logger.Printf("processing recovered stage=%s message_id=%s client_id=%s attempt=%d/%d", stage, env.MessageID, env.ClientID, attempt, maxAttempts)
			}
			w.metrics.recordOutcome(stage, "processed")
			return w.commitMessage(consumer, msg, "processed")
		}

		if errors.Is(err, queue.ErrInvalidEnvelope) {
			w.logger.Printf("dropping invalid payload stage=%s message_id=%s client_id=%s err=%v", stage, env.MessageID, env.ClientID, err)
			w.metrics.recordOutcome(stage, "dropped")
			return w.commitMessage(consumer, msg, "drop-invalid-payload")
		}
		if ctx.Err() != nil {
			w.logger.Printf("processing interrupted stage=%s message_id=%s client_id=%s (offset not committed)", stage, env.MessageID, env.ClientID)
			return ctx.Err()
		}

		lastErr = err
		if attempt >= maxAttempts {
			break
		}

		backoff := calculateRetryBackoff(w.cfg.retryInitialBO, w.cfg.retryMaxBO, attempt)
		w.logger.Printf(
			"processing failed stage=%s message_id=%s client_id=%s attempt=%d/%d retry_in=%s err=%v",
			stage,
			env.MessageID,
			env.ClientID,
			attempt,
			maxAttempts,
			backoff,
			err,
		)
		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
	}

	w.logger.Printf(
		"processing exhausted attempts stage=%s message_id=%s client_id=%s attempts=%d code=%s err=%v",
		stage,
		env.MessageID,
		env.ClientID,
		maxAttempts,
		postcard.ErrorCode(lastErr),
		lastErr,
	)
	w.recordStatus(ctx, env.ClientID, func(ctx context.Context) error {
		return w.status.RecordFailed(ctx, env.ClientID, postcard.ErrorCode(lastErr), lastErr.Error())
	})

	if err := w.deadLetter(ctx, msg, maxAttempts, lastErr); err != nil {
		return err
	}
	w.metrics.recordOutcome(stage, "dead_lettered")
	return w.commitMessage(consumer, msg, "dead-lettered")
}

// runAttempt runs handle once under the process timeout.
func (w *worker) runAttempt(ctx context.Context, stage string, env queue.Envelope, handle messageHandler) error {
	attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.processTimeout)
	defer cancel()

	started := time.Now()
	w.metrics.recordAttemptStart(stage)
	w.logger.Printf("processing started stage=%s message_id=%s client_id=%s", stage, env.MessageID, env.ClientID)
	err := handle(attemptCtx, env)
	w.metrics.recordAttemptEnd(stage, err, time.Since(started))
	return err
}

// deadLetter copies msg to its dead-letter topic.
func (w *worker) deadLetter(ctx context.Context, msg kafka.Message, attempts int, cause error) error {
	writeCtx, cancel := context.WithTimeout(ctx, w.cfg.commitTimeout)
	defer cancel()

	dlq := queue.DeadLetter(msg, attempts, cause, w.now())
	if err := w.deadLetters.WriteMessages(writeCtx, dlq); err != nil {
		w.logger.Printf("dead letter publish failed topic=%s offset=%d err=%v (offset not committed)", dlq.Topic, msg.Offset, err)
		return fmt.Errorf("dead letter publish failed: %w", err)
	}
	w.logger.Printf("message dead-lettered topic=%s source_topic=%s offset=%d key=%s", dlq.Topic, msg.Topic, msg.Offset, string(msg.Key))
	return nil
}

// commitMessage records consumer progress only after a message reaches a terminal outcome.
func (w *worker) commitMessage(consumer kafkaConsumer, msg kafka.Message, reason string) error {
	commitCtx, cancel := context.WithTimeout(context.Background(), w.cfg.commitTimeout)
	defer cancel()

	if err := consumer.CommitMessages(commitCtx, msg); err != nil {
		w.logger.Printf(
			"offset commit failed reason=%s topic=%s partition=%d offset=%d key=%s err=%v",
			reason,
			msg.Topic,
			msg.Partition,
			msg.Offset,
			string(msg.Key),
			err,
		)
		return err
	}

	w.logger.Printf(
		"offset committed reason=%s topic=%s partition=%d offset=%d key=%s",
		reason,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		string(msg.Key),
	)
	return nil
}

// recordStatus applies a best-effort status write. Failures are logged and
// never fail the stage.
func (w *worker) recordStatus(ctx context.Context, clientID string, write func(ctx context.Context) error) {
	if w.status == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.commitTimeout)
	defer cancel()
	if err := write(writeCtx); err != nil {
		w.metrics.statusWriteErrors.Inc()
		w.logger.Printf("status write failed client_id=%s err=%v", clientID, err)
	}
}

// calculateRetryBackoff computes exponential retry delay with optional max cap.
func calculateRetryBackoff(initial, max time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		if delay > time.Duration(math.MaxInt64/2) {
			delay = time.Duration(math.MaxInt64)
			break
		}
		delay *= 2
	}

	if max > 0 && delay > max {
		return max
	}
	return delay
}

// sleepWithContext waits for duration or returns earlier when context is canceled.
func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
