package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists status hashes and refreshes their TTL on every write.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *log.Logger
	now    func() time.Time
}

// NewRedisStore returns a store on client. A nil logger discards output.
func NewRedisStore(client redis.Cmdable, ttl time.Duration, logger *log.Logger) *RedisStore {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger, now: time.Now}
}

// MarkQueued records that an identifier was issued and handed to the
// fan-out queue. Counters already present are kept.
func (s *RedisStore) MarkQueued(ctx context.Context, clientID string) error {
	key := Key(clientID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, s.fields(clientID, StateQueued, "postcard request queued"))
		pipe.HSetNX(ctx, key, fieldExpected, 0)
		pipe.HSetNX(ctx, key, fieldStored, 0)
		pipe.HDel(ctx, key, fieldErrorCode, fieldErrorMessage)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("status queued client_id=%s: %w", clientID, err)
	}
	return nil
}

// RecordDispatched adds n expected images after a successful fan-out.
// Duplicate fan-outs add again, matching the duplicate SubJobs they emit.
func (s *RedisStore) RecordDispatched(ctx context.Context, clientID string, n int) error {
	key := Key(clientID)
	var stored *redis.StringCmd
	var expected *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		expected = pipe.HIncrBy(ctx, key, fieldExpected, int64(n))
		stored = pipe.HGet(ctx, key, fieldStored)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("status dispatched client_id=%s: %w", clientID, err)
	}

	state := StateDispatched
	if storedN := parseCount(stored.Val()); storedN > 0 {
		state = storedState(storedN, int(expected.Val()))
	}
	message := fmt.Sprintf("%d postcard jobs dispatched", n)
	return s.write(ctx, clientID, state, message)
}

// RecordStored counts one stored image and moves the client to storing or
// completed.
func (s *RedisStore) RecordStored(ctx context.Context, clientID string) error {
	key := Key(clientID)
	var stored *redis.IntCmd
	var expected *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		stored = pipe.HIncrBy(ctx, key, fieldStored, 1)
		expected = pipe.HGet(ctx, key, fieldExpected)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("status stored client_id=%s: %w", clientID, err)
	}

	storedN := int(stored.Val())
	expectedN := parseCount(expected.Val())
	return s.write(ctx, clientID, storedState(storedN, expectedN), storedMessage(storedN, expectedN))
}

// RecordFailed marks the client failed with a machine-readable code.
func (s *RedisStore) RecordFailed(ctx context.Context, clientID, code, message string) error {
	key := Key(clientID)
	fields := s.fields(clientID, StateFailed, "postcard processing failed")
	fields[fieldErrorCode] = code
	fields[fieldErrorMessage] = message
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("status failed client_id=%s: %w", clientID, err)
	}
	return nil
}

// Get reads a client's status. found is false when no hash exists.
func (s *RedisStore) Get(ctx context.Context, clientID string) (snap Snapshot, found bool, err error) {
	values, err := s.client.HGetAll(ctx, Key(clientID)).Result()
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("status read client_id=%s: %w", clientID, err)
	}
	if len(values) == 0 {
		return Snapshot{ClientID: clientID, State: StateNotFound}, false, nil
	}
	return snapshotFromHash(clientID, values), true, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) write(ctx context.Context, clientID string, state State, message string) error {
	key := Key(clientID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, s.fields(clientID, state, message))
		pipe.HDel(ctx, key, fieldErrorCode, fieldErrorMessage)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("status %s client_id=%s: %w", state, clientID, err)
	}
	s.logger.Printf("status updated client_id=%s state=%s message=%q", clientID, state, strings.TrimSpace(message))
	return nil
}

func (s *RedisStore) fields(clientID string, state State, message string) map[string]any {
	return map[string]any{
		fieldClientID:  clientID,
		fieldState:     string(state),
		fieldUpdatedAt: s.now().UTC().Format(time.RFC3339),
		fieldMessage:   message,
	}
}
