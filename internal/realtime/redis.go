// README: Redis-backed Store adapter; optimistic transactions + pub/sub watches.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "rt:"
	redisEventPrefix = "rtev:"
	// txnAttempts bounds optimistic retries before the conflict is surfaced
	// to the caller as a transport failure.
	txnAttempts = 8
)

// RedisStore maps each record path to one JSON value under "rt:<path>" and
// publishes the mutated path on "rtev:<path>" plus every ancestor channel, so
// a watcher of "trips" hears about "trips/t1" changes.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, path string, v any) error {
	raw, err := s.materialize(ctx, path)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotFound
	}
	return json.Unmarshal(raw, v)
}

func (s *RedisStore) Set(ctx context.Context, path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+path, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", path, err)
	}
	return s.publish(ctx, path)
}

func (s *RedisStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.Txn(ctx, path, func(current json.RawMessage) (any, error) {
		obj := map[string]json.RawMessage{}
		if current != nil {
			if err := json.Unmarshal(current, &obj); err != nil {
				return nil, err
			}
		}
		for k, v := range fields {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			obj[k] = raw
		}
		return obj, nil
	})
}

func (s *RedisStore) Delete(ctx context.Context, path string) error {
	keys, err := s.scanKeys(ctx, redisKeyPrefix+path+"/*")
	if err != nil {
		return err
	}
	keys = append(keys, redisKeyPrefix+path)
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", path, err)
	}
	return s.publish(ctx, path)
}

func (s *RedisStore) Push(ctx context.Context, path string, v any) (string, error) {
	key := uuid.NewString()
	if err := s.Set(ctx, Join(path, key), v); err != nil {
		return "", err
	}
	return key, nil
}

// Txn implements the conditional write with WATCH/MULTI: the write only lands
// if no other client touched the key in between, otherwise the read-modify
// cycle is retried against the fresh value.
func (s *RedisStore) Txn(ctx context.Context, path string, fn TxnFunc) error {
	key := redisKeyPrefix + path
	var abort error
	run := func(tx *redis.Tx) error {
		var current json.RawMessage
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			current = raw
		case errors.Is(err, redis.Nil):
			current = nil
		default:
			return err
		}
		next, err := fn(current)
		if err != nil {
			abort = err
			return nil // do not write, but do not retry either
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
				return nil
			}
			raw, err := json.Marshal(next)
			if err != nil {
				return err
			}
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}

	for i := 0; i < txnAttempts; i++ {
		abort = nil
		err := s.client.Watch(ctx, run, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis txn %s: %w", path, err)
		}
		if abort != nil {
			return abort
		}
		return s.publish(ctx, path)
	}
	return fmt.Errorf("redis txn %s: too much contention", path)
}

func (s *RedisStore) Children(ctx context.Context, path, childKey string, equals any) (map[string]json.RawMessage, error) {
	children, err := s.children(ctx, path)
	if err != nil {
		return nil, err
	}
	if childKey == "" {
		return children, nil
	}
	out := make(map[string]json.RawMessage, len(children))
	for k, raw := range children {
		if matchesChild(raw, childKey, equals) {
			out[k] = raw
		}
	}
	return out, nil
}

func (s *RedisStore) Watch(ctx context.Context, path string) (<-chan Snapshot, error) {
	sub := s.client.Subscribe(ctx, redisEventPrefix+path)
	out := make(chan Snapshot, 1)
	emit := func() {
		raw, err := s.materialize(ctx, path)
		if err != nil {
			return
		}
		deliver(out, Snapshot{Path: path, Data: raw})
	}
	go func() {
		defer close(out)
		defer sub.Close()
		emit()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				emit()
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) WatchChildren(ctx context.Context, path, childKey string, equals any) (<-chan ChildSnapshot, error) {
	sub := s.client.Subscribe(ctx, redisEventPrefix+path)
	out := make(chan ChildSnapshot, 1)
	emit := func() {
		children, err := s.Children(ctx, path, childKey, equals)
		if err != nil {
			return
		}
		deliver(out, ChildSnapshot{Path: path, Children: children})
	}
	go func() {
		defer close(out)
		defer sub.Close()
		emit()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				emit()
			}
		}
	}()
	return out, nil
}

// publish announces a mutation on the path's own channel and every ancestor's.
func (s *RedisStore) publish(ctx context.Context, path string) error {
	pipe := s.client.Pipeline()
	parts := strings.Split(path, "/")
	for i := len(parts); i >= 1; i-- {
		pipe.Publish(ctx, redisEventPrefix+strings.Join(parts[:i], "/"), path)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) materialize(ctx context.Context, path string) (json.RawMessage, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+path).Bytes()
	if err == nil {
		return raw, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis get %s: %w", path, err)
	}
	children, err := s.children(ctx, path)
	if err != nil || len(children) == 0 {
		return nil, err
	}
	return json.Marshal(children)
}

func (s *RedisStore) children(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	keys, err := s.scanKeys(ctx, redisKeyPrefix+path+"/*")
	if err != nil {
		return nil, err
	}
	prefix := redisKeyPrefix + path + "/"
	segs := map[string]bool{}
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		segs[rest] = true
	}
	out := make(map[string]json.RawMessage, len(segs))
	for seg := range segs {
		raw, err := s.materialize(ctx, Join(path, seg))
		if err != nil {
			return nil, err
		}
		if raw != nil {
			out[seg] = raw
		}
	}
	return out, nil
}

func (s *RedisStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return keys, nil
}

// deliver is the latest-wins send shared by the watch loops.
func deliver[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
