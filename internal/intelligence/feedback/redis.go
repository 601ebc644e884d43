// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

// DefaultRedisKey is the list feedback events are pushed to.
const DefaultRedisKey = "router:feedback"

// RedisQueue hands events across processes through a Redis list. Producers LPUSH,
// the consumer BRPOPs, so delivery is FIFO.
type RedisQueue struct {
	client      *redis.Client
	key         string
	pollTimeout time.Duration
}

// NewRedisQueue wraps a connected client.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisQueue{client: client, key: key, pollTimeout: time.Second}
}

// DialRedisQueue connects to addr and pings it.
func DialRedisQueue(ctx context.Context, addr, key string) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisQueue(client, key), nil
}

func (q *RedisQueue) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode feedback event: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue feedback event: %w", err)
	}
	return nil
}

func (q *RedisQueue) Consume(ctx context.Context, handle func(context.Context, Event)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case errors.Is(err, redis.ErrClosed):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).Warn("feedback dequeue failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(q.pollTimeout):
			}
			continue
		}
		// BRPOP returns [key, value].
		if len(res) < 2 {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
			log.WithError(err).Warn("dropping undecodable feedback event")
			continue
		}
		deliver(ctx, handle, ev)
	}
}

// Len returns the number of queued events.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) Close() error { return q.client.Close() }
