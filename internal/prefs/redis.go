// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package prefs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisTimeout = 5 * time.Second

// RedisStore keeps preferences in Redis, one string key per preference. It
// suits hosts that run several engine instances against shared storage.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to the Redis server at url, which uses the
// redis:// or rediss:// scheme.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:     []string{opts.Addr},
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	})
	return NewRedisStoreFromClient(client), nil
}

func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) GetItem(key string) (*string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preference %q: %w", key, err)
	}
	return &v, nil
}

func (s *RedisStore) SetItem(key string, value *string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	var err error
	if value == nil {
		err = s.client.Del(ctx, key).Err()
	} else {
		err = s.client.Set(ctx, key, *value, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to write preference %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
