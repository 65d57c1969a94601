package idgen

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Clock is the time source of a Snowflake, in milliseconds.
type Clock interface {
	Now() (int64, error)
}

// SystemClock reads the local wall clock.
type SystemClock struct{}

func (SystemClock) Now() (int64, error) {
	return time.Now().UnixMilli(), nil
}

// RedisClock reads time from a Redis server so that several uploader processes
// sharing one node id space agree on the clock.
type RedisClock struct {
	client  redis.UniversalClient
	timeout time.Duration
}

func NewRedisClock(client redis.UniversalClient, timeout time.Duration) *RedisClock {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &RedisClock{client: client, timeout: timeout}
}

func (r *RedisClock) Now() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	res, err := r.client.Time(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("redis TIME failed: %w", err)
	}
	return res.UnixMilli(), nil
}
