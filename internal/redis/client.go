package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientOptions holds the connection settings for the lock client.
type ClientOptions struct {
	Addr     string
	Username string
	Password string
	PoolSize int
}

// NewLockClient connects and pings. Lock calls sit on the booking path, so
// timeouts are short and retries are off: a slow Redis means booking without
// the lock rather than waiting on it.
func NewLockClient(ctx context.Context, opts ClientOptions) (*redis.Client, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 20
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		ClientName:   "clinic-scheduling",
		DialTimeout:  2 * time.Second,
		ReadTimeout:  300 * time.Millisecond,
		WriteTimeout: 300 * time.Millisecond,
		MaxRetries:   -1,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return rdb, nil
}
