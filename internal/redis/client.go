// Package redis builds the shared Redis client behind the event stream.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/price-tracker/internal/config"
)

// ErrEmptyURL is returned when no Redis endpoint is configured.
var ErrEmptyURL = errors.New("redis url is required")

// defaultConnectTimeout bounds the startup ping when no timeout is set.
const defaultConnectTimeout = 5 * time.Second

// NewClient creates a Redis client and verifies the connection before
// handing it out. The configured URL accepts either a redis:// URL or a
// plain host:port address.
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", pingErr)
	}

	return client, nil
}

func clientOptions(cfg config.RedisConfig) (*redis.Options, error) {
	if cfg.URL == "" {
		return nil, ErrEmptyURL
	}

	if strings.Contains(cfg.URL, "://") {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		// An explicit password wins over whatever the URL carries.
		if cfg.Password != "" {
			opts.Password = cfg.Password
		}
		return opts, nil
	}

	return &redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.Database,
	}, nil
}
