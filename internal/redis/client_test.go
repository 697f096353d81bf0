package redis_test

import (
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/jonesrussell/price-tracker/internal/config"
	"github.com/jonesrussell/price-tracker/internal/redis"
)

func TestNewClient_RequiresURL(t *testing.T) {
	client, err := redis.NewClient(config.RedisConfig{})

	if !errors.Is(err, redis.ErrEmptyURL) {
		t.Errorf("NewClient() error = %v, want %v", err, redis.ErrEmptyURL)
	}
	if client != nil {
		t.Error("expected nil client for empty config")
	}
}

func TestNewClient_ConnectsToPlainAddress(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := redis.NewClient(config.RedisConfig{URL: mr.Addr()})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Close()

	if pingErr := client.Ping(t.Context()).Err(); pingErr != nil {
		t.Errorf("ping failed: %v", pingErr)
	}
}

func TestNewClient_ParsesRedisURL(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := redis.NewClient(config.RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Close()

	if pingErr := client.Ping(t.Context()).Err(); pingErr != nil {
		t.Errorf("ping failed: %v", pingErr)
	}
}

func TestNewClient_RejectsUnknownScheme(t *testing.T) {
	if _, err := redis.NewClient(config.RedisConfig{URL: "tcp://localhost:6379"}); err == nil {
		t.Error("NewClient() with a non-redis scheme should error")
	}
}

func TestNewClient_FailsFastWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := redis.NewClient(config.RedisConfig{
		URL:     addr,
		Timeout: 500 * time.Millisecond,
	})
	if err == nil {
		t.Error("NewClient() against a closed server should error")
	}
}
