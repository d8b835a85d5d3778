package database

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// NewRedisClient connects to the shared rate-limit counter store. Redis is
// optional: callers treat a nil client as "not configured" and the rate
// limiter degrades to per-instance counting.
func NewRedisClient(addr, password string) (*goredis.Client, error) {
	if addr == "" {
		return nil, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Println("Successfully connected to Redis counter store!")
	return rdb, nil
}
