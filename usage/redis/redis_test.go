package redis_test

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/x-08/agentcloud/schema"
	"github.com/x-08/agentcloud/usage/redis"
)

func TestConnect_InvalidURL(t *testing.T) {
	_, err := redis.Connect(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestIncrement_UnreachableServer(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	tracker := redis.New(client, redis.WithKey("test:upserts"), redis.WithTimeout(time.Second))
	err := tracker.Increment(context.Background(), 1)
	assert.ErrorIs(t, err, schema.ErrTransport)

	_, err = tracker.Count(context.Background())
	assert.ErrorIs(t, err, schema.ErrTransport)
}
