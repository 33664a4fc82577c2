package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClientParsesURL(t *testing.T) {
	client, err := NewRedisClient("redis://:pw@cache.internal:6380/2")
	require.NoError(t, err)
	defer client.Close()

	opts := client.client.Options()
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)
}

func TestNewRedisClientRejectsBadURL(t *testing.T) {
	_, err := NewRedisClient("redis://host:6379/notadb")
	assert.Error(t, err)
}

func TestUnreachableServerReportsErrors(t *testing.T) {
	client, err := NewRedisClient("127.0.0.1:1")
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	assert.Error(t, client.Ping(ctx))
	_, ok, err := client.Get(ctx, "identity:sms:+1")
	assert.Error(t, err)
	assert.False(t, ok)
}
