package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is the key prefix used when none is configured.
const DefaultRedisPrefix = "trellis:analytics"

// RedisSetter is the subset of *redis.Client used by RedisPersister.
type RedisSetter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

var _ RedisSetter = (*redis.Client)(nil)

// RedisPersister stores records as JSON strings in Redis.
type RedisPersister struct {
	client    RedisSetter
	prefix    string
	retention time.Duration
}

// NewRedisPersister returns a persister writing under prefix. Records
// expire after retention; zero keeps them forever.
func NewRedisPersister(client RedisSetter, prefix string, retention time.Duration) *RedisPersister {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisPersister{client: client, prefix: prefix, retention: retention}
}

// Key returns the key of rec: "<prefix>:<at>:<id>".
func (p *RedisPersister) Key(rec Record) string {
	return fmt.Sprintf("%s:%s:%s", p.prefix, rec.At.UTC().Format(time.RFC3339), rec.ID)
}

// Persist implements Persister.
func (p *RedisPersister) Persist(ctx context.Context, rec Record) error {
	ba, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.client.Set(ctx, p.Key(rec), ba, p.retention).Err()
}
