package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jacentio/trellis-odm/analytics"
	"github.com/jacentio/trellis-odm/store"
	"github.com/jacentio/trellis-odm/store/bolt"
	"github.com/jacentio/trellis-odm/store/dynamo"
)

// OpenStore opens the configured document store. The returned function
// releases it.
func (c Config) OpenStore(ctx context.Context, logger *zap.Logger) (store.Store, func() error, error) {
	switch store.Backend(c.Backend) {
	case store.BackendBolt:
		s := bolt.NewStore(c.Bolt.Path)
		s.WithLogger(logger.With(zap.String("service", "bolt")))
		if err := s.Open(ctx); err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case store.BackendDynamo:
		client, err := c.DynamoClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		s := dynamo.New(client, c.DynamoStoreConfig())
		s.WithLogger(logger.With(zap.String("service", "dynamodb")))
		return s, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", c.Backend)
}

// DynamoClient builds a DynamoDB client from the default AWS credential
// chain, the configured region and an optional endpoint override.
func (c Config) DynamoClient(ctx context.Context) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.Dynamo.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Dynamo.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if c.Dynamo.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Dynamo.Endpoint)
		}
	}), nil
}

// DynamoStoreConfig returns the store configuration of the DynamoDB backend.
func (c Config) DynamoStoreConfig() dynamo.Config {
	return dynamo.Config{
		TablePrefix:           c.Dynamo.TablePrefix,
		KeyAttribute:          c.Dynamo.KeyAttribute,
		MaxUnprocessedRetries: c.Dynamo.MaxUnprocessedRetries,
	}
}

// NewSink returns the analytics sink, disabled when analytics are off.
func (c Config) NewSink() *analytics.Sink {
	return analytics.NewSink(analytics.Enabled(c.Analytics.Enabled))
}

// NewFlusher returns a flusher draining sink into Redis. The returned
// function closes the Redis client.
func (c Config) NewFlusher(sink *analytics.Sink, logger *zap.Logger) (*analytics.Flusher, func() error, error) {
	if c.Analytics.RedisAddr == "" {
		return nil, nil, fmt.Errorf("analytics.redis_addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: c.Analytics.RedisAddr})
	persister := analytics.NewRedisPersister(client, c.Analytics.RedisPrefix, c.Analytics.Retention)
	f, err := analytics.NewFlusher(sink, persister,
		analytics.WithSchedule(c.Analytics.Schedule),
		analytics.WithFlusherLogger(logger.With(zap.String("service", "analytics"))),
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return f, client.Close, nil
}
