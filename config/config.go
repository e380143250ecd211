// Package config loads the application configuration and builds the
// collaborators it describes: the logger, the document store and the
// analytics flusher.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jacentio/trellis-odm/analytics"
	"github.com/jacentio/trellis-odm/store"
)

// EnvPrefix prefixes every environment variable read by Load, for example
// TRELLIS_BOLT_PATH.
const EnvPrefix = "TRELLIS"

// Config is the application configuration.
type Config struct {
	// Backend selects the document store: "dynamodb" or "bolt".
	Backend string `mapstructure:"backend"`

	Log         LogConfig         `mapstructure:"log"`
	Bolt        BoltConfig        `mapstructure:"bolt"`
	Dynamo      DynamoConfig      `mapstructure:"dynamo"`
	Transaction TransactionConfig `mapstructure:"transaction"`
	Analytics   AnalyticsConfig   `mapstructure:"analytics"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// BoltConfig configures the embedded store.
type BoltConfig struct {
	Path string `mapstructure:"path"`
}

// DynamoConfig configures the DynamoDB store.
type DynamoConfig struct {
	Region                string `mapstructure:"region"`
	Endpoint              string `mapstructure:"endpoint"`
	TablePrefix           string `mapstructure:"table_prefix"`
	KeyAttribute          string `mapstructure:"key_attribute"`
	MaxUnprocessedRetries int    `mapstructure:"max_unprocessed_retries"`
}

// TransactionConfig configures transaction handlers.
type TransactionConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// AnalyticsConfig configures the analytics sink and its flusher.
type AnalyticsConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Schedule    string        `mapstructure:"schedule"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
	Retention   time.Duration `mapstructure:"retention"`
}

var defaults = map[string]any{
	"backend":                        string(store.BackendBolt),
	"log.level":                      "info",
	"bolt.path":                      "trellis.db",
	"dynamo.region":                  "",
	"dynamo.endpoint":                "",
	"dynamo.table_prefix":            "",
	"dynamo.key_attribute":           "id",
	"dynamo.max_unprocessed_retries": 5,
	"transaction.max_attempts":       5,
	"analytics.enabled":              true,
	"analytics.schedule":             analytics.DefaultSchedule,
	"analytics.redis_addr":           "",
	"analytics.redis_prefix":         analytics.DefaultRedisPrefix,
	"analytics.retention":            7 * 24 * time.Hour,
}

// Load reads the configuration from file, when given, and from TRELLIS_*
// environment variables. Environment variables take precedence.
func Load(v *viper.Viper, file string) (Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, store.Errorf(store.KindInvalidArgument, "read config %s: %v", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, store.Errorf(store.KindInvalidArgument, "decode config: %v", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch store.Backend(c.Backend) {
	case store.BackendBolt:
		if c.Bolt.Path == "" {
			return store.Errorf(store.KindInvalidArgument, "bolt.path is required")
		}
	case store.BackendDynamo:
	default:
		return store.Errorf(store.KindInvalidArgument, "unknown backend %q", c.Backend)
	}
	if c.Transaction.MaxAttempts < 1 {
		return store.Errorf(store.KindInvalidArgument, "transaction.max_attempts must be at least 1")
	}
	return nil
}
