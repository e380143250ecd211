package dynamo

// Config holds configuration for the Store.
type Config struct {
	// TablePrefix is prepended to a resource name to form its table name.
	// Default: "" (table name equals the resource name)
	TablePrefix string

	// KeyAttribute is the partition key attribute of every resource table.
	// It holds the document id.
	// Default: "id"
	KeyAttribute string

	// MaxUnprocessedRetries bounds how many times BatchGet re-requests keys
	// that DynamoDB returned as unprocessed.
	// Default: 5
	MaxUnprocessedRetries int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyAttribute:          "id",
		MaxUnprocessedRetries: 5,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.KeyAttribute == "" {
		c.KeyAttribute = "id"
	}
	if c.MaxUnprocessedRetries < 1 {
		c.MaxUnprocessedRetries = 5
	}
}
