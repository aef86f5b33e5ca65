package storage

// Config controls the storage engine's indexing granularity and
// resource bounds.
type Config struct {
	// TimeBucketSizeSeconds is the width of a time index bucket.
	TimeBucketSizeSeconds int64
	// MaxFlows caps the number of flows held in the primary map.
	// InsertFlow rejects a new flow id once the cap is reached. A zero
	// value here is backfilled to DefaultConfig's cap by WithDefaults.
	MaxFlows int
	// RetentionHours is how long a flow is kept after its end time
	// before the retention reaper is eligible to expire it. A zero
	// value here is backfilled to DefaultConfig's 24 hours by
	// WithDefaults.
	RetentionHours int64
	// ReadOnly rejects InsertFlow with a ReadOnly error when true.
	ReadOnly bool
}

// DefaultConfig returns the engine's default configuration: 1-minute
// time buckets, a 1,000,000 flow cap, and a 24-hour retention window.
func DefaultConfig() Config {
	return Config{
		TimeBucketSizeSeconds: 60,
		MaxFlows:              1_000_000,
		RetentionHours:        24,
	}
}

// WithDefaults backfills zero-valued fields with DefaultConfig's
// values, leaving explicitly set fields untouched.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()
	if c.TimeBucketSizeSeconds == 0 {
		c.TimeBucketSizeSeconds = defaults.TimeBucketSizeSeconds
	}
	if c.MaxFlows == 0 {
		c.MaxFlows = defaults.MaxFlows
	}
	if c.RetentionHours == 0 {
		c.RetentionHours = defaults.RetentionHours
	}
	return c
}
