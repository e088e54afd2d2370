package config

import "time"

// TimeoutConfig holds the timers driving request and resource housekeeping.
type TimeoutConfig struct {
	// HousekeepingInterval is how often the manager scans for idle and
	// retired requests.
	HousekeepingInterval time.Duration `toml:"housekeeping-interval" yaml:"housekeeping-interval"`
	// RequestIdleTimeout orphans a WAITING or READY request nobody touched
	// for this long. Zero disables idle expiry.
	RequestIdleTimeout time.Duration `toml:"request-idle-timeout" yaml:"request-idle-timeout"`
	// RequestRetention is how long terminal requests stay visible.
	RequestRetention time.Duration `toml:"request-retention" yaml:"request-retention"`
	// OrphanCheckInterval is how often watched resources are checked.
	OrphanCheckInterval time.Duration `toml:"orphan-check-interval" yaml:"orphan-check-interval"`
	// ResourceOrphanTimeout is how long an in-use resource may go without
	// a touch before it is considered abandoned.
	ResourceOrphanTimeout time.Duration `toml:"resource-orphan-timeout" yaml:"resource-orphan-timeout"`
	// WaitingWarnThreshold is the wait time after which a queued request
	// gets logged as starving.
	WaitingWarnThreshold time.Duration `toml:"waiting-warn-threshold" yaml:"waiting-warn-threshold"`
}

var defaultTimeoutConfig = TimeoutConfig{
	HousekeepingInterval:  time.Second,
	RequestIdleTimeout:    0,
	RequestRetention:      time.Minute * 10,
	OrphanCheckInterval:   time.Second * 5,
	ResourceOrphanTimeout: time.Second * 30,
	WaitingWarnThreshold:  time.Minute,
}.Adjust()

// Adjust validates the TimeoutConfig and adjusts it
func (config TimeoutConfig) Adjust() TimeoutConfig {
	var tc TimeoutConfig = config
	if tc.HousekeepingInterval <= 0 {
		tc.HousekeepingInterval = time.Second
	}
	if tc.RequestIdleTimeout < 0 {
		tc.RequestIdleTimeout = 0
	}
	if tc.OrphanCheckInterval <= 0 {
		tc.OrphanCheckInterval = time.Second * 5
	}
	// the orphan timeout must span at least two checks, otherwise a touch
	// landing between checks could be missed
	if tc.ResourceOrphanTimeout < 2*tc.OrphanCheckInterval {
		tc.ResourceOrphanTimeout = 2 * tc.OrphanCheckInterval
	}
	if tc.WaitingWarnThreshold <= 0 {
		tc.WaitingWarnThreshold = time.Minute
	}
	return tc
}

// DefaultTimeoutConfig returns the default timers.
func DefaultTimeoutConfig() TimeoutConfig {
	return defaultTimeoutConfig
}
