package engine

import (
	"time"

	"github.com/zpiroux/tapfacebook/entity"
)

const (
	DefaultRecordLogInterval    = 500
	DefaultMaxRequestRetries    = 5
	DefaultMaxLoadRetries       = 5
	DefaultInitialRetryBackoff  = 2 * time.Second
	DefaultMaxRetryInterval     = 240 * time.Second
	DefaultMaxConcurrentStreams = 1
)

type Config struct {
	NotifyChan entity.NotifyChan
	Log        bool

	// RecordHookFunc is optional, see entity.RecordHookFunc.
	RecordHookFunc entity.RecordHookFunc

	// Number of records between each metric notification.
	RecordLogInterval int

	// Retries after the first failed attempt, only applied on retryable errors.
	MaxRequestRetries int
	MaxLoadRetries    int

	// Exponential backoff starts at InitialRetryBackoff and is capped at MaxRetryInterval.
	InitialRetryBackoff time.Duration
	MaxRetryInterval    time.Duration

	// 1 gives sequential stream syncs, in catalog order.
	MaxConcurrentStreams int

	// LogRecordData enables debug notifications with full record contents.
	LogRecordData bool
}

func (c Config) withDefaults() Config {
	if c.RecordLogInterval <= 0 {
		c.RecordLogInterval = DefaultRecordLogInterval
	}
	if c.MaxRequestRetries < 0 {
		c.MaxRequestRetries = 0
	}
	if c.MaxLoadRetries < 0 {
		c.MaxLoadRetries = 0
	}
	if c.InitialRetryBackoff <= 0 {
		c.InitialRetryBackoff = DefaultInitialRetryBackoff
	}
	if c.MaxRetryInterval <= 0 {
		c.MaxRetryInterval = DefaultMaxRetryInterval
	}
	if c.MaxConcurrentStreams <= 0 {
		c.MaxConcurrentStreams = DefaultMaxConcurrentStreams
	}
	return c
}
