// Package timeouts holds the operation deadlines shared by handlers,
// services and workers.
//
// Values come from configuration at startup (Configure) and fall back to
// the defaults below:
//   - Ping: health checks
//   - Short: single-document reads such as login lookups
//   - Long: provisioning units, which touch five collections in one transaction
package timeouts

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPing  = 2 * time.Second
	DefaultShort = 5 * time.Second
	DefaultLong  = 30 * time.Second
)

// Config holds timeout values. Zero fields keep the current value.
type Config struct {
	Ping  time.Duration
	Short time.Duration
	Long  time.Duration
}

var current atomic.Pointer[Config]

func init() {
	Reset()
}

func load() Config { return *current.Load() }

func Ping() time.Duration  { return load().Ping }
func Short() time.Duration { return load().Short }
func Long() time.Duration  { return load().Long }

// Configure overrides the non-zero fields of cfg. Call during startup.
func Configure(cfg Config) {
	next := load()
	if cfg.Ping > 0 {
		next.Ping = cfg.Ping
	}
	if cfg.Short > 0 {
		next.Short = cfg.Short
	}
	if cfg.Long > 0 {
		next.Long = cfg.Long
	}
	current.Store(&next)
}

// Reset restores the defaults. Useful for testing.
func Reset() {
	current.Store(&Config{Ping: DefaultPing, Short: DefaultShort, Long: DefaultLong})
}

// Current returns the active configuration, for startup logging.
func Current() Config { return load() }

// WithTimeout derives a context with timeout and returns a cancel function
// that logs a warning if the deadline was hit.
//
//	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "register")
//	defer cancel()
func WithTimeout(parent context.Context, timeout time.Duration, log *zap.Logger, operation string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return ctx, func() {
		if ctx.Err() == context.DeadlineExceeded && log != nil {
			log.Warn("operation timed out",
				zap.String("operation", operation),
				zap.Duration("timeout", timeout),
			)
		}
		cancel()
	}
}
