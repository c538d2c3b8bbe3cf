// Package telemetry reports unexpected failures, such as recovered panics in
// a processor, to Sentry. Without a DSN every call is a no-op.
package telemetry

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

var enabled atomic.Bool

// Init configures the Sentry client. An empty dsn leaves reporting disabled.
func Init(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}
	return InitWithOptions(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
}

// InitWithOptions is Init with full control over the client options.
func InitWithOptions(opts sentry.ClientOptions) error {
	if err := sentry.Init(opts); err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}
	enabled.Store(true)
	return nil
}

// Enabled reports whether events are being sent.
func Enabled() bool {
	return enabled.Load()
}

// CaptureException sends err with the given tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil || !enabled.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits up to timeout for buffered events to be delivered.
func Flush(timeout time.Duration) bool {
	if !enabled.Load() {
		return true
	}
	return sentry.Flush(timeout)
}
