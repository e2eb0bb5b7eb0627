// Package telemetry wires optional Sentry error reporting for StorageError
// and HandlerError occurrences surfaced by the consumer loop.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry initializes the global Sentry client when dsn is non-empty. It
// returns a no-op flush function when dsn is empty so callers can always
// defer the result.
func InitSentry(dsn, environment string) (flush func(), err error) {
	if dsn == "" {
		return func() {}, nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	}); err != nil {
		return nil, err
	}

	return func() { sentry.Flush(2 * time.Second) }, nil
}

// Reporter captures err with tags as a Sentry event. Safe to call when
// Sentry was never initialized (dsn == ""); it becomes a silent no-op since
// sentry.CaptureException short-circuits without a configured client.
func Reporter(err error, tags map[string]string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		for key, value := range tags {
			scope.SetTag(key, value)
		}
		sentry.CaptureException(err)
	})
}
