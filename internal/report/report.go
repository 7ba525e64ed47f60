package report

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

// Reporter receives job failures for the error-tracking backend.
type Reporter interface {
	CaptureError(ctx context.Context, err error, tags map[string]string)
}

// SentryReporter sends failures to Sentry. An empty DSN keeps the client
// local: events are still processed but never transmitted.
type SentryReporter struct {
	hub *sentry.Hub
}

func NewSentry(dsn, environment string) (*SentryReporter, error) {
	return newSentry(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		SampleRate:  1.0,
	})
}

func newSentry(opts sentry.ClientOptions) (*SentryReporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (r *SentryReporter) CaptureError(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}

	ev := log.Error().Err(err)
	for k, v := range tags {
		ev = ev.Str(k, v)
	}
	ev.Msg("[Report] Job failed")

	hub := r.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.CaptureException(err)
	})
}

// Flush waits for buffered events to be delivered.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
