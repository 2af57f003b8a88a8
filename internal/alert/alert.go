package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// Sentry reports integrity violations to Sentry and to the log.
type Sentry struct {
	log *slog.Logger
	hub *sentry.Hub
}

// NewSentry initializes the Sentry client. An empty DSN yields a log-only
// alerter.
func NewSentry(log *slog.Logger, dsn, environment string) (*Sentry, error) {
	s := &Sentry{log: log.With("component", "alert")}
	if dsn == "" {
		return s, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	}); err != nil {
		return nil, err
	}
	s.hub = sentry.CurrentHub()
	return s, nil
}

func (s *Sentry) Alert(ctx context.Context, err error, tags map[string]string) {
	s.log.Error("integrity violation", "error", err, "tags", tags)
	if s.hub == nil {
		return
	}
	hub := s.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		hub.CaptureException(err)
	})
}

// Flush waits for buffered events before shutdown.
func (s *Sentry) Flush() {
	if s.hub != nil {
		s.hub.Flush(2 * time.Second)
	}
}
