package game

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"wordpot/internal/metrics"
)

const (
	OUTBOX_POLL_INTERVAL = 500 * time.Millisecond
	OUTBOX_BATCH_SIZE    = 50
)

// Handler processes one outbox event. Handlers must be idempotent: an event
// is redelivered until every handler for its type succeeds.
type Handler func(ctx context.Context, ev Event) error

type namedHandler struct {
	name string
	fn   Handler
}

// Dispatcher delivers outbox events to handlers out of band from the
// requests that wrote them.
type Dispatcher struct {
	store    Store
	clock    clockwork.Clock
	log      *slog.Logger
	handlers map[string][]namedHandler
	interval time.Duration
	batch    int
}

func NewDispatcher(store Store, clock clockwork.Clock, log *slog.Logger) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:    store,
		clock:    clock,
		log:      log.With("component", "outbox"),
		handlers: make(map[string][]namedHandler),
		interval: OUTBOX_POLL_INTERVAL,
		batch:    OUTBOX_BATCH_SIZE,
	}
}

func (d *Dispatcher) Register(eventType, name string, h Handler) {
	d.handlers[eventType] = append(d.handlers[eventType], namedHandler{name: name, fn: h})
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Warn("dispatch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
	}
}

// DispatchOnce claims one batch and runs its handlers. It returns how many
// events were claimed.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	events, err := d.store.ClaimEvents(ctx, d.batch)
	if err != nil {
		return 0, fmt.Errorf("claim events: %w", err)
	}
	for _, ev := range events {
		herr := d.handle(ctx, ev)
		status := "done"
		if herr != nil {
			status = "failed"
			d.log.Warn("event handler failed",
				"event_id", ev.ID,
				"type", ev.Type,
				"round_id", ev.RoundID,
				"attempts", ev.Attempts,
				"error", herr)
		}
		metrics.OutboxEventsTotal.WithLabelValues(ev.Type, status).Inc()
		if err := d.store.CompleteEvent(ctx, ev.ID, herr); err != nil {
			d.log.Error("complete event", "event_id", ev.ID, "error", err)
		}
	}
	return len(events), nil
}

// Drain dispatches until no claimable events remain or max passes ran.
func (d *Dispatcher) Drain(ctx context.Context, max int) error {
	for i := 0; i < max; i++ {
		n, err := d.DispatchOnce(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) error {
	hs, ok := d.handlers[ev.Type]
	if !ok {
		d.log.Debug("no handler for event", "type", ev.Type)
		return nil
	}
	for _, h := range hs {
		if err := d.call(ctx, h, ev); err != nil {
			return fmt.Errorf("%s: %w", h.name, err)
		}
	}
	return nil
}

func (d *Dispatcher) call(ctx context.Context, h namedHandler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.fn(ctx, ev)
}
