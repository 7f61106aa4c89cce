package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"helpdesk.org/internal/obs"
)

// DeferredDelay is how long ScheduleTicketResolved waits before sending.
const DeferredDelay = 5 * time.Minute

// Dispatcher runs resolution notifications on their own goroutines. Failures
// are logged and counted, never returned to the caller.
type Dispatcher struct {
	lookup   TicketLookup
	mailer   Mailer
	renderer *Renderer
	log      *zap.Logger

	delay     time.Duration
	afterFunc func(time.Duration, func())

	wg sync.WaitGroup
}

// Option configures Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(log *zap.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithRenderer overrides the message renderer.
func WithRenderer(r *Renderer) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.renderer = r
		}
	}
}

// WithScheduler replaces time.AfterFunc for deferred jobs (useful for tests).
func WithScheduler(delay time.Duration, afterFunc func(time.Duration, func())) Option {
	return func(d *Dispatcher) {
		if delay > 0 {
			d.delay = delay
		}
		if afterFunc != nil {
			d.afterFunc = afterFunc
		}
	}
}

// NewDispatcher constructs Dispatcher.
func NewDispatcher(lookup TicketLookup, mailer Mailer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		lookup:   lookup,
		mailer:   mailer,
		renderer: NewRenderer(""),
		log:      zap.NewNop(),
		delay:    DeferredDelay,
		afterFunc: func(delay time.Duration, fn func()) {
			time.AfterFunc(delay, fn)
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnTicketResolved sends the resolution notice in the background and returns
// immediately. Repeated calls for the same ticket send repeatedly.
func (d *Dispatcher) OnTicketResolved(ticketID string) {
	obs.NotificationScheduled("immediate")
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ticketID)
	}()
}

// ScheduleTicketResolved sends the notice after the configured delay. Pending
// jobs are not persisted and are lost if the process exits first.
func (d *Dispatcher) ScheduleTicketResolved(ticketID string) {
	obs.NotificationScheduled("deferred")
	d.log.Info("notification scheduled", zap.String("ticket_id", ticketID), zap.Duration("delay", d.delay))
	d.afterFunc(d.delay, func() { d.run(ticketID) })
}

// Wait blocks until in-flight immediate jobs finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(ticketID string) {
	defer func() {
		if r := recover(); r != nil {
			obs.NotificationOutcome("failed")
			d.log.Error("notification panicked", zap.String("ticket_id", ticketID), zap.Any("panic", r))
		}
	}()

	// Detached from any request; delivery timeouts belong to the mailer.
	ctx := context.Background()
	messageID, recipient, err := d.deliver(ctx, ticketID)
	if err != nil {
		obs.NotificationOutcome("failed")
		d.log.Error("notification failed",
			zap.String("ticket_id", ticketID),
			zap.String("recipient", recipient),
			zap.Error(err),
		)
		return
	}
	obs.NotificationOutcome("sent")
	d.log.Info("notification sent",
		zap.String("ticket_id", ticketID),
		zap.String("recipient", recipient),
		zap.String("message_id", messageID),
	)
}

func (d *Dispatcher) deliver(ctx context.Context, ticketID string) (messageID, recipient string, err error) {
	detail, err := d.lookup.Detail(ctx, ticketID)
	if err != nil {
		return "", "", fmt.Errorf("lookup ticket: %w", err)
	}
	recipient, err = Recipient(detail)
	if err != nil {
		return "", "", err
	}
	msg, err := d.renderer.Resolved(detail, recipient)
	if err != nil {
		return "", recipient, fmt.Errorf("render: %w", err)
	}
	messageID, err = d.mailer.Send(ctx, msg)
	if err != nil {
		return "", recipient, fmt.Errorf("send: %w", err)
	}
	return messageID, recipient, nil
}
