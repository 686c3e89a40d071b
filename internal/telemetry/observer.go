package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/guilhermegouw/relay/internal/events"
	"github.com/guilhermegouw/relay/internal/pubsub"
)

// Observer turns message and session lifecycle events into metrics.
type Observer struct {
	sessions  metric.Int64Counter
	submitted metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewObserver creates the instruments on meter.
func NewObserver(meter metric.Meter) (*Observer, error) {
	submitted, err := meter.Int64Counter("relay.messages.submitted",
		metric.WithDescription("User messages written Pending"))
	if err != nil {
		return nil, fmt.Errorf("creating submitted counter: %w", err)
	}
	completed, err := meter.Int64Counter("relay.messages.completed",
		metric.WithDescription("Messages that reached Completed"))
	if err != nil {
		return nil, fmt.Errorf("creating completed counter: %w", err)
	}
	failed, err := meter.Int64Counter("relay.messages.failed",
		metric.WithDescription("Messages that reached Failed"))
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	duration, err := meter.Float64Histogram("relay.messages.duration",
		metric.WithDescription("Time from pickup to terminal state"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	sessions, err := meter.Int64Counter("relay.sessions.events",
		metric.WithDescription("Session lifecycle changes by kind"))
	if err != nil {
		return nil, fmt.Errorf("creating sessions counter: %w", err)
	}
	return &Observer{
		sessions:  sessions,
		submitted: submitted,
		completed: completed,
		failed:    failed,
		duration:  duration,
	}, nil
}

// Run consumes message and session events from the hub until ctx is
// done or the hub shuts down.
func (o *Observer) Run(ctx context.Context, hub *pubsub.Hub) {
	msgs := hub.Message.Subscribe(ctx)
	sessions := hub.Session.Subscribe(ctx)
	for msgs != nil || sessions != nil {
		select {
		case ev, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			o.Record(ctx, ev.Payload)
		case ev, ok := <-sessions:
			if !ok {
				sessions = nil
				continue
			}
			o.RecordSession(ctx, ev.Payload)
		}
	}
}

// RecordSession counts one session event.
func (o *Observer) RecordSession(ctx context.Context, ev events.SessionEvent) {
	o.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("event", string(ev.Type))))
}

// Record updates the instruments for one event.
func (o *Observer) Record(ctx context.Context, ev events.MessageEvent) {
	attrs := metric.WithAttributes(attribute.String("model", ev.Model))
	switch ev.Type {
	case events.MessageEventSubmitted:
		o.submitted.Add(ctx, 1, attrs)
	case events.MessageEventCompleted:
		o.completed.Add(ctx, 1, attrs)
		o.duration.Record(ctx, ev.Duration.Seconds(), attrs)
	case events.MessageEventFailed:
		o.failed.Add(ctx, 1, attrs)
		o.duration.Record(ctx, ev.Duration.Seconds(), attrs)
	}
}
