package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/guilhermegouw/relay/internal/events"
	"github.com/guilhermegouw/relay/internal/pubsub"
)

func newTestObserver(t *testing.T) (*Observer, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) }) //nolint:errcheck // test cleanup

	obs, err := NewObserver(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewObserver() error = %v", err)
	}
	return obs, reader
}

// counterValue sums all data points of the named int64 counter.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s has unexpected type %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestObserver_Record(t *testing.T) {
	obs, reader := newTestObserver(t)
	ctx := context.Background()

	obs.Record(ctx, events.NewMessageSubmittedEvent(1, "s", "m1"))
	obs.Record(ctx, events.NewMessageCompletedEvent(1, "s", "m1", time.Second))
	obs.Record(ctx, events.NewMessageSubmittedEvent(2, "s", "m1"))
	obs.Record(ctx, events.NewMessageFailedEvent(2, "s", "m1", time.Second, errors.New("boom")))
	obs.Record(ctx, events.NewMessageSkippedEvent(2, "s"))

	if got := counterValue(t, reader, "relay.messages.submitted"); got != 2 {
		t.Errorf("submitted = %d, want 2", got)
	}
	if got := counterValue(t, reader, "relay.messages.completed"); got != 1 {
		t.Errorf("completed = %d, want 1", got)
	}
	if got := counterValue(t, reader, "relay.messages.failed"); got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
}

func TestObserver_Run(t *testing.T) {
	obs, reader := newTestObserver(t)
	hub := pubsub.NewHub()
	defer hub.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		obs.Run(ctx, hub)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for hub.Message.SubscriberCount() == 0 || hub.Session.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("observer never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Message.Publish(pubsub.EventCompleted, events.NewMessageCompletedEvent(1, "s", "m1", time.Second))

	deadline = time.Now().Add(time.Second)
	for counterValue(t, reader, "relay.messages.completed") != 1 {
		if time.Now().After(deadline) {
			t.Fatal("completed counter never reached 1")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Session.Publish(pubsub.EventCreated, events.NewSessionCreatedEvent("s", "New Chat", "m1"))
	hub.Session.Publish(pubsub.EventUpdated, events.NewSessionRenamedEvent("s", "Arithmetic"))

	deadline = time.Now().Add(time.Second)
	for counterValue(t, reader, "relay.sessions.events") != 2 {
		if time.Now().After(deadline) {
			t.Fatal("session counter never reached 2")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Run did not return after cancel")
	}
}

func TestSetup(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "telemetry")
	p, err := Setup(context.Background(), Options{Dir: dir, Version: "test"})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	_, span := p.Tracer.Tracer("test").Start(context.Background(), "startup")
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "traces.log"))
	if err != nil {
		t.Fatalf("reading traces: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected exported span in traces.log")
	}
}
