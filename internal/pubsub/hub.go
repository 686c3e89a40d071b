package pubsub

import (
	"fmt"
	"strings"
	"sync"

	"github.com/guilhermegouw/relay/internal/events"
)

// Hub is the central container for all domain brokers.
type Hub struct { //nolint:govet // fieldalignment: preserving logical field order
	Session *Broker[events.SessionEvent]
	Message *Broker[events.MessageEvent]

	done chan struct{}
	once sync.Once
}

// NewHub creates a new Hub with all domain brokers initialized.
func NewHub() *Hub {
	return &Hub{
		Session: NewBroker[events.SessionEvent]("session"),
		Message: NewBroker[events.MessageEvent]("message"),
		done:    make(chan struct{}),
	}
}

// Shutdown shuts down all brokers. It is safe to call more than once.
func (h *Hub) Shutdown() {
	h.once.Do(func() {
		close(h.done)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); h.Session.Shutdown() }()
		go func() { defer wg.Done(); h.Message.Shutdown() }()
		wg.Wait()
	})
}

// IsShutdown returns true if the hub has been shut down.
func (h *Hub) IsShutdown() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that's closed when the hub is shut down.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// AllMetrics returns metrics for all brokers.
func (h *Hub) AllMetrics() []BrokerMetrics {
	return []BrokerMetrics{
		h.Session.Metrics(),
		h.Message.Metrics(),
	}
}

// DebugString returns a one-line-per-broker summary.
func (h *Hub) DebugString() string {
	metrics := h.AllMetrics()

	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Hub (%d brokers) ===\n", len(metrics))
	for _, m := range metrics {
		fmt.Fprintf(&sb, "  %s: subs=%d (peak=%d), published=%d, dropped=%d, shutdown=%v\n",
			m.Name, m.SubscriberCount, m.SubscriberPeak, m.PublishCount, m.DropCount, h.IsShutdown())
	}
	return sb.String()
}
