package monitor

import (
	"context"
	"log"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/events"
)

// Monitor subscribes to engine topics and keeps the counters current. It also
// forwards protection-lost events to the alert sink.
type Monitor struct {
	Bus     *events.Bus
	Metrics *SystemMetrics
	Alerts  AlertSink
}

// Start launches the subscription loops; they exit with the context.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Metrics == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}

	m.count(ctx, events.EventSignalReceived, m.Metrics.IncrementSignalsReceived)
	m.count(ctx, events.EventSignalExecuted, m.Metrics.IncrementSignalsExecuted)
	m.count(ctx, events.EventSignalRejected, m.Metrics.IncrementSignalsRejected)
	m.count(ctx, events.EventStreamDropped, m.Metrics.IncrementReconnects)

	lost, unsub := m.Bus.Subscribe(events.EventProtectionLost, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-lost:
				if !ok {
					return
				}
				m.Metrics.IncrementErrors()
				if m.Alerts == nil {
					continue
				}
				if change, ok := msg.(events.TradeChange); ok {
					if err := m.Alerts.Send("protection lost: " + change.Symbol + " (" + change.UserID + ")"); err != nil {
						log.Printf("alert send: %v", err)
					}
				}
			}
		}
	}()
}

func (m *Monitor) count(ctx context.Context, topic events.Event, inc func()) {
	ch, unsub := m.Bus.Subscribe(topic, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				inc()
			}
		}
	}()
}
