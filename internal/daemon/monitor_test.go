package daemon

import (
	"errors"
	"testing"
	"time"

	"github.com/rescale/runwatch/internal/events"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Timeout waiting for condition")
}

func TestMonitor_CountsEvents(t *testing.T) {
	bus := events.NewEventBus(10)
	defer bus.Close()

	m := NewMonitor(bus, nil)
	m.Start()
	defer m.Stop()

	bus.PublishRunSkipped("scan-1", "run1", "/p/run1", "permission denied")
	bus.Publish(&events.ScanCompleteEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventScanComplete, Time: time.Now()},
		ScanID:    "scan-1",
	})
	bus.Publish(&events.PublishedEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventPublished, Time: time.Now()},
		Sink:      "file",
	})
	bus.Publish(&events.PublishedEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventPublished, Time: time.Now()},
		Sink:      "http",
		Error:     errors.New("connection refused"),
	})

	waitFor(t, func() bool {
		st := m.Stats()
		return st.Skipped == 1 && st.Scans == 1 && st.Published == 1 && st.PublishFailures == 1
	})
}

func TestMonitor_NilBus(t *testing.T) {
	m := NewMonitor(nil, nil)
	m.Start()
	m.Stop()
	if st := m.Stats(); st != (MonitorStats{}) {
		t.Errorf("Expected zero stats, got %+v", st)
	}
}
