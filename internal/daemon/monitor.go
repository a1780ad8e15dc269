package daemon

import (
	"sync"
	"sync/atomic"

	"github.com/rescale/runwatch/internal/events"
	"github.com/rescale/runwatch/internal/logging"
)

// MonitorStats are the counters kept by the Monitor.
type MonitorStats struct {
	Scans           int64 `json:"scans"`
	Skipped         int64 `json:"skipped"`
	Published       int64 `json:"published"`
	PublishFailures int64 `json:"publish_failures"`
}

// Monitor consumes the event bus, logging skipped runs, pass summaries and
// sink deliveries, and counting them for the status endpoint.
type Monitor struct {
	bus    *events.EventBus
	logger *logging.Logger
	ch     <-chan events.Event
	done   chan struct{}
	wg     sync.WaitGroup

	scans           atomic.Int64
	skipped         atomic.Int64
	published       atomic.Int64
	publishFailures atomic.Int64
}

// NewMonitor creates a monitor for bus.
func NewMonitor(bus *events.EventBus, logger *logging.Logger) *Monitor {
	return &Monitor{
		bus:    bus,
		logger: logging.OrNop(logger),
		done:   make(chan struct{}),
	}
}

// Start subscribes to the bus and consumes events until Stop or bus close.
func (m *Monitor) Start() {
	if m.bus == nil {
		return
	}
	m.ch = m.bus.SubscribeAll()
	m.wg.Add(1)
	go m.run()
}

// Stop unsubscribes and waits for the consumer to exit.
func (m *Monitor) Stop() {
	if m.ch == nil {
		return
	}
	m.bus.UnsubscribeAll(m.ch)
	close(m.done)
	m.wg.Wait()
}

// Stats returns a snapshot of the counters.
func (m *Monitor) Stats() MonitorStats {
	return MonitorStats{
		Scans:           m.scans.Load(),
		Skipped:         m.skipped.Load(),
		Published:       m.published.Load(),
		PublishFailures: m.publishFailures.Load(),
	}
}

func (m *Monitor) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case e, ok := <-m.ch:
			if !ok {
				return
			}
			m.handle(e)
		}
	}
}

func (m *Monitor) handle(e events.Event) {
	switch ev := e.(type) {
	case *events.RunSkippedEvent:
		m.skipped.Add(1)
		m.logger.Warn().
			Str("run", ev.RunName).
			Str("path", ev.Path).
			Str("reason", ev.Reason).
			Msg("Run skipped")

	case *events.ScanCompleteEvent:
		m.scans.Add(1)
		m.logger.Info().
			Str("scan", ev.ScanID).
			Interface("counts", ev.Counts).
			Int("skipped", ev.Skipped).
			Int("cache_hits", ev.CacheHits).
			Dur("duration", ev.Duration).
			Msg("Scan pass complete")

	case *events.PublishedEvent:
		if ev.Error != nil {
			m.publishFailures.Add(1)
			m.logger.Error().
				Err(ev.Error).
				Str("sink", ev.Sink).
				Str("target", ev.Target).
				Msg("Failed to publish report")
			return
		}
		m.published.Add(1)
		m.logger.Debug().
			Str("sink", ev.Sink).
			Str("target", ev.Target).
			Msg("Report published")

	case *events.RunStateEvent:
		m.logger.Debug().
			Str("run", ev.RunName).
			Str("state", ev.State).
			Bool("cached", ev.FromCache).
			Msg("Run classified")
	}
}
