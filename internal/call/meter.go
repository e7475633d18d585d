package call

import (
	"sync"
	"sync/atomic"
	"time"
)

// meter drives billing ticks for one connected session at a fixed interval.
//
// Tick semantics:
// - Invocations are strictly serialized: tick n+1 never starts before
//   tick n returns.
// - If a tick's work outlasts the interval, elapsed ticks are skipped, not
//   queued, so slow ledger I/O can never cause a burst of catch-up charges.
// - After Stop returns, no new tick invocation starts. A tick already in
//   flight may still complete its ledger write; the engine re-checks
//   session state before committing (see Engine.tick).
type meter struct {
	interval time.Duration
	tick     func()

	stop     chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
}

// startMeter begins ticking immediately on its own goroutine.
func startMeter(interval time.Duration, tick func()) *meter {
	m := &meter{
		interval: interval,
		tick:     tick,
		stop:     make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *meter) run() {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			if m.stopped.Load() {
				return
			}
			m.tick()
			// Drop any tick that elapsed while the last one ran.
			select {
			case <-t.C:
			default:
			}
		}
	}
}

// Stop cancels the meter. Idempotent and safe on an already-stopped meter;
// it does not wait for an in-flight tick.
func (m *meter) Stop() {
	m.stopOnce.Do(func() {
		m.stopped.Store(true)
		close(m.stop)
	})
}
