// Package heartbeat drives periodic liveness probes over an open connection
// and detects silent failure when no inbound traffic has been observed for
// twice the heartbeat interval.
package heartbeat

import (
	"sync"
	"time"
)

// DefaultInterval is the default heartbeat cadence.
const DefaultInterval = 25 * time.Second

// Monitor emits a heartbeat frame on each tick via Send, and invokes
// OnSilence if no traffic (of any kind) has been observed for
// 2*Interval.
type Monitor struct {
	Interval  time.Duration
	Send      func()
	OnSilence func()

	mu          sync.Mutex
	lastTraffic time.Time
	now         func() time.Time

	stop chan struct{}
	done chan struct{}
}

// New constructs a heartbeat monitor. interval defaults to DefaultInterval
// when non-positive.
func New(interval time.Duration, send func(), onSilence func()) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		Interval:  interval,
		Send:      send,
		OnSilence: onSilence,
		now:       time.Now,
	}
}

// ObserveTraffic records that inbound traffic (of any kind) was just seen,
// resetting the silence timer.
func (m *Monitor) ObserveTraffic() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lastTraffic = m.now()
	m.mu.Unlock()
}

// Start begins the periodic ticking. Calling Start twice without an
// intervening Stop is a no-op.
func (m *Monitor) Start() {
	if m == nil || m.stop != nil {
		return
	}
	m.mu.Lock()
	m.lastTraffic = m.now()
	m.mu.Unlock()

	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop := m.stop
	done := m.done

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				//1.- Emit the heartbeat frame every tick while the connection is open.
				if m.Send != nil {
					m.Send()
				}
				//2.- Detect silent failure: no inbound traffic for 2x the interval.
				m.mu.Lock()
				silentFor := m.now().Sub(m.lastTraffic)
				m.mu.Unlock()
				if silentFor >= 2*m.Interval && m.OnSilence != nil {
					m.OnSilence()
				}
			}
		}
	}()
}

// Stop halts the ticking goroutine and waits for it to exit.
func (m *Monitor) Stop() {
	if m == nil || m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
	m.stop = nil
	m.done = nil
}
