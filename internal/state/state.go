// Package state aggregates the client's observable state: channel binding,
// connection lifecycle, per-topic subscription status, handler registries,
// and the bounded processed-message set used for duplicate suppression. It
// is the single authority mutated under one mutex per spec.md §5's
// thread-based-runtime branch, and exposes an immutable Snapshot plus a
// change-notification primitive so hosts can build reactive bindings
// without depending on any particular UI framework.
package state

import (
	"context"
	"sync"
	"time"
)

// ConnectionState is the connection lifecycle variant.
type ConnectionState int

const (
	Idle ConnectionState = iota
	Connecting
	Open
	Closing
	Closed
	ConnError
)

func (s ConnectionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case ConnError:
		return "error"
	default:
		return "unknown"
	}
}

// SubscriptionStatus is the per-topic subscription lifecycle variant.
type SubscriptionStatus int

const (
	Unsubscribed SubscriptionStatus = iota
	Pending
	Subscribed
	SubError
)

func (s SubscriptionStatus) String() string {
	switch s {
	case Unsubscribed:
		return "unsubscribed"
	case Pending:
		return "pending"
	case Subscribed:
		return "subscribed"
	case SubError:
		return "error"
	default:
		return "unknown"
	}
}

// HandlerID is an opaque registration token returned by handler
// registration calls, used to remove that exact handler later. Go function
// values are not comparable, so this token substitutes for the
// reference-equality check the browser original relies on.
type HandlerID uint64

// MessageMeta accompanies a dispatched message payload.
type MessageMeta struct {
	Topic string
	Seq   string
	SentAt string
}

// MessageHandler processes one dispatched publish payload.
type MessageHandler func(payload string, meta MessageMeta)

// PresenceEvent describes an inbound presence transition.
type PresenceEvent struct {
	Topic     string
	ClientID  string
	Status    string
	Timestamp int64
}

// PresenceHandler processes one dispatched presence event.
type PresenceHandler func(event PresenceEvent)

// Snapshot is an immutable view of the aggregate state, safe to read
// without holding any lock.
type Snapshot struct {
	Channel          string
	ConnectionState  ConnectionState
	IsConnected      bool
	IsReadable       bool
	IsWritable       bool
	Subscriptions    map[string]SubscriptionStatus
	PendingSubs      []string
	ProcessedCount   int
	Err              error
}

type messageHandlerEntry struct {
	id HandlerID
	fn MessageHandler
}

type presenceHandlerEntry struct {
	id HandlerID
	fn PresenceHandler
}

type waiter struct {
	topic string
	ch    chan error
}

// Manager is the State Manager: the exclusive owner of handler registries,
// subscription status, the processed-message set, and the aggregate
// snapshot.
type Manager struct {
	mu sync.Mutex

	channel         string
	connState       ConnectionState
	subscriptions   map[string]SubscriptionStatus
	pendingSubs     map[string]bool
	messageHandlers map[string][]messageHandlerEntry
	presenceHandlers map[string][]presenceHandlerEntry
	processed       *boundedSet
	lastErr         error

	nextHandlerID uint64
	listeners     map[uint64]func(Snapshot)
	nextListener  uint64
	waiters       map[string][]waiter
}

// New constructs an empty Manager. processedCapacity defaults to 4096 when
// non-positive, per spec.md §3's recommended (non-load-bearing) bound.
func New(processedCapacity int) *Manager {
	if processedCapacity <= 0 {
		processedCapacity = 4096
	}
	return &Manager{
		subscriptions:    make(map[string]SubscriptionStatus),
		pendingSubs:      make(map[string]bool),
		messageHandlers:  make(map[string][]messageHandlerEntry),
		presenceHandlers: make(map[string][]presenceHandlerEntry),
		processed:        newBoundedSet(processedCapacity),
		listeners:        make(map[uint64]func(Snapshot)),
		waiters:          make(map[string][]waiter),
		connState:        Idle,
	}
}

// OnChange registers a callback invoked after every coherent mutation,
// returning a cancel function. Callbacks run synchronously on the
// mutating goroutine with the lock released.
func (m *Manager) OnChange(fn func(Snapshot)) func() {
	if m == nil || fn == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notifyLocked() []func(Snapshot) {
	fns := make([]func(Snapshot), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func (m *Manager) emit() {
	m.mu.Lock()
	snap := m.snapshotLocked()
	fns := m.notifyLocked()
	m.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// Snapshot returns an immutable copy of the current aggregate state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	subs := make(map[string]SubscriptionStatus, len(m.subscriptions))
	for k, v := range m.subscriptions {
		subs[k] = v
	}
	pending := make([]string, 0, len(m.pendingSubs))
	for topic := range m.pendingSubs {
		pending = append(pending, topic)
	}
	open := m.connState == Open
	return Snapshot{
		Channel:         m.channel,
		ConnectionState: m.connState,
		IsConnected:     open,
		IsReadable:      open,
		IsWritable:      open,
		Subscriptions:   subs,
		PendingSubs:     pending,
		ProcessedCount:  m.processed.Len(),
		Err:             m.lastErr,
	}
}

// SetChannel records the bound channel. Idempotent: setting the same
// channel again is a no-op.
func (m *Manager) SetChannel(name string) {
	m.mu.Lock()
	changed := m.channel != name
	m.channel = name
	m.mu.Unlock()
	if changed {
		m.emit()
	}
}

// Channel returns the currently bound channel, empty if none.
func (m *Manager) Channel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel
}

// SetConnectionState updates the connection lifecycle variant.
func (m *Manager) SetConnectionState(s ConnectionState) {
	m.mu.Lock()
	m.connState = s
	m.mu.Unlock()
	m.emit()
}

// ConnectionState returns the current connection lifecycle variant.
func (m *Manager) ConnectionState() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connState
}

// SetError records the last observed error.
func (m *Manager) SetError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	m.emit()
}

// SubscriptionStatus returns the current status for topic, defaulting to
// Unsubscribed.
func (m *Manager) SubscriptionStatus(topic string) SubscriptionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions[topic]
}

// SetSubscriptionStatus transitions topic's status and resolves any
// waiters blocked in WaitForSubscriptionReady when the topic becomes
// Subscribed or SubError.
func (m *Manager) SetSubscriptionStatus(topic string, status SubscriptionStatus) {
	m.mu.Lock()
	m.subscriptions[topic] = status
	if status == Pending {
		m.pendingSubs[topic] = true
	} else {
		delete(m.pendingSubs, topic)
	}
	var toResolve []waiter
	if status == Subscribed || status == SubError {
		toResolve = m.waiters[topic]
		delete(m.waiters, topic)
	}
	m.mu.Unlock()

	for _, w := range toResolve {
		if status == Subscribed {
			w.ch <- nil
		} else {
			w.ch <- errSubscriptionFailed
		}
	}
	m.emit()
}

// WaitForSubscriptionReady blocks until topic reaches Subscribed (returns
// nil), SubError (returns an error), ctx is done, or timeout elapses.
func (m *Manager) WaitForSubscriptionReady(ctx context.Context, topic string, timeout time.Duration) error {
	m.mu.Lock()
	switch m.subscriptions[topic] {
	case Subscribed:
		m.mu.Unlock()
		return nil
	case SubError:
		m.mu.Unlock()
		return errSubscriptionFailed
	}
	ch := make(chan error, 1)
	m.waiters[topic] = append(m.waiters[topic], waiter{topic: topic, ch: ch})
	m.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case err := <-ch:
		return err
	case <-timeoutCh:
		return errWaitTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddMessageHandler registers handler for topic and returns its id.
func (m *Manager) AddMessageHandler(topic string, handler MessageHandler) HandlerID {
	m.mu.Lock()
	id := HandlerID(m.nextHandlerID + 1)
	m.nextHandlerID++
	m.messageHandlers[topic] = append(m.messageHandlers[topic], messageHandlerEntry{id: id, fn: handler})
	m.mu.Unlock()
	m.emit()
	return id
}

// MessageHandlers returns a snapshot copy of the ordered handler list for topic.
func (m *Manager) MessageHandlers(topic string) []MessageHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.messageHandlers[topic]
	out := make([]MessageHandler, len(entries))
	for i, e := range entries {
		out[i] = e.fn
	}
	return out
}

// ClearMessageHandlers removes every message handler registered for topic.
func (m *Manager) ClearMessageHandlers(topic string) {
	m.mu.Lock()
	delete(m.messageHandlers, topic)
	m.mu.Unlock()
	m.emit()
}

// AddPresenceHandler registers handler for topic's presence events and
// returns its id.
func (m *Manager) AddPresenceHandler(topic string, handler PresenceHandler) HandlerID {
	m.mu.Lock()
	id := HandlerID(m.nextHandlerID + 1)
	m.nextHandlerID++
	m.presenceHandlers[topic] = append(m.presenceHandlers[topic], presenceHandlerEntry{id: id, fn: handler})
	m.mu.Unlock()
	m.emit()
	return id
}

// RemovePresenceHandler removes the presence handler registered under id
// for topic, if present.
func (m *Manager) RemovePresenceHandler(topic string, id HandlerID) {
	m.mu.Lock()
	entries := m.presenceHandlers[topic]
	for i, e := range entries {
		if e.id == id {
			m.presenceHandlers[topic] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	m.emit()
}

// ClearPresenceHandlers empties topic's presence handler set.
func (m *Manager) ClearPresenceHandlers(topic string) {
	m.mu.Lock()
	delete(m.presenceHandlers, topic)
	m.mu.Unlock()
	m.emit()
}

// PresenceHandlers returns a snapshot copy of the ordered handler list for topic.
func (m *Manager) PresenceHandlers(topic string) []PresenceHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.presenceHandlers[topic]
	out := make([]PresenceHandler, len(entries))
	for i, e := range entries {
		out[i] = e.fn
	}
	return out
}

// MarkProcessed reports whether id was already seen (duplicate) and, if
// not, records it, evicting the oldest entry on overflow.
func (m *Manager) MarkProcessed(id string) (duplicate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed.Insert(id)
}
