// Package ack correlates client message ids to server acknowledgements,
// resolving callbacks on success, error, deadline expiry, or cancellation.
package ack

import (
	"errors"
	"sync"
	"time"

	"erebus/pubsub/internal/codec"
)

// Kind enumerates the operation an ack correlates to.
type Kind int

const (
	KindPublish Kind = iota
	KindSubscribe
	KindUnsubscribe
)

// Outcome enumerates how a pending entry was resolved, for callers that
// need to distinguish success from the various failure modes.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeServerError
	OutcomeTimeout
	OutcomeCancelled
)

// Result is delivered to a pending entry's callback exactly once.
type Result struct {
	Outcome     Outcome
	Topic       string
	Seq         string
	ServerMsgID string
	TIngress    int64
	Code        string
	Message     string
}

// Callback receives the terminal Result for one pending operation.
type Callback func(Result)

var (
	// ErrTimeout is carried in a timed-out entry's synthesized server error.
	ErrTimeout = errors.New("ack: deadline exceeded")
	// ErrCancelled indicates close() resolved the pending entry.
	ErrCancelled = errors.New("ack: cancelled")
)

type pending struct {
	kind     Kind
	topic    string
	callback Callback
	timer    *time.Timer
	resolved bool
}

// Manager tracks pending acknowledgements keyed by clientMsgId.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*pending
}

// New constructs an empty ack Manager.
func New() *Manager {
	return &Manager{entries: make(map[string]*pending)}
}

// Register records a pending operation awaiting acknowledgement. If
// callback is nil, Register still tracks the deadline (for timeout
// bookkeeping) but no notification occurs.
func (m *Manager) Register(clientMsgID string, kind Kind, topic string, timeout time.Duration, callback Callback) {
	if m == nil || clientMsgID == "" {
		return
	}
	p := &pending{kind: kind, topic: topic, callback: callback}
	m.mu.Lock()
	m.entries[clientMsgID] = p
	m.mu.Unlock()

	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() {
			m.resolve(clientMsgID, Result{Outcome: OutcomeTimeout, Topic: topic, Message: ErrTimeout.Error()})
		})
	}
}

// ResolveAck resolves a pending entry using a decoded ack envelope's result.
func (m *Manager) ResolveAck(clientMsgID string, detail codec.AckResultDetail) {
	if detail.OK {
		m.resolve(clientMsgID, Result{
			Outcome:     OutcomeSuccess,
			Seq:         detail.Seq,
			ServerMsgID: detail.ServerMsgID,
			TIngress:    detail.TIngress,
		})
		return
	}
	m.resolve(clientMsgID, Result{
		Outcome: OutcomeServerError,
		Code:    detail.Code,
		Message: detail.Message,
	})
}

func (m *Manager) resolve(clientMsgID string, result Result) {
	m.mu.Lock()
	p, ok := m.entries[clientMsgID]
	if !ok || p.resolved {
		m.mu.Unlock()
		return
	}
	p.resolved = true
	delete(m.entries, clientMsgID)
	if p.timer != nil {
		p.timer.Stop()
	}
	result.Topic = nonEmpty(result.Topic, p.topic)
	callback := p.callback
	m.mu.Unlock()

	if callback != nil {
		callback(result)
	}
}

func nonEmpty(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}

// CancelAll fails every still-pending entry with OutcomeCancelled. Used by
// connection close.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.resolve(id, Result{Outcome: OutcomeCancelled, Message: ErrCancelled.Error()})
	}
}

// Pending reports whether clientMsgID currently has an unresolved entry.
func (m *Manager) Pending(clientMsgID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[clientMsgID]
	return ok
}
