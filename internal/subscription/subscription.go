// Package subscription implements the subscribe/unsubscribe flow, tracking
// per-topic status in the State Manager, correlating acks through the Ack
// Manager, and re-issuing subscriptions after a successful reconnect.
package subscription

import (
	"sync"
	"time"

	"erebus/pubsub/internal/ack"
	"erebus/pubsub/internal/codec"
	"erebus/pubsub/internal/state"
)

// Sender encodes and transmits an envelope, or enqueues it if the
// connection is not currently open. Implemented by the Connection Manager.
type Sender interface {
	Send(env *codec.Envelope) error
}

// IDGenerator produces a fresh clientMsgId for each outbound operation.
type IDGenerator func() string

// Manager orchestrates subscribe/unsubscribe against the State Manager,
// Ack Manager, and a frame Sender.
type Manager struct {
	store  *state.Manager
	acks   *ack.Manager
	sender Sender
	genID  IDGenerator

	optionsMu sync.Mutex
	options   map[string]topicOptions
}

type topicOptions struct {
	streamOldMessages bool
}

// New constructs a subscription Manager.
func New(store *state.Manager, acks *ack.Manager, sender Sender, genID IDGenerator) *Manager {
	return &Manager{
		store:   store,
		acks:    acks,
		sender:  sender,
		genID:   genID,
		options: make(map[string]topicOptions),
	}
}

// setOption, clearOption, and option guard the options map: Subscribe and
// Unsubscribe write it from the caller's goroutine while Resubscribe reads
// it from the Connection Manager's reconnect goroutine.
func (m *Manager) setOption(topic string, opts topicOptions) {
	m.optionsMu.Lock()
	m.options[topic] = opts
	m.optionsMu.Unlock()
}

func (m *Manager) clearOption(topic string) {
	m.optionsMu.Lock()
	delete(m.options, topic)
	m.optionsMu.Unlock()
}

func (m *Manager) option(topic string) topicOptions {
	m.optionsMu.Lock()
	defer m.optionsMu.Unlock()
	return m.options[topic]
}

// Options configures a single subscribe call.
type Options struct {
	StreamOldMessages bool
}

// Subscribe registers handler for topic, transitions its status to pending,
// and transmits a subscribe frame. onAck, if non-nil, is invoked exactly
// once when the server acknowledges (or the ack times out).
func (m *Manager) Subscribe(topic string, handler state.MessageHandler, onAck ack.Callback, timeout time.Duration, opts Options) (state.HandlerID, error) {
	if topic == "" {
		return 0, errInvalidTopic
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	id := m.store.AddMessageHandler(topic, handler)
	m.setOption(topic, topicOptions{streamOldMessages: opts.StreamOldMessages})
	m.store.SetSubscriptionStatus(topic, state.Pending)

	clientMsgID := m.genID()
	m.acks.Register(clientMsgID, ack.KindSubscribe, topic, timeout, func(result ack.Result) {
		m.onSubscribeResolved(topic, result)
		if onAck != nil {
			onAck(result)
		}
	})

	err := m.sender.Send(&codec.Envelope{
		Type:                 codec.PacketSubscribe,
		SubTopic:             topic,
		SubClientMsgID:       clientMsgID,
		SubStreamOldMessages: opts.StreamOldMessages,
	})
	if err != nil {
		m.store.SetSubscriptionStatus(topic, state.SubError)
		return id, err
	}
	return id, nil
}

// Unsubscribe clears topic's handler set and transmits an unsubscribe frame.
// A subscribe ack still pending for topic is not removed; it resolves on its
// own ack, deadline, or cancellation.
func (m *Manager) Unsubscribe(topic string, onAck ack.Callback, timeout time.Duration) error {
	if topic == "" {
		return errInvalidTopic
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	m.store.ClearMessageHandlers(topic)
	m.clearOption(topic)

	clientMsgID := m.genID()
	m.acks.Register(clientMsgID, ack.KindUnsubscribe, topic, timeout, func(result ack.Result) {
		m.store.SetSubscriptionStatus(topic, state.Unsubscribed)
		if onAck != nil {
			onAck(result)
		}
	})

	return m.sender.Send(&codec.Envelope{
		Type:           codec.PacketUnsubscribe,
		SubTopic:       topic,
		SubClientMsgID: clientMsgID,
	})
}

func (m *Manager) onSubscribeResolved(topic string, result ack.Result) {
	if result.Outcome == ack.OutcomeSuccess {
		m.store.SetSubscriptionStatus(topic, state.Subscribed)
		return
	}
	m.store.SetSubscriptionStatus(topic, state.SubError)
}

// Resubscribe re-issues subscribe frames for every topic whose status was
// subscribed or pending, preserving its streamOldMessages flag. Called by
// the Connection Manager after a successful reconnect.
func (m *Manager) Resubscribe(timeout time.Duration) {
	snap := m.store.Snapshot()
	for topic, status := range snap.Subscriptions {
		if status != state.Subscribed && status != state.Pending {
			continue
		}
		opts := m.option(topic)
		m.store.SetSubscriptionStatus(topic, state.Pending)

		clientMsgID := m.genID()
		m.acks.Register(clientMsgID, ack.KindSubscribe, topic, timeout, func(result ack.Result) {
			m.onSubscribeResolved(topic, result)
		})
		_ = m.sender.Send(&codec.Envelope{
			Type:                 codec.PacketSubscribe,
			SubTopic:             topic,
			SubClientMsgID:       clientMsgID,
			SubStreamOldMessages: opts.streamOldMessages,
		})
	}
}
