package pubsub

import (
	"erebus/pubsub/internal/ack"
	"erebus/pubsub/internal/state"
)

// ConnectionState is the connection lifecycle variant: idle, connecting,
// open, closing, closed, or error.
type ConnectionState = state.ConnectionState

// Connection lifecycle states.
const (
	Idle       = state.Idle
	Connecting = state.Connecting
	Open       = state.Open
	Closing    = state.Closing
	Closed     = state.Closed
	ConnError  = state.ConnError
)

// SubscriptionStatus is the per-topic subscription lifecycle variant.
type SubscriptionStatus = state.SubscriptionStatus

// Subscription lifecycle states.
const (
	Unsubscribed = state.Unsubscribed
	Pending      = state.Pending
	Subscribed   = state.Subscribed
	SubError     = state.SubError
)

// HandlerID is an opaque registration token returned by handler
// registration calls (Subscribe, OnPresence). An id from OnPresence removes
// that exact handler via OffPresence; an id from Subscribe has no removal
// call of its own (Unsubscribe clears the whole topic).
type HandlerID = state.HandlerID

// MessageMeta accompanies a dispatched publish payload.
type MessageMeta = state.MessageMeta

// MessageHandler processes one dispatched publish payload.
type MessageHandler = state.MessageHandler

// PresenceEvent describes an inbound presence transition.
type PresenceEvent = state.PresenceEvent

// PresenceHandler processes one dispatched presence event.
type PresenceHandler = state.PresenceHandler

// Snapshot is an immutable view of the client's aggregate state.
type Snapshot = state.Snapshot

// AckOutcome enumerates how a pending acknowledgement was resolved.
type AckOutcome = ack.Outcome

// Ack outcomes.
const (
	AckSuccess     = ack.OutcomeSuccess
	AckServerError = ack.OutcomeServerError
	AckTimeout     = ack.OutcomeTimeout
	AckCancelled   = ack.OutcomeCancelled
)

// AckResult is delivered to an onAck callback exactly once.
type AckResult = ack.Result

// AckCallback receives the terminal AckResult for one pending operation.
type AckCallback = ack.Callback

// SubscribeOptions configures a single Subscribe call.
type SubscribeOptions struct {
	StreamOldMessages bool
}
