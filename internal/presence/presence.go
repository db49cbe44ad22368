// Package presence routes inbound presence envelopes to the per-topic
// handler sets owned by the State Manager, isolating one handler's panic
// from the rest.
package presence

import (
	"erebus/pubsub/internal/codec"
	"erebus/pubsub/internal/logging"
	"erebus/pubsub/internal/state"
)

// Dispatcher invokes the registered presence handlers for an inbound
// presence envelope, in insertion order, logging and isolating panics.
type Dispatcher struct {
	store *state.Manager
	log   *logging.Logger
}

// New constructs a Dispatcher backed by store.
func New(store *state.Manager, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.L()
	}
	return &Dispatcher{store: store, log: log}
}

// Dispatch invokes every handler registered for env's topic.
func (d *Dispatcher) Dispatch(env *codec.Envelope) {
	if d == nil || env == nil || env.Type != codec.PacketPresence {
		return
	}
	event := state.PresenceEvent{
		Topic:     env.PresenceTopic,
		ClientID:  env.PresenceClientID,
		Status:    string(env.PresenceStatus),
		Timestamp: env.PresenceTimestamp,
	}
	for _, handler := range d.store.PresenceHandlers(event.Topic) {
		d.invoke(handler, event)
	}
}

func (d *Dispatcher) invoke(handler state.PresenceHandler, event state.PresenceEvent) {
	defer func() {
		if r := recover(); r != nil {
			//1.- Isolate one handler's panic so the remaining handlers still run.
			d.log.Error("presence: handler panicked", logging.String("topic", event.Topic), logging.String("panic", toString(r)))
		}
	}()
	handler(event)
}

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unrecoverable panic value"
}
