// Package dispatch implements the Message Processor: duplicate suppression
// and in-order, panic-isolated delivery of inbound publish envelopes to the
// handlers registered with the State Manager.
package dispatch

import (
	"erebus/pubsub/internal/codec"
	"erebus/pubsub/internal/logging"
	"erebus/pubsub/internal/state"
)

// Processor routes decoded publish envelopes to their topic's handlers.
type Processor struct {
	store *state.Manager
	log   *logging.Logger
}

// New constructs a Processor backed by store.
func New(store *state.Manager, log *logging.Logger) *Processor {
	if log == nil {
		log = logging.L()
	}
	return &Processor{store: store, log: log}
}

// Process dedups env by its MessageBody id, then invokes every handler
// registered for its topic. A missing id is treated as non-dedupable: the
// envelope is processed unconditionally and a warning is logged.
func (p *Processor) Process(env *codec.Envelope) {
	if p == nil || env == nil || env.Type != codec.PacketPublish || env.Publish == nil {
		return
	}
	body := env.Publish

	if body.ID == "" {
		p.log.Warn("dispatch: publish envelope missing id, processing unconditionally", logging.String("topic", body.Topic))
	} else if duplicate := p.store.MarkProcessed(body.ID); duplicate {
		return
	}

	handlers := p.store.MessageHandlers(body.Topic)
	if len(handlers) == 0 {
		p.log.Warn("dispatch: no handlers registered for topic", logging.String("topic", body.Topic))
		return
	}

	meta := state.MessageMeta{Topic: body.Topic, Seq: body.Seq, SentAt: body.SentAt}
	for _, handler := range handlers {
		p.invoke(handler, body.Payload, meta)
	}
}

func (p *Processor) invoke(handler state.MessageHandler, payload string, meta state.MessageMeta) {
	defer func() {
		if r := recover(); r != nil {
			//1.- Isolate one handler's panic so the remaining handlers still run.
			p.log.Error("dispatch: handler panicked", logging.String("topic", meta.Topic), logging.String("panic", toString(r)))
		}
	}()
	handler(payload, meta)
}

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unrecoverable panic value"
}
