package pubsub

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"erebus/pubsub/internal/logging"
)

// Facade is the typed façade: it binds a map of schemaKey to a registered
// payload type, merges (schemaKey, subTopic) into a single wire topic using
// the reserved separator "_", and validates payloads against their
// registered schema on publish and subscribe.
type Facade struct {
	client   *Client
	validate *validator.Validate

	mu      sync.Mutex
	schemas map[string]reflect.Type
}

// NewFacade constructs a Facade bound to client.
func NewFacade(client *Client) *Facade {
	return &Facade{
		client:   client,
		validate: validator.New(),
		schemas:  make(map[string]reflect.Type),
	}
}

// RegisterSchema binds schemaKey to payload type T, validated via its
// "validate" struct tags. schemaKey must not contain the reserved "_"
// separator, to avoid wire-topic collisions with subTopic.
func RegisterSchema[T any](f *Facade, schemaKey string) error {
	if schemaKey == "" {
		return invalidArg("schemaKey", "must not be empty")
	}
	if strings.Contains(schemaKey, "_") {
		return invalidArg("schemaKey", `must not contain the reserved "_" separator`)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var zero T
	f.schemas[schemaKey] = reflect.TypeOf(zero)
	return nil
}

func wireTopic(schemaKey, subTopic string) string {
	return schemaKey + "_" + subTopic
}

func (f *Facade) schemaRegistered(schemaKey string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.schemas[schemaKey]
	return ok
}

// PublishTyped validates payload against schemaKey's registered schema,
// JSON-encodes it, and publishes it fire-and-forget to the merged topic.
func PublishTyped[T any](f *Facade, schemaKey, subTopic string, payload T) (string, error) {
	if !f.schemaRegistered(schemaKey) {
		return "", &SchemaMissingError{SchemaKey: schemaKey}
	}
	if err := f.validate.Struct(payload); err != nil {
		return "", &SchemaMismatchError{SchemaKey: schemaKey, Reason: err.Error()}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &SchemaMismatchError{SchemaKey: schemaKey, Reason: err.Error()}
	}
	return f.client.Publish(wireTopic(schemaKey, subTopic), string(body))
}

// SubscribeTyped decodes and validates each inbound payload against
// schemaKey's registered schema before invoking handler.
func SubscribeTyped[T any](f *Facade, schemaKey, subTopic string, handler func(T, MessageMeta), onAck AckCallback, timeout time.Duration, opts SubscribeOptions) (HandlerID, error) {
	if !f.schemaRegistered(schemaKey) {
		return 0, &SchemaMissingError{SchemaKey: schemaKey}
	}
	topic := wireTopic(schemaKey, subTopic)

	wrapped := func(payload string, meta MessageMeta) {
		var decoded T
		if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
			f.client.log.Warn("pubsub: typed facade could not decode payload", logging.String("schemaKey", schemaKey), logging.String("topic", topic), logging.Error(err))
			return
		}
		if err := f.validate.Struct(decoded); err != nil {
			f.client.log.Warn("pubsub: typed facade payload failed validation", logging.String("schemaKey", schemaKey), logging.String("topic", topic), logging.Error(err))
			return
		}
		handler(decoded, meta)
	}

	return f.client.Subscribe(topic, wrapped, onAck, timeout, opts)
}
