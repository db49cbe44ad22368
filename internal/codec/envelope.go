// Package codec encodes and decodes the PacketEnvelope wire frames exchanged
// with the gateway over the framed transport. Every frame is one UTF-8 JSON
// object; the codec validates structure on encode and performs a best-effort
// decode, returning nil rather than an error for malformed or unrecognised
// frames so the caller can drop-and-log without tearing down the connection.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"erebus/pubsub/internal/logging"
)

// MaxFrameBytes bounds the size of a single inbound frame; larger frames are
// rejected during decode.
const MaxFrameBytes = 1 << 20

// PacketType enumerates the wire-level discriminator values.
type PacketType string

const (
	PacketPublish     PacketType = "publish"
	PacketSubscribe   PacketType = "subscribe"
	PacketUnsubscribe PacketType = "unsubscribe"
	PacketAck         PacketType = "ack"
	PacketPresence    PacketType = "presence"
	PacketHeartbeat   PacketType = "heartbeat"
)

// AckPath enumerates the operations an ack frame may acknowledge.
type AckPath string

const (
	AckPathPublish     AckPath = "publish"
	AckPathSubscribe   AckPath = "subscribe"
	AckPathUnsubscribe AckPath = "unsubscribe"
)

// PresenceStatus enumerates presence transition kinds.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// ErrEncodeInvalid is returned by Encode when a required field is missing or malformed.
var ErrEncodeInvalid = errors.New("codec: invalid envelope for encoding")

// EncodeError wraps ErrEncodeInvalid with the offending field's detail.
type EncodeError struct {
	Reason string
}

func (e *EncodeError) Error() string  { return fmt.Sprintf("codec: %s", e.Reason) }
func (e *EncodeError) Unwrap() error  { return ErrEncodeInvalid }
func encodeErr(reason string) error   { return &EncodeError{Reason: reason} }

// MessageBody is the payload record carried by publish envelopes.
type MessageBody struct {
	ID               string `json:"id,omitempty"`
	Topic            string `json:"topic"`
	SenderID         string `json:"senderId,omitempty"`
	Seq              string `json:"seq,omitempty"`
	SentAt           string `json:"sentAt,omitempty"`
	Payload          string `json:"payload"`
	ClientMsgID      string `json:"clientMsgId,omitempty"`
	ClientPublishTS  int64  `json:"clientPublishTs,omitempty"`
}

// AckResultDetail carries the discriminated result embedded in an ack frame.
type AckResultDetail struct {
	OK          bool   `json:"ok"`
	Seq         string `json:"seq,omitempty"`
	ServerMsgID string `json:"serverMsgId,omitempty"`
	TIngress    int64  `json:"t_ingress,omitempty"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
}

// AckResult is the "result" object of an ack frame: the path being
// acknowledged, the topic, and the discriminated outcome.
type AckResult struct {
	Path   AckPath         `json:"path"`
	Topic  string          `json:"topic,omitempty"`
	Result AckResultDetail `json:"result"`
}

// Envelope is the decoded, tagged-union representation of one wire frame.
// Exactly one of the payload fields is populated, selected by Type.
type Envelope struct {
	Type PacketType

	Publish *MessageBody

	SubTopic             string
	SubClientMsgID       string
	SubStreamOldMessages bool

	AckClientMsgID string
	Ack            *AckResult

	PresenceTopic     string
	PresenceClientID  string
	PresenceStatus    PresenceStatus
	PresenceTimestamp int64
}

// wireEnvelope is the JSON-level shape used for marshalling/unmarshalling;
// every variant's fields are optional so a single struct can represent all
// of them, matching the gateway's flat frame shapes in the wire contract.
type wireEnvelope struct {
	PacketType        PacketType       `json:"packetType"`
	Topic             string           `json:"topic,omitempty"`
	Payload           *MessageBody     `json:"payload,omitempty"`
	ClientMsgID       string           `json:"clientMsgId,omitempty"`
	StreamOldMessages bool             `json:"streamOldMessages,omitempty"`
	Result            *AckResult       `json:"result,omitempty"`
	ClientID          string           `json:"clientId,omitempty"`
	Status            PresenceStatus   `json:"status,omitempty"`
	Timestamp         int64            `json:"timestamp,omitempty"`
}

// Encode validates the envelope's structure for its variant and marshals it
// to the framed wire representation.
func Encode(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, encodeErr("nil envelope")
	}
	wire := wireEnvelope{PacketType: env.Type}

	switch env.Type {
	case PacketPublish:
		if env.Publish == nil || env.Publish.Topic == "" {
			return nil, encodeErr("publish envelope requires topic and payload")
		}
		wire.Topic = env.Publish.Topic
		wire.Payload = env.Publish

	case PacketSubscribe, PacketUnsubscribe:
		if env.SubTopic == "" {
			return nil, encodeErr(fmt.Sprintf("%s envelope requires topic", env.Type))
		}
		wire.Topic = env.SubTopic
		wire.ClientMsgID = env.SubClientMsgID
		wire.StreamOldMessages = env.SubStreamOldMessages

	case PacketHeartbeat:
		// no additional fields

	case PacketPresence:
		if env.PresenceTopic == "" || env.PresenceClientID == "" {
			return nil, encodeErr("presence envelope requires topic and clientId")
		}
		if env.PresenceStatus != PresenceOnline && env.PresenceStatus != PresenceOffline {
			return nil, encodeErr("presence envelope requires a valid status")
		}
		wire.Topic = env.PresenceTopic
		wire.ClientID = env.PresenceClientID
		wire.Status = env.PresenceStatus
		wire.Timestamp = env.PresenceTimestamp

	case PacketAck:
		if env.Ack == nil || env.Ack.Path == "" {
			return nil, encodeErr("ack envelope requires a result path")
		}
		wire.ClientMsgID = env.AckClientMsgID
		wire.Result = env.Ack

	default:
		return nil, encodeErr(fmt.Sprintf("unknown packet type %q", env.Type))
	}

	return json.Marshal(wire)
}

// Decode performs a best-effort parse of a single inbound frame. It returns
// nil (it has no error result) for structurally invalid, empty, oversize, or
// unrecognised frames; callers should log and drop in that case rather than
// treat decode failure as fatal.
func Decode(frame []byte) *Envelope {
	if len(frame) == 0 {
		logging.L().Warn("codec: dropping empty frame")
		return nil
	}
	if len(frame) > MaxFrameBytes {
		logging.L().Warn("codec: dropping oversize frame", logging.Int("bytes", len(frame)))
		return nil
	}

	var wire wireEnvelope
	if err := json.Unmarshal(frame, &wire); err != nil {
		//1.- A legacy shape sends a bare MessageBody for publish frames with no
		// packetType wrapper; detect and wrap it for uniform downstream handling.
		var legacy MessageBody
		if legacyErr := json.Unmarshal(frame, &legacy); legacyErr == nil && legacy.Topic != "" && legacy.Payload != "" {
			return &Envelope{Type: PacketPublish, Publish: &legacy}
		}
		logging.L().Warn("codec: dropping unparsable frame", logging.Error(err))
		return nil
	}

	switch wire.PacketType {
	case PacketPublish:
		if wire.Payload == nil {
			//1.- Tolerate the legacy bare-body shape even when packetType is present
			// but payload nesting is absent, by re-parsing the frame directly.
			var legacy MessageBody
			if err := json.Unmarshal(frame, &legacy); err == nil && legacy.Topic != "" {
				return &Envelope{Type: PacketPublish, Publish: &legacy}
			}
			logging.L().Warn("codec: publish frame missing payload")
			return nil
		}
		return &Envelope{Type: PacketPublish, Publish: wire.Payload}

	case PacketSubscribe, PacketUnsubscribe:
		if wire.Topic == "" {
			logging.L().Warn("codec: subscribe/unsubscribe frame missing topic")
			return nil
		}
		return &Envelope{
			Type:                 wire.PacketType,
			SubTopic:             wire.Topic,
			SubClientMsgID:       wire.ClientMsgID,
			SubStreamOldMessages: wire.StreamOldMessages,
		}

	case PacketHeartbeat:
		return &Envelope{Type: PacketHeartbeat}

	case PacketPresence:
		if wire.Topic == "" || wire.ClientID == "" {
			logging.L().Warn("codec: presence frame missing topic or clientId")
			return nil
		}
		return &Envelope{
			Type:              PacketPresence,
			PresenceTopic:      wire.Topic,
			PresenceClientID:   wire.ClientID,
			PresenceStatus:     wire.Status,
			PresenceTimestamp:  wire.Timestamp,
		}

	case PacketAck:
		//1.- The ack discriminator hierarchy cannot be decoded structurally: match
		// packetType, then result.path, then inspect result.result.ok, in that
		// exact order, per the wire contract's documented ambiguity.
		if wire.Result == nil || wire.Result.Path == "" {
			logging.L().Warn("codec: ack frame missing result.path")
			return nil
		}
		switch wire.Result.Path {
		case AckPathPublish, AckPathSubscribe, AckPathUnsubscribe:
			return &Envelope{Type: PacketAck, AckClientMsgID: wire.ClientMsgID, Ack: wire.Result}
		default:
			logging.L().Warn("codec: ack frame has unknown result.path", logging.String("path", string(wire.Result.Path)))
			return nil
		}

	default:
		logging.L().Warn("codec: unknown packetType", logging.String("packetType", string(wire.PacketType)))
		return nil
	}
}
