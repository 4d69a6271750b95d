package protocol

import (
	"bytes"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	envelopeTypeField    protowire.Number = 1
	envelopePayloadField protowire.Number = 2
)

// Envelope is the outer frame: a type tag and the encoded payload bytes.
// Envelopes are only produced by DecodeEnvelope, so every Envelope carries a
// registered type and a payload that parses under that type's schema.
type Envelope struct {
	typ     MessageType
	payload []byte
}

// Type returns the envelope's type tag.
func (e Envelope) Type() MessageType { return e.typ }

// EncodeEnvelope serializes typ and payload into one frame.
//
// Precondition: typ must be valid.
// Postcondition: DecodeEnvelope of the result yields typ and an equal payload.
func EncodeEnvelope(typ MessageType, payload []byte) []byte {
	b := make([]byte, 0, len(payload)+8)
	b = protowire.AppendTag(b, envelopeTypeField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(typ))
	if len(payload) > 0 {
		b = protowire.AppendTag(b, envelopePayloadField, protowire.BytesType)
		b = protowire.AppendBytes(b, payload)
	}
	return b
}

// DecodeEnvelope parses a frame and checks its payload against the schema
// registered for its type.
//
// Postcondition: Returns an Envelope whose Message succeeds, or an error
// wrapping ErrMalformedMessage.
func DecodeEnvelope(data []byte) (Envelope, error) {
	env, err := decodeFrame(data)
	if err != nil {
		return Envelope{}, err
	}
	if _, err := env.Message(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// decodeFrame parses the outer frame only.
func decodeFrame(data []byte) (Envelope, error) {
	var (
		env     Envelope
		typeSet bool
	)
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case envelopeTypeField:
			v, n, err := consumeVarint(num, typ, b)
			if err != nil {
				return 0, err
			}
			if v > math.MaxInt32 {
				return 0, malformed("message type %d out of range", v)
			}
			env.typ = MessageType(v)
			typeSet = true
			return n, nil
		case envelopePayloadField:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			env.payload = bytes.Clone(v)
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return Envelope{}, err
	}
	if !typeSet {
		return Envelope{}, malformed("envelope has no type")
	}
	if !env.typ.Valid() {
		return Envelope{}, malformed("unknown message type %d", int32(env.typ))
	}
	return env, nil
}

// Encode serializes msg into an envelope frame tagged with msg.Type().
func Encode(msg Message) []byte {
	return EncodeEnvelope(msg.Type(), msg.appendPayload(nil))
}

// Decode parses a frame and its payload under the schema registered for the
// envelope's type. The concrete type of the returned Message is one of the
// nine payload records in this package.
//
// Postcondition: Returns a non-nil Message, or an error wrapping ErrMalformedMessage.
func Decode(data []byte) (Message, error) {
	env, err := decodeFrame(data)
	if err != nil {
		return nil, err
	}
	return env.Message()
}

// Message decodes the envelope payload under the schema for its type.
func (e Envelope) Message() (Message, error) {
	msg := newMessage(e.typ)
	if msg == nil {
		return nil, malformed("unknown message type %d", int32(e.typ))
	}
	if err := msg.unmarshalPayload(e.payload); err != nil {
		return nil, err
	}
	return msg, nil
}
