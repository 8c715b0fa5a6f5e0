package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire-level tagged union every command and event uses.
//
// Type discriminates the payload schema. Payload is looked up in the
// registry by Type; an unknown Type or a payload that fails structural
// validation never closes the connection — it produces an Error event on
// the same connection (see Decode).
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// Validatable is implemented by every command/event payload. Validate is
// called immediately after JSON decoding, before the payload reaches any
// actor handler.
type Validatable interface {
	Validate() error
}

// Encode wraps a payload in an Envelope and marshals it, stamping the
// current time. Used by actors to build outgoing event frames.
func Encode(eventType string, payload any, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	env := Envelope{Type: eventType, Payload: raw, Timestamp: &now}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", eventType, err)
	}
	return data, nil
}

// Decode parses a raw inbound frame, looks up its schema by Type, decodes
// the payload into the registered zero value, and validates it.
//
// The returned error is always a *Error suitable for sending straight back
// to the offending connection; callers never need to synthesize a second
// error value on decode failure.
func Decode(raw []byte) (Envelope, any, *Error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, nil, NewError(CodeInvalidPayload, "malformed envelope: "+err.Error())
	}
	if env.Type == "" {
		return env, nil, NewError(CodeUnknownType, "missing type")
	}

	factory, ok := registry[env.Type]
	if !ok {
		return env, nil, NewError(CodeUnknownType, "unknown type: "+env.Type)
	}

	payload := factory()
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, payload); err != nil {
			return env, nil, NewError(CodeInvalidPayload, "malformed payload: "+err.Error())
		}
	}
	if v, ok := payload.(Validatable); ok {
		if err := v.Validate(); err != nil {
			return env, nil, NewError(CodeInvalidPayload, err.Error())
		}
	}
	return env, payload, nil
}

var registry = map[string]func() any{}

// Register adds a command/event type to the schema registry. zero must
// return a fresh pointer each call since Decode mutates it in place.
func Register(eventType string, zero func() any) {
	registry[eventType] = zero
}
