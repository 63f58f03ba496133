package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var errEmptyFrame = errors.New("empty frame")

func Encode(t string, payload any) ([]byte, error) {
	return EncodeAck(t, 0, payload)
}

// EncodeAck is Encode for replies to an acknowledged request.
func EncodeAck(t string, ack uint64, payload any) ([]byte, error) {
	if t == "" {
		return nil, fmt.Errorf("trying to encode envelope with empty type")
	}
	if payload == nil {
		return nil, fmt.Errorf("trying to encode nil payload for %q", t)
	}
	pb, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %q payload: %w", t, err)
	}
	return json.Marshal(Envelope{T: t, P: pb, A: ack})
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, errEmptyFrame
	}
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.T == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return e, nil
}

// DecodePayload unmarshals the payload into T and runs its validate tags.
// An absent payload decodes to the zero T, which is fine for bodiless
// messages such as leaveGame.
func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.P) > 0 {
		if err := json.Unmarshal(env.P, &out); err != nil {
			return out, fmt.Errorf("decode %q payload: %w", env.T, err)
		}
	}
	if err := Validate(out); err != nil {
		return out, fmt.Errorf("invalid %q payload: %w", env.T, err)
	}
	return out, nil
}
