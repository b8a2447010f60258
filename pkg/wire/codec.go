package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Codec errors.
var (
	// ErrMalformed indicates the bytes are not a valid envelope.
	ErrMalformed = errors.New("malformed envelope")

	// ErrMissingCommand indicates an envelope without a cmd tag.
	ErrMissingCommand = errors.New("envelope has no cmd")
)

// Encode serializes e to a single JSON object.
func Encode(e Envelope) ([]byte, error) {
	if e.Cmd == "" {
		return nil, ErrMissingCommand
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses exactly one JSON object. Trailing data after the object
// (for example a second coalesced message) is reported as malformed.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.Cmd == "" {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformed, ErrMissingCommand)
	}
	return e, nil
}
