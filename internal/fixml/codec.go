package fixml

import (
	"encoding/xml"
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage indicates an envelope carrying no variant
	ErrEmptyMessage = errors.New("fixml: envelope carries no message")

	// ErrAmbiguousMessage indicates an envelope carrying more than one variant
	ErrAmbiguousMessage = errors.New("fixml: envelope carries more than one message")
)

// Encode serializes a message to its UTF-8 XML wire payload
func Encode(m *Message) ([]byte, error) {
	switch m.variantCount() {
	case 0:
		return nil, ErrEmptyMessage
	case 1:
	default:
		return nil, ErrAmbiguousMessage
	}

	data, err := xml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("fixml: failed to encode %s: %w", m.Type(), err)
	}
	return data, nil
}

// Decode parses a UTF-8 XML wire payload into a message. Malformed
// input fails with a decode error; the envelope must carry exactly one
// variant.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("fixml: failed to decode payload: %w", err)
	}

	switch m.variantCount() {
	case 0:
		return nil, ErrEmptyMessage
	case 1:
	default:
		return nil, ErrAmbiguousMessage
	}

	return &m, nil
}
