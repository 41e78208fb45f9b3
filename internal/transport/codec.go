package transport

import (
	"encoding/json"

	"github.com/pingcap/errors"

	"github.com/gcooper407/kvstore/internal/message"
)

// Codec encodes and decodes message.Message values to/from the
// self-describing JSON records spec.md §6 requires on the wire. It is the
// only thing that knows the datagram is JSON; the rest of the system only
// ever sees message.Message.
type Codec struct{}

// Encode renders a message to its wire bytes.
func (Codec) Encode(m message.Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Annotate(err, "encode message")
	}
	return b, nil
}

// Decode parses wire bytes into a message. Decode failures are structural
// (spec.md §7: "malformed datagram or decode failure: dropped silently"),
// so callers treat a non-nil error as a signal to drop, not to retry.
func (Codec) Decode(b []byte) (message.Message, error) {
	var m message.Message
	if err := json.Unmarshal(b, &m); err != nil {
		return message.Message{}, errors.Annotate(err, "decode message")
	}
	return m, nil
}
