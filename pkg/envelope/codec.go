package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const logPrefix = "envelope:codec"

// MaxDatagramSize is the largest encoded envelope accepted on the wire: the IPv4 UDP
// payload ceiling. There is no fragmentation or reassembly above the transport.
const MaxDatagramSize = 65507

// Encode serializes env to a single datagram.
func Encode(env *Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode envelope: %w", logPrefix, err)
	}
	if len(b) > MaxDatagramSize {
		return nil, NewError(CodePayloadTooLarge,
			fmt.Sprintf("encoded envelope is %d bytes, limit is %d", len(b), MaxDatagramSize))
	}
	return b, nil
}

// Decode parses a datagram and checks the structural fields.
func Decode(data []byte) (*Envelope, error) {
	if len(data) > MaxDatagramSize {
		return nil, NewError(CodeMalformedEnvelope,
			fmt.Sprintf("datagram is %d bytes, limit is %d", len(data), MaxDatagramSize))
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, NewError(CodeMalformedEnvelope, err.Error())
	}
	if env.ID == uuid.Nil {
		return nil, NewError(CodeMalformedEnvelope, "missing id")
	}
	if !env.Kind.Valid() {
		return nil, NewError(CodeMalformedEnvelope, fmt.Sprintf("unknown kind %q", env.Kind))
	}
	if env.TypeName == "" {
		return nil, NewError(CodeMalformedEnvelope, "missing typeName")
	}
	if env.TimeoutMs < 0 {
		return nil, NewError(CodeMalformedEnvelope, "negative timeoutMs")
	}
	return &env, nil
}
