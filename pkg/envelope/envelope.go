// Package envelope defines the wire message exchanged between callers, the broker and agents.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kind discriminates the purpose of an Envelope.
type Kind string

const (
	KindHandlerRegistration             Kind = "HandlerRegistration"
	KindNotificationHandlerRegistration Kind = "NotificationHandlerRegistration"
	KindRequest                         Kind = "Request"
	KindResponse                        Kind = "Response"
	KindNotification                    Kind = "Notification"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindHandlerRegistration, KindNotificationHandlerRegistration,
		KindRequest, KindResponse, KindNotification:
		return true
	}
	return false
}

// IsRegistration reports whether k carries a Registration payload.
func (k Kind) IsRegistration() bool {
	return k == KindHandlerRegistration || k == KindNotificationHandlerRegistration
}

// Envelope is the top-level record of every datagram.
type Envelope struct {
	ID       uuid.UUID       `json:"id"`
	Kind     Kind            `json:"kind"`
	TypeName string          `json:"typeName"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	// TimeoutMs is an optional caller-supplied deadline for a Request.
	TimeoutMs int    `json:"timeoutMs,omitempty"`
	Error     *Error `json:"error,omitempty"`
}

// Registration is the payload of HandlerRegistration and NotificationHandlerRegistration envelopes.
type Registration struct {
	Name                          string `json:"name"`
	RequestOrNotificationTypeName string `json:"requestOrNotificationTypeName"`
	ResponseTypeName              string `json:"responseTypeName,omitempty"`
	CallbackHost                  string `json:"callbackHost"`
	CallbackPort                  int    `json:"callbackPort"`
	ClientName                    string `json:"clientName"`
	AgentVersion                  string `json:"agentVersion,omitempty"`
}

// NewRequest builds a Request envelope with a fresh correlation id.
func NewRequest(typeName string, payload any) (*Envelope, error) {
	return newWithPayload(KindRequest, typeName, payload)
}

// NewNotification builds a Notification envelope.
func NewNotification(typeName string, payload any) (*Envelope, error) {
	return newWithPayload(KindNotification, typeName, payload)
}

// NewRegistration builds a registration envelope of the given kind.
func NewRegistration(kind Kind, reg *Registration) (*Envelope, error) {
	if !kind.IsRegistration() {
		return nil, fmt.Errorf("%s - kind %q is not a registration", logPrefix, kind)
	}
	return newWithPayload(kind, reg.RequestOrNotificationTypeName, reg)
}

// NewResponse builds a successful Response answering req; the correlation id is preserved.
func NewResponse(req *Envelope, typeName string, payload any) (*Envelope, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{ID: req.ID, Kind: KindResponse, TypeName: typeName, Payload: raw}, nil
}

// NewErrorResponse builds an error Response answering the request with the given id.
func NewErrorResponse(id uuid.UUID, typeName string, e *Error) *Envelope {
	return &Envelope{ID: id, Kind: KindResponse, TypeName: typeName, Error: e}
}

// DecodeRegistration extracts the Registration payload of a registration envelope.
func (e *Envelope) DecodeRegistration() (*Registration, error) {
	if !e.Kind.IsRegistration() {
		return nil, NewError(CodeMalformedEnvelope, fmt.Sprintf("kind %s has no registration payload", e.Kind))
	}
	var reg Registration
	if err := json.Unmarshal(e.Payload, &reg); err != nil {
		return nil, NewError(CodeMalformedEnvelope, "registration payload: "+err.Error())
	}
	if reg.RequestOrNotificationTypeName == "" {
		reg.RequestOrNotificationTypeName = e.TypeName
	}
	if reg.RequestOrNotificationTypeName == "" {
		return nil, NewError(CodeMalformedEnvelope, "registration without type name")
	}
	if reg.CallbackPort < 0 || reg.CallbackPort > 65535 {
		return nil, NewError(CodeMalformedEnvelope, fmt.Sprintf("callback port %d out of range", reg.CallbackPort))
	}
	return &reg, nil
}

// DecodePayload unmarshals the payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

func newWithPayload(kind Kind, typeName string, payload any) (*Envelope, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{ID: uuid.New(), Kind: kind, TypeName: typeName, Payload: raw}, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode payload: %w", logPrefix, err)
	}
	return b, nil
}
