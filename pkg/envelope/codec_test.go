package envelope

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

const codecTestPrefix = "envelope:codec_test"

func TestEncodeDecode_RequestPreservesFields(t *testing.T) {
	req, err := NewRequest("Ping", map[string]string{"msg": "hi"})
	if err != nil {
		t.Fatalf("%s - NewRequest failed: %v", codecTestPrefix, err)
	}
	req.TimeoutMs = 1500

	data, err := Encode(req)
	if err != nil {
		t.Fatalf("%s - Encode failed: %v", codecTestPrefix, err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("%s - Decode failed: %v", codecTestPrefix, err)
	}

	if got.ID != req.ID {
		t.Errorf("%s - ID = %s, want %s", codecTestPrefix, got.ID, req.ID)
	}
	if got.Kind != KindRequest {
		t.Errorf("%s - Kind = %q, want %q", codecTestPrefix, got.Kind, KindRequest)
	}
	if got.TypeName != "Ping" {
		t.Errorf("%s - TypeName = %q, want Ping", codecTestPrefix, got.TypeName)
	}
	if got.TimeoutMs != 1500 {
		t.Errorf("%s - TimeoutMs = %d, want 1500", codecTestPrefix, got.TimeoutMs)
	}
	var payload map[string]string
	if err := got.DecodePayload(&payload); err != nil {
		t.Fatalf("%s - DecodePayload failed: %v", codecTestPrefix, err)
	}
	if payload["msg"] != "hi" {
		t.Errorf("%s - payload msg = %q, want hi", codecTestPrefix, payload["msg"])
	}
}

func TestEncode_WireFieldNames(t *testing.T) {
	env := &Envelope{ID: uuid.New(), Kind: KindNotification, TypeName: "NodeJoined", Payload: json.RawMessage(`{}`)}
	data, err := Encode(env)
	if err != nil {
		t.Fatalf("%s - Encode failed: %v", codecTestPrefix, err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("%s - unmarshal failed: %v", codecTestPrefix, err)
	}
	for _, key := range []string{"id", "kind", "typeName", "payload"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("%s - missing wire field %q in %s", codecTestPrefix, key, data)
		}
	}
	if raw["id"] != env.ID.String() {
		t.Errorf("%s - id = %v, want string form %s", codecTestPrefix, raw["id"], env.ID)
	}
}

func TestEncode_PayloadTooLarge(t *testing.T) {
	big := strings.Repeat("x", MaxDatagramSize)
	env, err := NewRequest("Blob", map[string]string{"data": big})
	if err != nil {
		t.Fatalf("%s - NewRequest failed: %v", codecTestPrefix, err)
	}

	data, err := Encode(env)
	if err == nil {
		t.Fatalf("%s - expected PAYLOAD_TOO_LARGE, got %d bytes", codecTestPrefix, len(data))
	}
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("%s - error = %v, want PAYLOAD_TOO_LARGE", codecTestPrefix, err)
	}
	if data != nil {
		t.Errorf("%s - expected no bytes on overflow, got %d", codecTestPrefix, len(data))
	}
}

func TestDecode_Malformed(t *testing.T) {
	id := uuid.New().String()
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{invalid`},
		{"empty", ``},
		{"missing id", `{"kind":"Request","typeName":"Ping"}`},
		{"bad id", `{"id":"not-a-uuid","kind":"Request","typeName":"Ping"}`},
		{"unknown kind", `{"id":"` + id + `","kind":"Bogus","typeName":"Ping"}`},
		{"missing kind", `{"id":"` + id + `","typeName":"Ping"}`},
		{"missing typeName", `{"id":"` + id + `","kind":"Request"}`},
		{"negative timeout", `{"id":"` + id + `","kind":"Request","typeName":"Ping","timeoutMs":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.data))
			if err == nil {
				t.Fatalf("%s - expected error, got %+v", codecTestPrefix, env)
			}
			if !errors.Is(err, ErrMalformedEnvelope) {
				t.Errorf("%s - error = %v, want MALFORMED_ENVELOPE", codecTestPrefix, err)
			}
		})
	}
}

func TestDecode_OversizedDatagram(t *testing.T) {
	data := make([]byte, MaxDatagramSize+1)
	_, err := Decode(data)
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Errorf("%s - error = %v, want MALFORMED_ENVELOPE", codecTestPrefix, err)
	}
}

func TestErrorResponse_RoundTrip(t *testing.T) {
	req, _ := NewRequest("Ping", nil)
	resp := NewErrorResponse(req.ID, req.TypeName, NewError(CodeNoHandlerRegistered, "no node for Ping"))

	data, err := Encode(resp)
	if err != nil {
		t.Fatalf("%s - Encode failed: %v", codecTestPrefix, err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("%s - Decode failed: %v", codecTestPrefix, err)
	}
	if got.ID != req.ID {
		t.Errorf("%s - ID = %s, want %s", codecTestPrefix, got.ID, req.ID)
	}
	if got.Error == nil {
		t.Fatalf("%s - expected error detail", codecTestPrefix)
	}
	if !errors.Is(got.Error, ErrNoHandlerRegistered) {
		t.Errorf("%s - Code = %q, want NO_HANDLER_REGISTERED", codecTestPrefix, got.Error.Code)
	}
	if got.Error.Retryable {
		t.Errorf("%s - NO_HANDLER_REGISTERED should not be retryable", codecTestPrefix)
	}
}

func TestNewError_Retryable(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{CodeTimeout, true},
		{CodeMalformedEnvelope, false},
		{CodeTypeNotFound, false},
		{CodeHandlerInvocationFailed, false},
		{CodeRegistrationRejected, false},
	}
	for _, tt := range tests {
		if got := NewError(tt.code, "x").Retryable; got != tt.want {
			t.Errorf("%s - %s Retryable = %v, want %v", codecTestPrefix, tt.code, got, tt.want)
		}
	}
}

func TestNewResponse_PreservesID(t *testing.T) {
	req, _ := NewRequest("Ping", struct{}{})
	resp, err := NewResponse(req, "Pong", map[string]bool{"pong": true})
	if err != nil {
		t.Fatalf("%s - NewResponse failed: %v", codecTestPrefix, err)
	}
	if resp.ID != req.ID {
		t.Errorf("%s - Response.ID = %s, want %s", codecTestPrefix, resp.ID, req.ID)
	}
	if resp.Kind != KindResponse {
		t.Errorf("%s - Kind = %q, want Response", codecTestPrefix, resp.Kind)
	}
	if string(resp.Payload) != `{"pong":true}` {
		t.Errorf("%s - Payload = %s", codecTestPrefix, resp.Payload)
	}
}

func TestRegistration_RoundTrip(t *testing.T) {
	env, err := NewRegistration(KindHandlerRegistration, &Registration{
		Name:                          "PingHandler",
		RequestOrNotificationTypeName: "Ping",
		ResponseTypeName:              "Pong",
		CallbackHost:                  "127.0.0.1",
		CallbackPort:                  9001,
		ClientName:                    "agent-a",
	})
	if err != nil {
		t.Fatalf("%s - NewRegistration failed: %v", codecTestPrefix, err)
	}
	if env.TypeName != "Ping" {
		t.Errorf("%s - TypeName = %q, want Ping", codecTestPrefix, env.TypeName)
	}
	data, _ := Encode(env)
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("%s - Decode failed: %v", codecTestPrefix, err)
	}
	reg, err := got.DecodeRegistration()
	if err != nil {
		t.Fatalf("%s - DecodeRegistration failed: %v", codecTestPrefix, err)
	}
	if reg.CallbackPort != 9001 || reg.CallbackHost != "127.0.0.1" {
		t.Errorf("%s - callback = %s:%d, want 127.0.0.1:9001", codecTestPrefix, reg.CallbackHost, reg.CallbackPort)
	}
	if reg.ResponseTypeName != "Pong" || reg.ClientName != "agent-a" {
		t.Errorf("%s - unexpected registration %+v", codecTestPrefix, reg)
	}
}

func TestDecodeRegistration_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  *Envelope
	}{
		{"not a registration", &Envelope{ID: uuid.New(), Kind: KindRequest, TypeName: "Ping"}},
		{"bad payload", &Envelope{ID: uuid.New(), Kind: KindHandlerRegistration, TypeName: "Ping", Payload: json.RawMessage(`[1]`)}},
		{"port out of range", &Envelope{ID: uuid.New(), Kind: KindHandlerRegistration, TypeName: "Ping", Payload: json.RawMessage(`{"callbackPort":70000}`)}},
		{"no type", &Envelope{ID: uuid.New(), Kind: KindNotificationHandlerRegistration, Payload: json.RawMessage(`{"callbackPort":1}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.env.DecodeRegistration(); !errors.Is(err, ErrMalformedEnvelope) {
				t.Errorf("%s - error = %v, want MALFORMED_ENVELOPE", codecTestPrefix, err)
			}
		})
	}
}

func TestNewRegistration_RejectsNonRegistrationKind(t *testing.T) {
	if _, err := NewRegistration(KindRequest, &Registration{RequestOrNotificationTypeName: "Ping"}); err == nil {
		t.Errorf("%s - expected error for Request kind", codecTestPrefix)
	}
}
