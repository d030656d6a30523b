package envelope

// Error codes carried by error Responses.
const (
	CodeMalformedEnvelope       = "MALFORMED_ENVELOPE"
	CodePayloadTooLarge         = "PAYLOAD_TOO_LARGE"
	CodeTypeNotFound            = "TYPE_NOT_FOUND"
	CodeNoHandlerRegistered     = "NO_HANDLER_REGISTERED"
	CodeHandlerInvocationFailed = "HANDLER_INVOCATION_FAILED"
	CodeTimeout                 = "TIMEOUT"
	CodeRegistrationRejected    = "REGISTRATION_REJECTED"
)

// Sentinels for errors.Is; any *Error with the same code matches.
var (
	ErrMalformedEnvelope       = &Error{Code: CodeMalformedEnvelope}
	ErrPayloadTooLarge         = &Error{Code: CodePayloadTooLarge}
	ErrTypeNotFound            = &Error{Code: CodeTypeNotFound}
	ErrNoHandlerRegistered     = &Error{Code: CodeNoHandlerRegistered}
	ErrHandlerInvocationFailed = &Error{Code: CodeHandlerInvocationFailed}
	ErrTimeout                 = &Error{Code: CodeTimeout}
	ErrRegistrationRejected    = &Error{Code: CodeRegistrationRejected}
)

// Error is a structured, caller-visible failure.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// NewError creates an Error; only timeouts are retryable.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: code == CodeTimeout}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && t.Code == e.Code
}
