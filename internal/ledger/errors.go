package ledger

import "fmt"

// Code classifies domain failures so the API layer can map each to a
// distinct response and callers can tell "try again" from "not allowed"
// from "data is compromised".
type Code string

const (
	// CodeUnauthorized: the actor lacks the role or assignment the
	// transition requires. Never retried.
	CodeUnauthorized Code = "unauthorized"

	// CodeInvalidTransition: the complaint's current status does not permit
	// the requested transition. The caller must re-fetch state.
	CodeInvalidTransition Code = "invalid_transition"

	// CodeContentMismatch: a claimed content hash does not match the bytes
	// the content store holds. Security relevant; logged distinctly.
	CodeContentMismatch Code = "content_mismatch"

	// CodeNotFound: unknown complaint or evidence reference.
	CodeNotFound Code = "not_found"

	// CodeAppendConflict: concurrent appends exhausted the internal retry
	// budget. Transient; the caller may retry.
	CodeAppendConflict Code = "append_conflict"

	// CodeContentStoreUnavailable: the content store timed out or failed.
	// Nothing was appended.
	CodeContentStoreUnavailable Code = "content_store_unavailable"

	// CodeChainCorruption: the persisted chain contradicts itself. Never
	// auto-repaired.
	CodeChainCorruption Code = "chain_corruption"

	// CodeInvalidArgument: the request payload is malformed beyond what
	// binding validation covers.
	CodeInvalidArgument Code = "invalid_argument"
)

// Error is a typed domain failure.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError creates a typed domain error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError attaches a cause to a typed domain error.
func WrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the domain code from err, or the empty code for
// non-domain errors.
func CodeOf(err error) Code {
	for err != nil {
		if de, ok := err.(*Error); ok {
			return de.Code
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return ""
}

// IsCode reports whether err carries the given domain code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
