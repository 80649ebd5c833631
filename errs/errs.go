// Package errs provides structured error types shared across the gridline core.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a failure category from the engine's error taxonomy.
type Code string

const (
	// CodeNetwork indicates a transport failure; always retried with backoff.
	CodeNetwork Code = "network"
	// CodeExchange indicates the venue rejected the request.
	CodeExchange Code = "exchange_error"
	// CodeInvalid indicates a request that would violate venue filters,
	// rejected locally before any network call.
	CodeInvalid Code = "invalid_request"
	// CodeParse indicates a malformed inbound stream message; the message is
	// dropped and the connection stays open.
	CodeParse Code = "parse_error"
	// CodeState indicates a local/venue state inconsistency handled via a
	// documented fallback rather than a crash.
	CodeState Code = "state_inconsistency"
)

// E captures structured error information produced across the gridline stack.
type E struct {
	Venue   string
	Code    Code
	HTTP    int
	RawCode string
	RawMsg  string
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the venue and error code.
func New(venue string, code Code, opts ...Option) *E {
	e := &E{Venue: strings.TrimSpace(venue), Code: code}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw venue error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw venue error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	venue := strings.TrimSpace(e.Venue)
	if venue == "" {
		venue = "unknown"
	}
	parts = append(parts, "venue="+venue)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// HasCode reports whether err carries the given taxonomy code.
func HasCode(err error, code Code) bool {
	var envelope *E
	if !errors.As(err, &envelope) {
		return false
	}
	return envelope.Code == code
}

// VenueCode extracts the raw venue error code from err, if present.
func VenueCode(err error) (string, bool) {
	var envelope *E
	if !errors.As(err, &envelope) || envelope.RawCode == "" {
		return "", false
	}
	return envelope.RawCode, true
}
