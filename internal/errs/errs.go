// Package errs provides structured error types and helpers for the bridge.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Code identifies an error category.
type Code string

const (
	// CodeInvalid indicates malformed input or a failed validation rule.
	CodeInvalid Code = "invalid_request"
	// CodeNotFound indicates a missing ticket, handle or registration.
	CodeNotFound Code = "not_found"
	// CodePlatform indicates the trading platform rejected the operation.
	CodePlatform Code = "platform_error"
	// CodeNetwork indicates a transport failure.
	CodeNetwork Code = "network"
	// CodeUnavailable indicates the component can no longer serve requests.
	CodeUnavailable Code = "unavailable"
	// CodeInternal indicates an unexpected failure inside the bridge.
	CodeInternal Code = "internal"
)

// E captures structured error information produced across the bridge.
type E struct {
	Op      string
	Code    Code
	RawCode int
	Message string
	Fields  map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and error code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:      strings.TrimSpace(op),
		Code:    code,
		RawCode: 0,
		Message: "",
		Fields:  nil,
		cause:   nil,
	}
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

// WithRawCode records the numeric result code reported by the platform.
func WithRawCode(code int) Option {
	return func(e *E) {
		e.RawCode = code
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single metadata key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := e.Op
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != 0 {
		parts = append(parts, "raw_code="+strconv.Itoa(e.RawCode))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Fields[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Invalid returns a validation error with a formatted message.
func Invalid(op, format string, args ...any) *E {
	return New(op, CodeInvalid, WithMessage(fmt.Sprintf(format, args...)))
}

// NotFound returns a lookup error with a formatted message.
func NotFound(op, format string, args ...any) *E {
	return New(op, CodeNotFound, WithMessage(fmt.Sprintf(format, args...)))
}

// Platform wraps a platform result code and its description.
func Platform(op string, rawCode int, description string) *E {
	return New(op, CodePlatform, WithRawCode(rawCode), WithMessage(description))
}

// CodeOf extracts the error category, defaulting to CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *E
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return CodeInternal
}

// MessageOf renders the caller-facing message carried in error envelopes.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *E
	if !errors.As(err, &e) || e.Message == "" {
		return err.Error()
	}
	if e.RawCode != 0 {
		return fmt.Sprintf("%s (code %d)", e.Message, e.RawCode)
	}
	return e.Message
}
