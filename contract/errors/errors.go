package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error codes for the event bus contracts. Keep stable; used across adapters and buses.
const (
	ErrCodeInvalidEvent            = "events.invalid"
	ErrCodePayloadSerialization    = "events.payload_serialization"
	ErrCodePayloadDeserialization  = "events.payload_deserialization"
	ErrCodeEnvelopeSerialization   = "events.envelope_serialization"
	ErrCodeEnvelopeDeserialization = "events.envelope_deserialization"
	ErrCodePublishFailed           = "events.publish_failed"
	ErrCodeSubscribeFailed         = "events.subscribe_failed"
	ErrCodeBusClosed               = "events.bus_closed"
	ErrCodeInvalidConfig           = "events.invalid_config"
	ErrCodeUnavailable             = "events.unavailable"
	ErrCodeCacheInternal           = "cache.internal"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrInvalidEvent            = Code(ErrCodeInvalidEvent)
	ErrPayloadSerialization    = Code(ErrCodePayloadSerialization)
	ErrPayloadDeserialization  = Code(ErrCodePayloadDeserialization)
	ErrEnvelopeSerialization   = Code(ErrCodeEnvelopeSerialization)
	ErrEnvelopeDeserialization = Code(ErrCodeEnvelopeDeserialization)
	ErrPublishFailed           = Code(ErrCodePublishFailed)
	ErrSubscribeFailed         = Code(ErrCodeSubscribeFailed)
	ErrBusClosed               = Code(ErrCodeBusClosed)
	ErrInvalidConfig           = Code(ErrCodeInvalidConfig)
	ErrUnavailable             = Code(ErrCodeUnavailable)
	ErrCacheInternal           = Code(ErrCodeCacheInternal)
)

// Metadata is free-form diagnostic context attached to an Error.
type Metadata map[string]any

// With starts a Metadata with a single key.
func With(key string, value any) Metadata { return Metadata{key: value} }

// And sets key and returns the same Metadata for chaining.
func (m Metadata) And(key string, value any) Metadata {
	m[key] = value
	return m
}

// Error is a coded failure with a human message, an optional cause and metadata.
//
// errors.Is(err, Code(c)) reports true when err (or anything it wraps) is an
// *Error with code c, so callers compare against the exported sentinels.
type Error struct {
	code     string
	message  string
	cause    error
	metadata Metadata
}

// New builds an Error without a cause. Metadata maps are merged left to right.
func New(code, message string, md ...Metadata) *Error {
	if code == "" {
		panic("errors: empty error code")
	}

	m := Metadata{}
	for _, part := range md {
		for k, v := range part {
			m[k] = v
		}
	}

	return &Error{code: code, message: message, metadata: m}
}

// Wrap builds an Error that keeps cause reachable through errors.Unwrap.
func Wrap(code string, cause error, message string, md ...Metadata) *Error {
	e := New(code, message, md...)
	e.cause = cause

	return e
}

func (e *Error) Code() string       { return e.code }
func (e *Error) Message() string    { return e.message }
func (e *Error) Cause() error       { return e.cause }
func (e *Error) Metadata() Metadata { return e.metadata }
func (e *Error) Unwrap() error      { return e.cause }

// Is matches code sentinels and other *Error values carrying the same code.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case codedError:
		return string(t) == e.code
	case *Error:
		return t.code == e.code
	}

	return false
}

func (e *Error) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s: %s", e.code, e.message)

	if e.cause != nil {
		fmt.Fprintf(&b, " (%s)", e.cause.Error())
	}

	if len(e.metadata) > 0 {
		keys := make([]string, 0, len(e.metadata))
		for k := range e.metadata {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("[%s = %v]", k, e.metadata[k]))
		}

		b.WriteString(" ")
		b.WriteString(strings.Join(parts, ", "))
	}

	return b.String()
}

func (e *Error) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"code":     e.code,
		"message":  e.message,
		"metadata": e.metadata,
	}

	if e.cause != nil {
		var coded *Error
		if errors.As(e.cause, &coded) {
			out["cause"] = coded
		} else {
			out["cause"] = map[string]string{"message": e.cause.Error()}
		}
	}

	return json.Marshal(out)
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.code
	}

	var c codedError
	if errors.As(err, &c) {
		return string(c)
	}

	return ""
}
