// Package apperr defines the error taxonomy shared by the publishing
// pipeline. Every error carries the image index it belongs to (or NoIndex for
// product level failures) plus any upstream status and message.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

type Kind string

const (
	KindDecode     Kind = "decode"
	KindFetch      Kind = "fetch"
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindTransport  Kind = "transport"
)

// NoIndex marks errors that are not tied to a single image.
const NoIndex = -1

type Error struct {
	Kind    Kind
	Op      string
	Index   int
	Status  int
	Message string
	// Fields holds the remote platform's structured errors, verbatim.
	Fields json.RawMessage
	Cause  error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%s", e.Kind, e.Op)
	if e.Index != NoIndex {
		fmt.Fprintf(&b, " image=%d", e.Index)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	b.WriteString("] ")
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		b.WriteString(": ")
		b.Write(e.Fields)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// UserMessage is the normalized text shown to callers.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindAuth:
		return "invalid credential"
	case KindValidation:
		return "validation failed"
	case KindTransport:
		if e.Cause != nil {
			return "transport failure: " + e.Cause.Error()
		}
		return "transport failure: " + e.Message
	default:
		return e.Message
	}
}

func Decode(op string, index int, message string, cause error) *Error {
	return &Error{Kind: KindDecode, Op: op, Index: index, Message: message, Cause: cause}
}

func Fetch(op string, index, status int, message string, cause error) *Error {
	return &Error{Kind: KindFetch, Op: op, Index: index, Status: status, Message: message, Cause: cause}
}

func Auth(op string, index, status int, message string) *Error {
	return &Error{Kind: KindAuth, Op: op, Index: index, Status: status, Message: message}
}

func Validation(op string, index, status int, message string, fields json.RawMessage) *Error {
	return &Error{Kind: KindValidation, Op: op, Index: index, Status: status, Message: message, Fields: fields}
}

func Transport(op string, index, status int, message string, cause error) *Error {
	return &Error{Kind: KindTransport, Op: op, Index: index, Status: status, Message: message, Cause: cause}
}

// FromResponse classifies a non-2xx response from the platform. 401 and 403
// mean the credential was rejected, 422 carries structured field errors and
// everything else is a transport failure.
func FromResponse(op string, index, status int, body []byte) *Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return Auth(op, index, status, "credential rejected")
	case http.StatusUnprocessableEntity:
		return Validation(op, index, status, "rejected by platform", extractErrors(body))
	default:
		return Transport(op, index, status, fmt.Sprintf("unexpected status %d", status),
			errors.New(snippet(body)))
	}
}

// extractErrors returns the value of the top-level "errors" key, or the whole
// body when it is JSON without that key.
func extractErrors(body []byte) json.RawMessage {
	var envelope struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Errors) > 0 {
		return envelope.Errors
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(snippet(body))
	return quoted
}

func snippet(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if utf8.RuneCountInString(s) > limit {
		s = string([]rune(s)[:limit]) + "..."
	}
	if s == "" {
		s = "empty response body"
	}
	return s
}

// IsKind reports whether the first *Error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first *Error in the chain, or "" if none.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return ""
}
