package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// TransportError covers failures below HTTP: DNS, dial, TLS, timeouts, truncated bodies.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a completed exchange with a non-2xx status.
type ProtocolError struct {
	URL        string
	StatusCode int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("status %d from %s", e.StatusCode, e.URL)
}

func (e *ProtocolError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// ParseError means the payload did not have the expected shape.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError rejects a single extracted value, e.g. a malformed address.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

type Class string

const (
	ClassOK          Class = "ok"
	ClassCanceled    Class = "canceled"
	ClassRateLimited Class = "rate_limited"
	ClassProtocol    Class = "protocol"
	ClassTransport   Class = "transport"
	ClassParse       Class = "parse"
)

// Classify maps an error from a fetch cycle onto the retry policy that applies to it.
// Unknown errors are treated as transport failures.
func Classify(err error) Class {
	if err == nil {
		return ClassOK
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		if perr.RateLimited() {
			return ClassRateLimited
		}
		return ClassProtocol
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return ClassParse
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return ClassParse
	}
	return ClassTransport
}
