package h1

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a request that cannot be parsed. Every kind is fatal
// to the connection.
type ErrorKind uint8

const (
	KindMethodNotAllowed ErrorKind = iota + 1
	KindBadRequest
	KindURITooLong
	KindHTTPVersionNotSupported
	KindRequestHeaderFieldsTooLarge
)

func (k ErrorKind) String() string {
	switch k {
	case KindMethodNotAllowed:
		return "method not allowed"
	case KindBadRequest:
		return "bad request"
	case KindURITooLong:
		return "uri too long"
	case KindHTTPVersionNotSupported:
		return "http version not supported"
	case KindRequestHeaderFieldsTooLarge:
		return "request header fields too large"
	default:
		return "unknown"
	}
}

// StatusCode returns the HTTP status that reports k to the client.
func (k ErrorKind) StatusCode() int {
	switch k {
	case KindMethodNotAllowed:
		return 405
	case KindURITooLong:
		return 414
	case KindHTTPVersionNotSupported:
		return 505
	case KindRequestHeaderFieldsTooLarge:
		return 431
	default:
		return 400
	}
}

// BadRequestReason narrows a KindBadRequest error.
type BadRequestReason uint8

const (
	ReasonNone BadRequestReason = iota
	ReasonTargetNotOriginForm
	ReasonFragment
	ReasonInvalidTarget
	ReasonInvalidPercentEncoding
	ReasonMissingLineFeed
	ReasonInvalidHeaderName
	ReasonInvalidHeaderValue
)

func (r BadRequestReason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonTargetNotOriginForm:
		return "request target is not an absolute path"
	case ReasonFragment:
		return "fragment in request target"
	case ReasonInvalidTarget:
		return "invalid character in request target"
	case ReasonInvalidPercentEncoding:
		return "invalid percent-encoding in request target"
	case ReasonMissingLineFeed:
		return "carriage return not followed by line feed"
	case ReasonInvalidHeaderName:
		return "invalid header field name"
	case ReasonInvalidHeaderValue:
		return "invalid header field value"
	default:
		return "unknown"
	}
}

// ParseError reports why and where a request was rejected.
type ParseError struct {
	Kind   ErrorKind
	Reason BadRequestReason
	// Pos is the position of the offending byte.
	Pos int
}

func (e *ParseError) Error() string {
	if e.Reason != ReasonNone {
		return fmt.Sprintf("h1: %s: %s at byte %d", e.Kind, e.Reason, e.Pos)
	}
	return fmt.Sprintf("h1: %s at byte %d", e.Kind, e.Pos)
}

// Is matches the kind sentinels below, so callers can write
// errors.Is(err, h1.ErrURITooLong).
func (e *ParseError) Is(target error) bool {
	var k *kindError
	if errors.As(target, &k) {
		return k.kind == e.Kind
	}
	return false
}

// StatusCode returns the HTTP status for the error response.
func (e *ParseError) StatusCode() int { return e.Kind.StatusCode() }

type kindError struct{ kind ErrorKind }

func (k *kindError) Error() string { return "h1: " + k.kind.String() }

var (
	ErrMethodNotAllowed            error = &kindError{KindMethodNotAllowed}
	ErrBadRequest                  error = &kindError{KindBadRequest}
	ErrURITooLong                  error = &kindError{KindURITooLong}
	ErrHTTPVersionNotSupported     error = &kindError{KindHTTPVersionNotSupported}
	ErrRequestHeaderFieldsTooLarge error = &kindError{KindRequestHeaderFieldsTooLarge}
)

// ErrInvalidReentry is returned by Resume for a reentry point the parser
// never produces.
var ErrInvalidReentry = errors.New("h1: invalid reentry point")

func badRequest(reason BadRequestReason, pos int) *ParseError {
	return &ParseError{Kind: KindBadRequest, Reason: reason, Pos: pos}
}

func parseError(kind ErrorKind, pos int) *ParseError {
	return &ParseError{Kind: kind, Pos: pos}
}
