package neterr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Kind identifies a network failure in the closed taxonomy shared by the REST
// client, the push transport and the retry layer.
type Kind int

const (
	Unknown Kind = iota
	Unauthorized
	Forbidden
	NotFound
	Conflict
	ClientError
	Timeout
	NoConnection
	ServerError
	Cancelled
	InvalidURL
	DecodingError
)

var kindNames = map[Kind]string{
	Unknown:       "unknown",
	Unauthorized:  "unauthorized",
	Forbidden:     "forbidden",
	NotFound:      "not_found",
	Conflict:      "conflict",
	ClientError:   "client_error",
	Timeout:       "timeout",
	NoConnection:  "no_connection",
	ServerError:   "server_error",
	Cancelled:     "cancelled",
	InvalidURL:    "invalid_url",
	DecodingError: "decoding_error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Class is the retry-relevant category of a Kind.
type Class int

const (
	NonRetriable Class = iota
	Retriable
	CancelledClass
)

func (c Class) String() string {
	switch c {
	case Retriable:
		return "retriable"
	case CancelledClass:
		return "cancelled"
	default:
		return "non_retriable"
	}
}

// Error is a classified network failure. StatusCode is set for HTTP failures.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s (status %d)", e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps the error kind onto its retry class. Unknown kinds are
// non-retriable.
func (e *Error) Classify() Class {
	switch e.Kind {
	case Timeout, NoConnection, ServerError:
		return Retriable
	case Cancelled:
		return CancelledClass
	case Unauthorized, Forbidden, NotFound, Conflict, ClientError, InvalidURL, DecodingError, Unknown:
		return NonRetriable
	}
	return NonRetriable
}

// New returns an Error of the given kind wrapping err.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// FromStatus builds an Error from an HTTP status code >= 400.
func FromStatus(code int, err error) *Error {
	kind := ClientError
	switch {
	case code == 401:
		kind = Unauthorized
	case code == 403:
		kind = Forbidden
	case code == 404:
		kind = NotFound
	case code == 409:
		kind = Conflict
	case code == 408:
		kind = Timeout
	case code >= 500:
		kind = ServerError
	}
	return &Error{Kind: kind, StatusCode: code, Err: err}
}

// Classify returns the retry class of any error. Context cancellation counts as
// cancelled and a context deadline as a retriable timeout; anything outside the
// taxonomy is non-retriable.
func Classify(err error) Class {
	if err == nil {
		return NonRetriable
	}
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Classify()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return CancelledClass
	case errors.Is(err, context.DeadlineExceeded):
		return Retriable
	}
	return NonRetriable
}

// KindOf returns the taxonomy kind of err, or Unknown.
func KindOf(err error) Kind {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsCancelled reports whether err is a cancellation outcome.
func IsCancelled(err error) bool {
	return Classify(err) == CancelledClass
}

// FromTransport classifies a failure that produced no response: a dial,
// write or read error. ctx is the request context; its cancellation wins over
// whatever the transport reported.
func FromTransport(ctx context.Context, err error) *Error {
	var ne *Error
	if errors.As(err, &ne) {
		return ne
	}
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return New(Cancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return New(Timeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return New(Timeout, err)
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return New(NoConnection, err)
	}
	return New(Unknown, err)
}
