package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrInvalidArgument marks misuse of a public contract. Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrForbidden is returned when the receiver answers HTTP 403.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidResponse is returned for documents that are not receiver XML.
	ErrInvalidResponse = errors.New("invalid response")
)

// NetworkError is a transport-level connection failure.
type NetworkError struct {
	Op   string
	Addr string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: network error: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError is a connect or read deadline that elapsed.
type TimeoutError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: timeout: %v", e.Op, e.Addr, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// RequestError reports a non-successful HTTP status from the receiver.
type RequestError struct {
	URL    string
	Status int
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %s failed with status %d", e.URL, e.Status)
}

// Is lets errors.Is(err, ErrForbidden) match HTTP 403 responses.
func (e *RequestError) Is(target error) bool {
	return target == ErrForbidden && e.Status == 403
}

// ProcessingError reports attributes that could not be resolved from any
// document source. Attributes that did resolve have already been applied.
type ProcessingError struct {
	Zone       Zone
	Unresolved []string

	// Err is the last fetch failure seen while resolving, if any.
	Err error
}

func (e *ProcessingError) Error() string {
	msg := fmt.Sprintf("some attributes of zone %s not found on update: %s",
		e.Zone, strings.Join(e.Unresolved, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// IsProcessing reports whether err carries unresolved attributes.
func IsProcessing(err error) bool {
	var pe *ProcessingError
	return errors.As(err, &pe)
}

// ClassifyNetError wraps err as a TimeoutError or NetworkError.
func ClassifyNetError(op, addr string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{Op: op, Addr: addr, Err: err}
	}
	return &NetworkError{Op: op, Addr: addr, Err: err}
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsNetwork reports whether err is a NetworkError or TimeoutError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) || IsTimeout(err)
}
