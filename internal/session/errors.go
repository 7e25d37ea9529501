package session

import (
	"errors"
	"fmt"

	"github.com/smazurov/screenlink/internal/capture"
	"github.com/smazurov/screenlink/internal/encoder"
	"github.com/smazurov/screenlink/internal/sources"
	"github.com/smazurov/screenlink/internal/transport"
)

var (
	// ErrSourceUnavailable means the capture surface is gone. Terminal.
	ErrSourceUnavailable = capture.ErrSourceUnavailable
	// ErrCaptureInitFailed means capture could not start. Terminal at start.
	ErrCaptureInitFailed = capture.ErrInitFailed
	// ErrEncodeFailure is a per-frame encode error. Counted.
	ErrEncodeFailure = encoder.ErrEncode
	// ErrTransportSend is a per-packet send error. Counted.
	ErrTransportSend = transport.ErrSend
	// ErrSustainedFailure means a failure-window ceiling was exceeded.
	ErrSustainedFailure = errors.New("sustained failure")
	// ErrInvalidRequest is returned for start parameters out of range.
	ErrInvalidRequest = errors.New("invalid session request")
)

// Code classifies errors surfaced to the controlling layer.
type Code string

const (
	CodeSourceNotFound     Code = "source_not_found"
	CodeInvalidRequest     Code = "invalid_request"
	CodeSourceUnavailable  Code = "source_unavailable"
	CodeCaptureInitFailed  Code = "capture_init_failed"
	CodeEncoderUnavailable Code = "encoder_unavailable"
	CodeTransportFailed    Code = "transport_failed"
	CodeSustainedFailure   Code = "sustained_failure"
	CodeInternal           Code = "internal"
)

// Error is a session failure with a stable code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newError wraps err with the code derived from it.
func newError(message string, err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Code: classify(err), Message: message, Err: err}
}

func classify(err error) Code {
	switch {
	case errors.Is(err, sources.ErrNotFound):
		return CodeSourceNotFound
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrSourceUnavailable):
		return CodeSourceUnavailable
	case errors.Is(err, ErrCaptureInitFailed):
		return CodeCaptureInitFailed
	case errors.Is(err, encoder.ErrNoBackend), errors.Is(err, encoder.ErrInit):
		return CodeEncoderUnavailable
	case errors.Is(err, ErrSustainedFailure):
		return CodeSustainedFailure
	case errors.Is(err, ErrTransportSend):
		return CodeTransportFailed
	}
	return CodeInternal
}

// CodeOf returns the code of a session error, or CodeInternal.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return classify(err)
}
