package capture

import "errors"

var (
	// ErrSourceUnavailable means the captured surface went away. It is terminal.
	ErrSourceUnavailable = errors.New("capture source unavailable")

	// ErrInitFailed means the capture stream could not be opened.
	ErrInitFailed = errors.New("capture init failed")
)
