package miniflux

import (
	"errors"
	"fmt"
)

// TransportError wraps a network-level failure: the request never produced an
// HTTP response. These are the retryable failures the mutation queue exists
// for; everything else is terminal.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError reports a non-success HTTP status from the server.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: server returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: server returned status %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsTransport reports whether err stems from a transport-level failure and is
// therefore worth retrying later.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
