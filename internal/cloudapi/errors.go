package cloudapi

import (
	"errors"
	"fmt"

	"github.com/micro-ha/minirack-dashboard/internal/retry"
)

var (
	// ErrNoToken means the network has no verified token yet.
	ErrNoToken = errors.New("no token for network")
	// ErrMalformedResponse means the body could not be decoded or lacked a required field.
	ErrMalformedResponse = errors.New("malformed upstream response")
	// ErrVerificationRejected means the upstream answered but did not verify the code.
	ErrVerificationRejected = errors.New("verification rejected")
)

// StatusError is a well-formed HTTP error response from the upstream API.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "upstream status error"
	}
	return fmt.Sprintf("upstream %s %s returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// ClientError reports a 4xx response.
func (e *StatusError) ClientError() bool {
	return e != nil && e.StatusCode >= 400 && e.StatusCode < 500
}

// isRetryableError retries transport failures only; an HTTP error response is
// an answer, not a glitch.
func isRetryableError(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return false
	}
	if errors.Is(err, ErrNoToken) || errors.Is(err, ErrMalformedResponse) {
		return false
	}
	return retry.IsTransient(err)
}
