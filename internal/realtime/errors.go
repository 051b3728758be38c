package realtime

import "errors"

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrAccessDenied   = errors.New("access denied")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrChannelClosed  = errors.New("channel closed")
)

// Error codes sent to clients alongside failures.
const (
	CodeAuthentication = "authentication_error"
	CodeAccessDenied   = "access_denied"
	CodeRateLimited    = "rate_limit_exceeded"
	CodeBadRequest     = "bad_request"
)

// Retryable reports whether a gateway failure may succeed if retried after backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
