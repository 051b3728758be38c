package voting

import "errors"

var (
	ErrSessionNotFound = errors.New("voting session not found")
	ErrSessionEnded    = errors.New("voting session has ended")
	ErrInvalidRating   = errors.New("rating must be an integer between 1 and 5")
	ErrAlreadyVoted    = errors.New("voter has already voted in this session")
	ErrInvalidVoter    = errors.New("voter id is required")
	ErrInvalidDuration = errors.New("invalid session duration")
	ErrInvalidRequest  = errors.New("event id and talk id are required")
	ErrInternal        = errors.New("voting store failure")
)

// Error codes returned to clients alongside failures.
const (
	CodeSessionNotFound = "session_not_found"
	CodeSessionEnded    = "session_ended"
	CodeInvalidRating   = "invalid_rating"
	CodeAlreadyVoted    = "already_voted"
	CodeInvalidRequest  = "invalid_request"
	CodeInternal        = "internal_error"
)

// Retryable reports whether repeating the same request may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrInternal)
}

// ErrorCode maps an engine error to its client code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, ErrSessionEnded):
		return CodeSessionEnded
	case errors.Is(err, ErrInvalidRating):
		return CodeInvalidRating
	case errors.Is(err, ErrAlreadyVoted):
		return CodeAlreadyVoted
	case errors.Is(err, ErrInvalidVoter), errors.Is(err, ErrInvalidDuration), errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}
