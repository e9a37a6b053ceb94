package domain

import "errors"

// Sentinel errors shared across layers. Adapters map them onto wire events
// and HTTP status codes.
var (
	ErrNotFound         = errors.New("conversation not found")
	ErrOwnershipChanged = errors.New("conversation ownership changed")
	ErrEmptyContent     = errors.New("message content is empty")
	ErrContentTooLong   = errors.New("content exceeds maximum length")
	ErrInvalidRating    = errors.New("rating score must be between 1 and 5")
	ErrAlreadyRated     = errors.New("conversation already rated for this cycle")
	ErrInvalidStatus    = errors.New("invalid conversation status")
	ErrRateLimited      = errors.New("too many messages, slow down")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrMissingSession   = errors.New("missing session id")
	ErrMissingParameter = errors.New("missing required parameter")
	ErrUnknownCommand   = errors.New("unknown command")
)

// IsClientError reports whether err was caused by invalid client input
// rather than an infrastructure failure
func IsClientError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrEmptyContent),
		errors.Is(err, ErrContentTooLong),
		errors.Is(err, ErrInvalidRating),
		errors.Is(err, ErrAlreadyRated),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrMissingParameter),
		errors.Is(err, ErrUnknownCommand),
		errors.Is(err, ErrForbidden):
		return true
	}
	return false
}
