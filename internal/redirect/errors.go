package redirect

import "errors"

var (
	ErrRuleNotFound       = errors.New("redirect not found")
	ErrEmptySource        = errors.New("source URL is required")
	ErrMissingDestination = errors.New("destination URL is required for this redirect type")
	ErrInvalidPattern     = errors.New("invalid regex pattern")
	ErrControlCharacter   = errors.New("source and destination must not contain control characters")
	ErrVersionConflict    = errors.New("redirects were modified concurrently")
)
