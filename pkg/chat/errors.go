package chat

import "errors"

var (
	// ErrUnauthorized is returned when the identity provider denies chat access.
	ErrUnauthorized = errors.New("user is not permitted to use chat")

	// ErrRateLimited is returned when the caller exceeded the request window.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrCompletionUnavailable is returned when the completion provider is
	// missing, misconfigured, or its call failed.
	ErrCompletionUnavailable = errors.New("completion provider unavailable")

	// ErrCancelled is returned when the caller aborted an in-flight turn.
	ErrCancelled = errors.New("turn cancelled")
)
