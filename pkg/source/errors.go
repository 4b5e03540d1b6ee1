package source

import "errors"

var (
	// ErrUnknownAccount is returned when a push payload names an account
	// that isn't enabled (or doesn't exist at all).
	ErrUnknownAccount = errors.New("unknown or disabled account")

	// ErrQueueFull is returned when the bounded trigger queue has no room
	// for an immediate push trigger; callers should respond "retry later".
	ErrQueueFull = errors.New("trigger queue full")

	// ErrBadSignature is returned when a push payload's HMAC signature
	// does not match.
	ErrBadSignature = errors.New("invalid push signature")

	// ErrUsernameNotFound is returned when no known payload shape yields a
	// usable account username.
	ErrUsernameNotFound = errors.New("could not extract account username from push payload")
)
