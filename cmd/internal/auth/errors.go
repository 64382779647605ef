package auth

import "errors"

var (
	// ErrMissingToken is returned when no bearer credential was presented.
	ErrMissingToken = errors.New("missing token")

	// ErrInvalidToken is returned when a credential fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid auth config")
)
