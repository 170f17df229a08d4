package services

import "errors"

// Service-level errors. Handlers map these to HTTP statuses; anything not
// in this list is treated as an internal error. Note that ErrNotFound is
// deliberately returned for files the caller may not see, so responses do
// not reveal whether a resource exists.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrForbidden          = errors.New("operation not permitted")
	ErrShareExpired       = errors.New("share has expired")
	ErrPermissionMismatch = errors.New("share does not grant this action")
	ErrUnknownRecipient   = errors.New("recipient not found")
	ErrDuplicateIdentity  = errors.New("username or email already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrMFANotConfigured   = errors.New("mfa is not enabled")
	ErrAlreadyEnabled     = errors.New("mfa is already enabled")
	ErrSecretNotGenerated = errors.New("mfa setup has not been started")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrStorageConstraint  = errors.New("storage constraint violated")
)
