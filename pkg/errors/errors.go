package errors

import "errors"

var (
	// Credential and token failures share deliberately generic messages so a
	// caller cannot tell which specific check rejected the request.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")

	ErrEmailExists    = errors.New("email already registered")
	ErrUsernameExists = errors.New("username already taken")

	ErrUserNotFound  = errors.New("user not found")
	ErrTokenNotFound = errors.New("refresh token not found")

	ErrNilUser      = errors.New("user is nil")
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("admin access required")
	ErrStorage      = errors.New("storage unavailable")
	ErrInternal     = errors.New("internal error")
)
