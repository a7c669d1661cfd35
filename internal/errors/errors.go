package errors

import (
	"errors"
	"fmt"
)

// Common error types for the portal session subsystem
var (
	// Token errors
	ErrMalformedToken = errors.New("malformed token")
	ErrExpired        = errors.New("session expired")

	// Persisted record errors
	ErrSchemaStale = errors.New("stale session schema")

	// Authorization errors
	ErrUnauthorized     = errors.New("email not authorized")
	ErrNotAuthenticated = errors.New("not authenticated")

	// Refresh errors
	ErrRefreshRejected  = errors.New("refresh rejected by server")
	ErrRefreshTransient = errors.New("transient refresh failure")

	// Restoration errors
	ErrRestorationFailed = errors.New("session restoration failed")

	// Role errors
	ErrInvalidRoleSelection = errors.New("invalid role selection")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
