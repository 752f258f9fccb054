package command

import "errors"

// ValidationError rejects a malformed command payload or schedule. The target
// state is unchanged and the error surfaces only to the issuer.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationf(reason string) error { return &ValidationError{Reason: reason} }

// AuthorizationError rejects a mutating command from a non-admin or a
// non-owning admin. No state change, no broadcast.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string { return e.Reason }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool {
	var a *AuthorizationError
	return errors.As(err, &a)
}
