package types

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Concrete errors wrap one of these so callers can
// classify with errors.Is without depending on message text.
var (
	ErrValidation    = errors.New("validation error")
	ErrAuthorization = errors.New("not authorised")
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
	ErrConfiguration = errors.New("configuration error")
)

// ValidationError reports malformed or missing user input. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// AuthorizationError reports that the caller lacks rights over the target.
// Distinct from not-found; never silently downgraded.
type AuthorizationError struct {
	Subject string
	Action  string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not_authorised: %s may not %s", e.Subject, e.Action)
}

func (e *AuthorizationError) Unwrap() error { return ErrAuthorization }

// ConflictError reports a duplicate (e.g. an identical permission ticket
// triple already exists, or a concurrent create race lost).
type ConflictError struct {
	Entity string
	Detail string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("invalid_permission: %s already exists: %s", e.Entity, e.Detail)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports an absent entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConfigurationError reports a structural defect in policy or sync
// configuration (cycle, unresolvable type, dangling reference). Fatal to the
// current evaluation or sync call.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Detail
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }
