// Package apperr defines the error taxonomy shared by repositories, services
// and HTTP handlers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Status maps a kind onto its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a client-visible failure. Code is a stable machine-readable
// identifier; Message is safe to show to the caller.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by code so that errors.Is works on copies produced by
// WithDetails and Wrap.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code != "" && e.Code == t.Code
}

// WithDetails returns a copy carrying field-level details.
func (e *Error) WithDetails(details map[string]string) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// WithMessage returns a copy with a more specific message.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Validation(msg string, details map[string]string) *Error {
	return &Error{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: msg, Details: details}
}

// Internal wraps an unexpected failure. The cause is kept for logging only.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: "INTERNAL_ERROR", Message: "Internal server error", Err: err}
}

// As extracts an *Error from err. Anything that is not already an *Error is
// reported as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// KindOf returns the kind of err, KindInternal when unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

var (
	ErrNotFound = New(KindNotFound, "NOT_FOUND", "Resource not found")

	ErrUnauthorized       = New(KindAuth, "UNAUTHORIZED", "Authentication required")
	ErrInvalidToken       = New(KindAuth, "INVALID_TOKEN", "Invalid token")
	ErrTokenExpired       = New(KindAuth, "TOKEN_EXPIRED", "Token has expired")
	ErrUserNotFound       = New(KindAuth, "USER_NOT_FOUND", "User no longer exists")
	ErrEmailNotVerified   = New(KindAuth, "EMAIL_NOT_VERIFIED", "Please verify your email before continuing")
	ErrInvalidCredentials = New(KindAuth, "INVALID_CREDENTIALS", "Invalid email or password")
	ErrInactiveUser       = New(KindForbidden, "ACCOUNT_INACTIVE", "Account is inactive")

	ErrNoOrganization = New(KindForbidden, "NO_ORGANIZATION", "You must create or join an organization first")
	ErrForbidden      = New(KindForbidden, "FORBIDDEN", "You do not have permission to perform this action")
	ErrAddOnRequired  = New(KindForbidden, "ADDON_REQUIRED", "This feature requires an active add-on")

	ErrUserExists            = New(KindConflict, "USER_EXISTS", "A user with this email already exists")
	ErrDuplicatePatient      = New(KindConflict, "DUPLICATE_PATIENT", "A patient with this phone number already exists in your organization")
	ErrSchedulingConflict    = New(KindConflict, "SCHEDULING_CONFLICT", "The doctor already has an appointment in this time slot")
	ErrHasDependents         = New(KindConflict, "HAS_DEPENDENTS", "Resource still has dependent records")
	ErrLastAdminProtected    = New(KindConflict, "LAST_ADMIN", "An organization must keep at least one admin")
	ErrAlreadyInOrganization = New(KindConflict, "ALREADY_IN_ORGANIZATION", "User already belongs to an organization")
	ErrAlreadyFinalized      = New(KindConflict, "ALREADY_FINALIZED", "Appointment is already completed or cancelled")
	ErrInvalidTransition     = New(KindConflict, "INVALID_TRANSITION", "Appointment cannot move to the requested status")
	ErrInviteConsumed        = New(KindConflict, "INVITE_CONSUMED", "Invite has already been used")
	ErrSubscriptionExists    = New(KindConflict, "SUBSCRIPTION_EXISTS", "Add-on is already active or pending for this organization")

	ErrInvalidSchedule = New(KindValidation, "INVALID_SCHEDULE", "Appointment date must be in the future")
	ErrInvalidInvite   = New(KindValidation, "INVALID_INVITE", "Invite token is invalid")
	ErrInviteExpired   = New(KindValidation, "INVITE_EXPIRED", "Invite has expired")
	ErrInvalidLink     = New(KindValidation, "INVALID_LINK", "Link is invalid or has expired")
	ErrInvalidBackup   = New(KindValidation, "INVALID_BACKUP", "Backup document is missing required sections")

	ErrRateLimited = New(KindRateLimited, "RATE_LIMITED", "Please wait before triggering another backup")
)
