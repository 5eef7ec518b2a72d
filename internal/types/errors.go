package types

import "errors"

// ErrorKind classifies failures so callers switch on kind instead of matching message text.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAuthentication
	KindForbidden
	KindConflict
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a classified domain error. Two Errors match under errors.Is when their codes are equal,
// so a sentinel carrying extra detail still matches the bare sentinel.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Detail  string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithDetail returns a copy of e carrying a human readable detail.
func (e *Error) WithDetail(detail string) *Error {
	c := *e
	c.Detail = detail
	return &c
}

var (
	ErrMissingFields      = &Error{Kind: KindValidation, Code: "MISSING_FIELDS", Message: "missing required fields"}
	ErrInvalidEmail       = &Error{Kind: KindValidation, Code: "INVALID_EMAIL", Message: "invalid email format"}
	ErrInvalidRole        = &Error{Kind: KindValidation, Code: "INVALID_ROLE", Message: "invalid role"}
	ErrWeakPassword       = &Error{Kind: KindValidation, Code: "WEAK_PASSWORD", Message: "password does not meet strength requirements"}
	ErrAlreadyExists      = &Error{Kind: KindConflict, Code: "ALREADY_EXISTS", Message: "user with this email already exists"}
	ErrInvalidCredentials = &Error{Kind: KindAuthentication, Code: "INVALID_CREDENTIALS", Message: "invalid email or password"}
	ErrAccountDeactivated = &Error{Kind: KindForbidden, Code: "ACCOUNT_DEACTIVATED", Message: "account is deactivated"}
	ErrInvalidToken       = &Error{Kind: KindAuthentication, Code: "INVALID_TOKEN", Message: "invalid token"}
	ErrExpiredOrRevoked   = &Error{Kind: KindAuthentication, Code: "EXPIRED_OR_REVOKED", Message: "refresh token expired or revoked"}
	ErrUserInactive       = &Error{Kind: KindAuthentication, Code: "USER_INACTIVE", Message: "user not found or inactive"}
	ErrNotFound           = &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: "requested item not found"}
	ErrExpiredOrInvalid   = &Error{Kind: KindAuthentication, Code: "EXPIRED_OR_INVALID", Message: "reset token expired or invalid"}
	ErrInvalidOrExpired   = &Error{Kind: KindAuthentication, Code: "INVALID_OR_EXPIRED", Message: "invalid or expired token"}
	ErrUnauthenticated    = &Error{Kind: KindAuthentication, Code: "UNAUTHENTICATED", Message: "authentication required"}
	ErrForbidden          = &Error{Kind: KindForbidden, Code: "FORBIDDEN", Message: "insufficient permissions"}
)

// KindOf returns the kind of the first classified error in err's chain.
// Unclassified errors are internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError extracts the classified error from err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
