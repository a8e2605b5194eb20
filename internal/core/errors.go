package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an expected business failure.
type ErrorKind string

const (
	KindNotFound     ErrorKind = "NOT_FOUND"
	KindValidation   ErrorKind = "VALIDATION_ERROR"
	KindUnauthorized ErrorKind = "UNAUTHORIZED"
	KindForbidden    ErrorKind = "FORBIDDEN"
	KindConflict     ErrorKind = "CONFLICT"
)

// Error is a typed, expected outcome of a core operation. Code identifies the
// violated rule and is stable across releases; Message is human readable.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code when the target carries one, otherwise on Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInvalidTransition = &Error{Kind: KindValidation, Code: CodeInvalidTransition}
)

// Stable rule codes.
const (
	CodeNotFound              = "NOT_FOUND"
	CodeInvalidTransition     = "INVALID_TRANSITION"
	CodeFactoryAccessDenied   = "FACTORY_ACCESS_DENIED"
	CodeRoleNotPermitted      = "ROLE_NOT_PERMITTED"
	CodeNotCreator            = "NOT_CREATOR"
	CodeFieldNotEditable      = "FIELD_NOT_EDITABLE"
	CodeRequestClosed         = "REQUEST_CLOSED"
	CodeApprovalPending       = "APPROVAL_PENDING"
	CodeNotAwaitingApproval   = "NOT_AWAITING_APPROVAL"
	CodeAlreadyApproved       = "ALREADY_APPROVED"
	CodeInvalidAssignee       = "INVALID_ASSIGNEE"
	CodeNotDeletable          = "NOT_DELETABLE"
	CodeInvalidPrice          = "INVALID_PRICE"
	CodeInvalidQuantity       = "INVALID_QUANTITY"
	CodeInactiveVendor        = "INACTIVE_VENDOR"
	CodeInactiveMaterial      = "INACTIVE_MATERIAL"
	CodeInactiveFactory       = "INACTIVE_FACTORY"
	CodeInvalidLineItemStatus = "INVALID_LINE_ITEM_STATUS"
	CodeInvalidRequestStatus  = "INVALID_REQUEST_STATUS"
	CodeReasonRequired        = "REASON_REQUIRED"
	CodeReasonTooLong         = "REASON_TOO_LONG"
	CodePendingReturns        = "PENDING_RETURNS"
	CodeReturnExists          = "RETURN_ALREADY_EXISTS"
	CodeReturnNotRequested    = "RETURN_NOT_REQUESTED"
	CodeNoLineItems           = "NO_LINE_ITEMS"
	CodeInvalidInput          = "INVALID_INPUT"
	CodeDuplicate             = "DUPLICATE"
)

func notFound(entity string, id int) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf("%s %d not found", entity, id)}
}

func validationf(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func forbiddenf(code, format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError builds a NotFound error for store implementations.
func NotFoundError(entity string, id int) error {
	return notFound(entity, id)
}

// ConflictError builds a Conflict error for store implementations that detect
// duplicate keys.
func ConflictError(format string, args ...any) error {
	return &Error{Kind: KindConflict, Code: CodeDuplicate, Message: fmt.Sprintf(format, args...)}
}

// AsError returns the typed core error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
