package errors

import (
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	InvalidTransition     ErrorCode = "invalid_transition"
	ConflictingTransition ErrorCode = "conflicting_transition"
	TransactionNotFound   ErrorCode = "transaction_not_found"
	UnknownStatus         ErrorCode = "unknown_status"
	StorageUnavailable    ErrorCode = "storage_unavailable"
	DelegateUnavailable   ErrorCode = "delegate_unavailable"
	PreconditionFailed    ErrorCode = "precondition_failed"
	DuplicateIdentifier   ErrorCode = "duplicate_identifier"
	InvalidInput          ErrorCode = "invalid_input"
	InvalidAmount         ErrorCode = "invalid_amount"
	InternalError         ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// HTTPStatus maps the error taxonomy to response classes. Conflicting
// and invalid transitions are both surfaced as 409; duplicates are not
// errors and never reach this mapping.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case TransactionNotFound:
		return http.StatusNotFound
	case ConflictingTransition, InvalidTransition:
		return http.StatusConflict
	case UnknownStatus, InvalidInput, InvalidAmount:
		return http.StatusBadRequest
	case StorageUnavailable:
		return http.StatusServiceUnavailable
	case DelegateUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Predefined errors for common cases
var (
	ErrTransactionNotFound = NewAppError(TransactionNotFound, "transaction not found")
	ErrDuplicateIdentifier = NewAppError(DuplicateIdentifier, "transaction id already exists")
	ErrPreconditionFailed  = NewAppError(PreconditionFailed, "no transaction bound to locked handle")
)
