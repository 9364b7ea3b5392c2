package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of an engine error.
type ErrorType string

const (
	// ErrorTypeInvalidInput indicates malformed input, e.g. a negative quantity.
	ErrorTypeInvalidInput ErrorType = "invalid_input"

	// ErrorTypeIllegalTransition indicates the requested status edge does not exist.
	ErrorTypeIllegalTransition ErrorType = "illegal_transition"

	// ErrorTypeForbidden indicates the actor may not perform the action right now.
	ErrorTypeForbidden ErrorType = "forbidden"

	// ErrorTypeUnsupportedOrigin indicates a raw record from an unknown source.
	ErrorTypeUnsupportedOrigin ErrorType = "unsupported_origin"

	// ErrorTypeConflict indicates an optimistic-concurrency write race.
	ErrorTypeConflict ErrorType = "conflict"

	// ErrorTypeNotFound indicates the trade does not exist.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeUnauthenticated indicates the caller could not be identified.
	ErrorTypeUnauthenticated ErrorType = "unauthenticated"

	// ErrorTypeRateLimited indicates the caller exceeded its request budget.
	ErrorTypeRateLimited ErrorType = "rate_limited"

	// ErrorTypeServer indicates an internal failure.
	ErrorTypeServer ErrorType = "server"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeNegativeQuantity  ErrorCode = "negative_quantity"
	ErrorCodeNegativeTaxRate   ErrorCode = "negative_tax_rate"
	ErrorCodeUnpricedItem      ErrorCode = "unpriced_item"
	ErrorCodeDuplicateLineID   ErrorCode = "duplicate_line_id"
	ErrorCodeEmptyItems        ErrorCode = "empty_items"
	ErrorCodeUnknownRawStatus  ErrorCode = "unknown_raw_status"
	ErrorCodeShippingRequired  ErrorCode = "shipping_required"
	ErrorCodeTerminalStatus    ErrorCode = "terminal_status"
	ErrorCodeNotAParty         ErrorCode = "not_a_party"
	ErrorCodeRetriesExhausted  ErrorCode = "retries_exhausted"
	ErrorCodeVersionMismatch   ErrorCode = "version_mismatch"
	ErrorCodeOriginMismatch    ErrorCode = "origin_mismatch"
	ErrorCodeInquiryNotSettled ErrorCode = "inquiry_not_settled"
	ErrorCodeNegativeAmount    ErrorCode = "negative_amount"
	ErrorCodeMissingParty      ErrorCode = "missing_party"
	ErrorCodeMissingID         ErrorCode = "missing_id"
)

// TradeError is the canonical error returned by engine components.
type TradeError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Param names the offending field, if any
	Param string `json:"param,omitempty"`

	// TradeID is the trade the error relates to, if any
	TradeID string `json:"trade_id,omitempty"`
}

// Error implements the error interface.
func (e *TradeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *TradeError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidInput:
		return http.StatusBadRequest
	case ErrorTypeUnauthenticated:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeIllegalTransition, ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeUnsupportedOrigin:
		return http.StatusUnprocessableEntity
	case ErrorTypeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// NewTradeError creates a new trade error.
func NewTradeError(errType ErrorType, message string) *TradeError {
	return &TradeError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *TradeError) WithCode(code ErrorCode) *TradeError {
	e.Code = code
	return e
}

// WithParam adds a parameter name to the error.
func (e *TradeError) WithParam(param string) *TradeError {
	e.Param = param
	return e
}

// WithTradeID records the trade the error relates to.
func (e *TradeError) WithTradeID(id string) *TradeError {
	e.TradeID = id
	return e
}

// TypeOf returns the ErrorType of err, or ErrorTypeServer when err is not a TradeError.
func TypeOf(err error) ErrorType {
	var tradeErr *TradeError
	if errors.As(err, &tradeErr) {
		return tradeErr.Type
	}
	return ErrorTypeServer
}

// IsType reports whether err is a TradeError of the given type.
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}
	return TypeOf(err) == errType
}

// Convenience constructors for common errors

// ErrInvalidInput creates an invalid input error.
func ErrInvalidInput(message string) *TradeError {
	return NewTradeError(ErrorTypeInvalidInput, message)
}

// ErrIllegalTransition creates an illegal transition error.
func ErrIllegalTransition(from, to Status) *TradeError {
	return NewTradeError(ErrorTypeIllegalTransition, fmt.Sprintf("no transition from %s to %s", from, to))
}

// ErrForbidden creates a forbidden error.
func ErrForbidden(message string) *TradeError {
	return NewTradeError(ErrorTypeForbidden, message)
}

// ErrUnsupportedOrigin creates an unsupported origin error.
func ErrUnsupportedOrigin(origin Origin) *TradeError {
	return NewTradeError(ErrorTypeUnsupportedOrigin, fmt.Sprintf("unsupported origin %q", origin))
}

// ErrConflict creates an optimistic-concurrency conflict error.
func ErrConflict(message string) *TradeError {
	return NewTradeError(ErrorTypeConflict, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *TradeError {
	return NewTradeError(ErrorTypeNotFound, message)
}

// ErrUnauthenticated creates an unauthenticated error.
func ErrUnauthenticated(message string) *TradeError {
	return NewTradeError(ErrorTypeUnauthenticated, message)
}

// ErrServer creates a server error.
func ErrServer(message string) *TradeError {
	return NewTradeError(ErrorTypeServer, message)
}
