package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeInvalidAmount     Code = "INVALID_AMOUNT"
	CodeBidTooLow         Code = "BID_TOO_LOW"
	CodeBidSuperseded     Code = "BID_SUPERSEDED"
	CodeAuctionClosed     Code = "AUCTION_CLOSED"
	CodeSelfBid           Code = "SELF_BID"
	CodeStorageConflict   Code = "STORAGE_CONFLICT"
)

// Metadata describes how a code surfaces over HTTP.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	terminal  = false
	retryable = true
	private   = false
	public    = true
)

var metadataByCode = map[Code]Metadata{
	CodeValidation:    {http.StatusBadRequest, terminal, "validation failed", public},
	CodeUnauthorized:  {http.StatusUnauthorized, terminal, "authentication required", private},
	CodeForbidden:     {http.StatusForbidden, terminal, "access denied", private},
	CodeNotFound:      {http.StatusNotFound, terminal, "resource not found", private},
	CodeConflict:      {http.StatusConflict, terminal, "conflict detected", private},
	CodeStateConflict: {http.StatusUnprocessableEntity, terminal, "state transition disallowed", public},
	CodeIdempotency:   {http.StatusConflict, terminal, "idempotency key reused", public},
	CodeRateLimit:     {http.StatusTooManyRequests, terminal, "rate limit exceeded", private},
	CodeInternal:      {http.StatusInternalServerError, retryable, "internal server error", private},
	CodeDependency:    {http.StatusServiceUnavailable, retryable, "dependency unavailable", public},

	// Ledger and bidding outcomes. Only a superseded bid or a storage
	// conflict is worth retrying with refreshed state.
	CodeInsufficientFunds: {http.StatusPaymentRequired, terminal, "insufficient button balance", public},
	CodeInvalidAmount:     {http.StatusUnprocessableEntity, terminal, "invalid amount", public},
	CodeBidTooLow:         {http.StatusUnprocessableEntity, terminal, "bid too low", public},
	CodeBidSuperseded:     {http.StatusConflict, retryable, "auction changed, refresh and retry", public},
	CodeAuctionClosed:     {http.StatusConflict, terminal, "auction is closed", public},
	CodeSelfBid:           {http.StatusForbidden, terminal, "cannot bid on your own listing", private},
	CodeStorageConflict:   {http.StatusConflict, retryable, "concurrent update, retry", private},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a failure tagged with a Code. The nil *Error reads as an
// internal error with no message.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Errorf builds a typed error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap tags cause with code. A nil cause behaves like New.
func Wrap(code Code, cause error, message string) *Error {
	e := New(code, message)
	e.cause = cause
	return e
}

func (e *Error) Code() Code {
	if e != nil {
		return e.code
	}
	return CodeInternal
}

func (e *Error) Message() string {
	if e != nil {
		return e.message
	}
	return ""
}

func (e *Error) Details() any {
	if e != nil {
		return e.details
	}
	return nil
}

// WithDetails attaches a client-safe payload and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.code) + ": " + e.message
}

func (e *Error) Unwrap() error {
	if e != nil {
		return e.cause
	}
	return nil
}

// IsCode reports whether err carries the given typed code anywhere in its chain.
func IsCode(err error, code Code) bool {
	if typed := As(err); typed != nil {
		return typed.code == code
	}
	return false
}

// IsRetryable reports whether the caller may retry the operation with fresh state.
func IsRetryable(err error) bool {
	if typed := As(err); typed != nil {
		return MetadataFor(typed.code).Retryable
	}
	return false
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
