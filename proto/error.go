package proto

import (
	"errors"
	"fmt"
)

// ErrorCode follows HTTP status semantics. The signaling client reads 404 as
// an unknown meeting, 409 as a full one and 400 as an invalid request; any
// other code is a plain rejection. During authentication codes from 500 up
// count as network failures.
type ErrorCode int

const (
	ErrUnknown             ErrorCode = -1
	ErrStatusBadRequest    ErrorCode = 400
	ErrUnauthorized        ErrorCode = 401
	ErrForbidden           ErrorCode = 403
	ErrNotFound            ErrorCode = 404
	ErrConflict            ErrorCode = 409
	ErrInternalServerError ErrorCode = 500
	ErrNotImplemented      ErrorCode = 501
)

type ResponseError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
	cause   error
}

func (e *ResponseError) Unwrap() error {
	return e.cause
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func NewError(code ErrorCode, cause error) *ResponseError {
	return &ResponseError{
		cause:   cause,
		Code:    code,
		Message: cause.Error(),
	}
}

func NewBadRequestError(cause error) *ResponseError {
	return NewError(ErrStatusBadRequest, cause)
}

func ToResponseError(err error) *ResponseError {
	var re *ResponseError
	if errors.As(err, &re) {
		return re
	}
	return NewError(ErrInternalServerError, err)
}
