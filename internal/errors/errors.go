package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type Code int

const (
	CodeInvalidArgument Code = iota + 1
	CodeInvalidToken
	CodeUnauthenticated
	CodeSessionExpired
	CodePermissionDenied
	CodeNotFound
	CodeAlreadyCompleted
	CodeIncorrectSolution
	CodeUnavailable
	CodeInternal
)

var code2http = map[Code]int{
	CodeInvalidArgument:   http.StatusBadRequest,
	CodeInvalidToken:      http.StatusUnauthorized,
	CodeUnauthenticated:   http.StatusUnauthorized,
	CodeSessionExpired:    http.StatusForbidden,
	CodePermissionDenied:  http.StatusForbidden,
	CodeNotFound:          http.StatusNotFound,
	CodeAlreadyCompleted:  http.StatusBadRequest,
	CodeIncorrectSolution: http.StatusBadRequest,
	CodeUnavailable:       http.StatusInternalServerError,
	CodeInternal:          http.StatusInternalServerError,
}

var code2message = map[Code]string{
	CodeInvalidArgument:   "Invalid request",
	CodeInvalidToken:      "Invalid or expired token",
	CodeUnauthenticated:   "Invalid credentials",
	CodeSessionExpired:    "Challenge session expired",
	CodePermissionDenied:  "Forbidden",
	CodeNotFound:          "Not found",
	CodeAlreadyCompleted:  "Challenge already completed",
	CodeIncorrectSolution: "Incorrect solution",
	CodeUnavailable:       "Service temporarily unavailable",
	CodeInternal:          "Server error",
}

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: code2message[code],
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

// Convert returns err as an *Error, wrapping unknown errors as internal.
func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

// CodeOf extracts the code of err, CodeInternal for unrecognized errors and
// 0 for nil.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	return Convert(err).Code
}

// IsRetryable reports whether err is a transient store failure that a caller
// may safely retry.
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeUnavailable
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
