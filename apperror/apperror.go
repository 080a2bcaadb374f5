// Package apperror defines the error taxonomy surfaced to API callers.
package apperror

import (
	"errors"
	"net/http"

	"video-splitter/constant"
)

type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindInvalidSource
	KindSourceNotFound
	KindSourceTooLong
	KindDownloadFailed
	KindProcessingFailed
	KindRateLimited
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "InvalidInput"
	case KindInvalidSource:
		return "InvalidSource"
	case KindSourceNotFound:
		return "SourceNotFound"
	case KindSourceTooLong:
		return "SourceTooLong"
	case KindDownloadFailed:
		return "DownloadFailed"
	case KindProcessingFailed:
		return "ProcessingFailed"
	case KindRateLimited:
		return "RateLimited"
	case KindNotFound:
		return "NotFound"
	default:
		return "InternalError"
	}
}

// HTTPStatus is the response status used when an error of this kind reaches
// the HTTP layer.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput, KindInvalidSource, KindSourceTooLong, KindSourceNotFound:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) defaultCode() constant.ErrorCode {
	switch k {
	case KindInvalidInput, KindInvalidSource:
		return constant.ErrorCodeInvalidURL
	case KindSourceNotFound:
		return constant.ErrorCodeVideoNotFound
	case KindSourceTooLong:
		return constant.ErrorCodeVideoTooLong
	case KindDownloadFailed:
		return constant.ErrorCodeDownloadFailed
	case KindProcessingFailed:
		return constant.ErrorCodeProcessingFailed
	case KindRateLimited:
		return constant.ErrorCodeRateLimitExceeded
	case KindNotFound:
		return constant.ErrorCodeNotFound
	default:
		return constant.ErrorCodeInternal
	}
}

type Error struct {
	Kind    Kind
	Code    constant.ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperror.NotFound(""))
// style comparisons work regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Code: kind.defaultCode(), Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Code: kind.defaultCode(), Message: msg, Err: err}
}

func (e *Error) WithCode(code constant.ErrorCode) *Error {
	e.Code = code
	return e
}

func InvalidInput(msg string) *Error   { return New(KindInvalidInput, msg) }
func InvalidSource(msg string) *Error  { return New(KindInvalidSource, msg) }
func SourceNotFound(msg string) *Error { return New(KindSourceNotFound, msg) }
func SourceTooLong(msg string) *Error  { return New(KindSourceTooLong, msg) }
func NotFound(msg string) *Error       { return New(KindNotFound, msg) }
func RateLimited(msg string) *Error    { return New(KindRateLimited, msg) }

// KindOf reports the taxonomy kind of err, KindInternal for anything that is
// not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Public converts any error into the code and message shown to API callers.
// Unclassified errors never leak their internal text.
func Public(err error) (int, constant.ErrorCode, string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.HTTPStatus(), e.Code, e.Message
	}
	return http.StatusInternalServerError, constant.ErrorCodeInternal, "Internal server error"
}
