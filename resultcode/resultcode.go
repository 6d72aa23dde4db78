// Package resultcode defines the wire-stable error kinds described in the error
// handling design, and a CodedError carrying a kind, the HTTP status it maps to, and an
// optional detail payload for the HTTP layer to echo back to callers.
package resultcode

import (
	"errors"
	"net/http"
)

// Kind is a stable wire error code. Values are illustrative strings in the contract but
// must never change once shipped.
type Kind string

const (
	TokenIsNull        Kind = "TOKEN_IS_NULL"
	TokenFailOrExpire  Kind = "TOKEN_FAIL_OR_EXPIRE"
	KGInvalidGraphName Kind = "KG_INVALID_GRAPH_NAME"
	KGTaskRunning      Kind = "KG_TASK_RUNNING"
	KGNoBaseVersion    Kind = "KG_NO_BASE_VERSION"
	KGNoReadyVersion   Kind = "KG_NO_READY_VERSION"
	KGBuildFailed      Kind = "KG_BUILD_FAILED"
	KGUpdateFailed     Kind = "KG_UPDATE_FAILED"
	Unclassified       Kind = "ERROR"
)

// httpStatus is the illustrative-but-stable status each kind maps to (§7).
var httpStatus = map[Kind]int{
	TokenIsNull:        http.StatusUnauthorized,
	TokenFailOrExpire:  http.StatusUnauthorized,
	KGInvalidGraphName: http.StatusBadRequest,
	KGTaskRunning:      http.StatusConflict,
	KGNoBaseVersion:    http.StatusBadRequest,
	KGNoReadyVersion:   http.StatusNotFound,
	KGBuildFailed:      http.StatusInternalServerError,
	KGUpdateFailed:     http.StatusInternalServerError,
	Unclassified:       http.StatusInternalServerError,
}

// Status returns the HTTP status a kind maps to, defaulting to 500 for unknown kinds.
func (k Kind) Status() int {
	if s, ok := httpStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// CodedError is an error tagged with a stable wire Kind and an optional structured
// Detail (e.g. the conflicting task on KGTaskRunning).
type CodedError struct {
	Kind    Kind
	Message string
	Detail  any
}

func (e *CodedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// New builds a CodedError.
func New(kind Kind, message string) *CodedError {
	return &CodedError{Kind: kind, Message: message}
}

// WithDetail attaches a detail payload (e.g. a conflicting task/status snapshot) and
// returns the same error for chaining.
func (e *CodedError) WithDetail(detail any) *CodedError {
	e.Detail = detail
	return e
}

// As reports whether err is (or wraps) a *CodedError, matching the standard errors.As
// contract so callers can do `var ce *resultcode.CodedError; errors.As(err, &ce)`.
func As(err error) (*CodedError, bool) {
	var ce *CodedError
	ok := errors.As(err, &ce)
	return ce, ok
}
