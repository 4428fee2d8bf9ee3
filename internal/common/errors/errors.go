// Package errors provides standardized error handling for the HTTP API.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeInvalidRequestBody          ErrorCode = "INVALID_REQUEST_BODY"
	ErrCodeApplicationValidationFailed ErrorCode = "APPLICATION_VALIDATION_FAILED"

	ErrCodeDuplicateTCNo          ErrorCode = "DUPLICATE_TC_NO"
	ErrCodeDuplicateEmail         ErrorCode = "DUPLICATE_EMAIL"
	ErrCodeDuplicateApplicationID ErrorCode = "DUPLICATE_APPLICATION_ID"

	ErrCodeSequenceGenerationFailed ErrorCode = "SEQUENCE_GENERATION_FAILED"
	ErrCodeDatabaseInsertFailed     ErrorCode = "DATABASE_INSERT_FAILED"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"

	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// User facing messages. The product speaks Turkish.
const (
	MsgInvalidRequestBody = "Geçersiz istek gövdesi."
	MsgDuplicateTCNo      = "Bu T.C. Kimlik Numarası ile zaten başvuru yapılmış."
	MsgDuplicateEmail     = "Bu E-posta adresi ile zaten başvuru yapılmış."
	MsgServerError        = "Sunucu hatası: Başvuru kaydedilemedi. Lütfen daha sonra tekrar deneyin."
	MsgNotFound           = "İstenen kaynak bulunamadı."
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	// Violations holds one message per failed field rule, in schema order.
	Violations []string `json:"violations,omitempty"`

	cause error
}

func (e *StandardError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("StandardError[%s]: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a structured value that is logged but never returned
// to the client.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

// NewInvalidRequestBodyError is returned when the body is not a JSON object
// that decodes into the application input.
func NewInvalidRequestBodyError(cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidRequestBody,
		Message:   MsgInvalidRequestBody,
		Details:   causeText(cause),
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewValidationError joins every violated rule with ", ".
func NewValidationError(violations []string) *StandardError {
	return &StandardError{
		Code:       ErrCodeApplicationValidationFailed,
		Message:    strings.Join(violations, ", "),
		Violations: violations,
		Timestamp:  time.Now().UTC(),
	}
}

// NewDuplicateError builds the conflict error for a unique field. Field is
// the JSON name of the column the store rejected.
func NewDuplicateError(field string, cause error) *StandardError {
	e := &StandardError{
		Details:   causeText(cause),
		Metadata:  map[string]interface{}{"field": field},
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
	switch field {
	case "tcNo":
		e.Code, e.Message = ErrCodeDuplicateTCNo, MsgDuplicateTCNo
	case "email":
		e.Code, e.Message = ErrCodeDuplicateEmail, MsgDuplicateEmail
	default:
		e.Code, e.Message = ErrCodeDuplicateApplicationID, "Duplicate application identifier"
	}
	return e
}

func NewSequenceError(cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSequenceGenerationFailed,
		Message:   "Failed to allocate application number",
		Details:   causeText(cause),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

func NewDatabaseInsertError(cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseInsertFailed,
		Message:   "Failed to insert application",
		Details:   causeText(cause),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

func NewDatabaseConnectionError(cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database unavailable",
		Details:   causeText(cause),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

func NewNotFoundError(path string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   MsgNotFound,
		Details:   path,
		Timestamp: time.Now().UTC(),
	}
}

// NewInternalError wraps an unexpected error.
func NewInternalError(cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternalError,
		Message:   "Unexpected error",
		Details:   causeText(cause),
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

func causeText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==========================
// 3. HTTP Mapping
// ==========================

// HTTPStatusMapping maps internal codes to response status codes. Codes not
// listed are server faults.
var HTTPStatusMapping = map[ErrorCode]int{
	ErrCodeInvalidRequestBody:          http.StatusBadRequest,
	ErrCodeApplicationValidationFailed: http.StatusBadRequest,
	ErrCodeDuplicateTCNo:               http.StatusConflict,
	ErrCodeDuplicateEmail:              http.StatusConflict,
	ErrCodeNotFound:                    http.StatusNotFound,
}

// HTTPStatus returns the response status for an error code.
func HTTPStatus(code ErrorCode) int {
	if status, ok := HTTPStatusMapping[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// PublicMessage is the message safe to return to a client. Server faults
// never leak their details.
func PublicMessage(e *StandardError) string {
	if HTTPStatus(e.Code) >= http.StatusInternalServerError {
		return MsgServerError
	}
	return e.Message
}

// ==========================
// 4. Utility Functions
// ==========================

// Normalize ensures we always have a StandardError, looking through wrapped
// errors first.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// HasCode reports whether err is, or wraps, a StandardError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	return stderrors.As(err, &stdErr) && stdErr.Code == code
}

// IsConflict reports whether err is a client visible uniqueness violation.
func IsConflict(err error) bool {
	return HasCode(err, ErrCodeDuplicateTCNo) || HasCode(err, ErrCodeDuplicateEmail)
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "DUPLICATE"):
		return "CONFLICT"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "SEQUENCE"):
		return "DATABASE"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
