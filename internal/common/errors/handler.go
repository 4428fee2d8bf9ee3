// internal/common/errors/handler.go
package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the JSON body written for every failed request.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorHandler writes standardized error responses.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Respond normalizes err, logs it and writes the mapped status and body.
// It returns the normalized error so callers can record it.
func (h *ErrorHandler) Respond(c *gin.Context, err error) *StandardError {
	stdErr := Normalize(err)
	if stdErr == nil {
		stdErr = NewInternalError(nil)
	}
	status := HTTPStatus(stdErr.Code)

	h.logError(c, stdErr, status)

	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Message: PublicMessage(stdErr),
	})
	return stdErr
}

func (h *ErrorHandler) logError(c *gin.Context, stdErr *StandardError, status int) {
	fields := map[string]interface{}{
		"errorCode":     string(stdErr.Code),
		"errorCategory": GetErrorCategory(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"status":        status,
		"method":        c.Request.Method,
		"path":          c.Request.URL.Path,
	}
	if rid, ok := c.Get("requestID"); ok {
		fields["requestId"] = rid
	}
	for k, v := range stdErr.Metadata {
		fields[k] = v
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", fields)
		return
	}
	h.logger.Warn("Request rejected", fields)
}
