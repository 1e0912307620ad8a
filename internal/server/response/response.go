// Package response writes JSON API responses. Successful responses carry the
// resource itself; failures share a single error envelope.
package response

import (
	"encoding/json"
	"net/http"
	"time"
)

// Error codes
const (
	ErrorCodeBadRequest          = "BAD_REQUEST"
	ErrorCodeValidationError     = "VALIDATION_ERROR"
	ErrorCodeNotFound            = "NOT_FOUND"
	ErrorCodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	ErrorCodeRequestTooLarge     = "REQUEST_TOO_LARGE"
	ErrorCodeTooManyRequests     = "TOO_MANY_REQUESTS"
	ErrorCodeInternalError       = "INTERNAL_SERVER_ERROR"
	ErrorCodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	ErrorCodeAnalysisFailed      = "ANALYSIS_FAILED"
	ErrorCodeConversationMissing = "CONVERSATION_NOT_FOUND"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     *APIError `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError represents an API error
type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ResponseWriter binds an http.ResponseWriter to the request id echoed in errors.
type ResponseWriter struct {
	w         http.ResponseWriter
	requestID string
}

// NewResponseWriter creates a new response writer
func NewResponseWriter(w http.ResponseWriter, requestID string) *ResponseWriter {
	return &ResponseWriter{w: w, requestID: requestID}
}

// JSON writes data with statusCode.
func (rw *ResponseWriter) JSON(statusCode int, data interface{}) {
	rw.w.Header().Set("Content-Type", "application/json")
	rw.w.WriteHeader(statusCode)
	_ = json.NewEncoder(rw.w).Encode(data)
}

// OK writes data with 200.
func (rw *ResponseWriter) OK(data interface{}) {
	rw.JSON(http.StatusOK, data)
}

// Created writes data with 201.
func (rw *ResponseWriter) Created(data interface{}) {
	rw.JSON(http.StatusCreated, data)
}

// Error writes the error envelope.
func (rw *ResponseWriter) Error(statusCode int, code, message string, details interface{}) {
	rw.JSON(statusCode, ErrorResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
		RequestID: rw.requestID,
	})
}

// BadRequest writes a bad request error (400)
func (rw *ResponseWriter) BadRequest(message string, details interface{}) {
	rw.Error(http.StatusBadRequest, ErrorCodeBadRequest, message, details)
}

// ValidationError writes a 400 for an invalid request body field.
func (rw *ResponseWriter) ValidationError(message string, details interface{}) {
	rw.Error(http.StatusBadRequest, ErrorCodeValidationError, message, details)
}

// NotFound writes a not found error (404)
func (rw *ResponseWriter) NotFound(message string) {
	rw.Error(http.StatusNotFound, ErrorCodeNotFound, message, nil)
}

// TooManyRequests writes a too many requests error (429)
func (rw *ResponseWriter) TooManyRequests(message string) {
	rw.Error(http.StatusTooManyRequests, ErrorCodeTooManyRequests, message, nil)
}

// InternalServerError writes an internal server error (500)
func (rw *ResponseWriter) InternalServerError(message string, details interface{}) {
	rw.Error(http.StatusInternalServerError, ErrorCodeInternalError, message, details)
}

// WriteJSON writes data with statusCode.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	NewResponseWriter(w, "").JSON(statusCode, data)
}

// WriteError writes an error response
func WriteError(w http.ResponseWriter, requestID string, statusCode int, code, message string, details interface{}) {
	NewResponseWriter(w, requestID).Error(statusCode, code, message, details)
}
