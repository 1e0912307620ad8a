// Package handlers implements the REST endpoints for conversations,
// statistics and ad hoc analysis.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jscharber/convosense/internal/server/response"
	"github.com/jscharber/convosense/internal/store"
	"github.com/jscharber/convosense/pkg/logger"
)

var (
	// ErrEmptyText is returned when a request carries no usable text.
	ErrEmptyText = store.ErrEmptyText
	// ErrInvalidBody is returned when a request body is not a JSON object.
	ErrInvalidBody = errors.New("invalid JSON request body")
)

// Paging bounds the page size accepted by list endpoints.
type Paging struct {
	DefaultSize int
	MaxSize     int
}

// DefaultPaging returns ten records per page, at most one hundred.
func DefaultPaging() Paging {
	return Paging{DefaultSize: 10, MaxSize: 100}
}

type textRequest struct {
	Text *string `json:"text"`
}

// decodeText reads {"text": "..."} and rejects missing or blank text.
func decodeText(r *http.Request) (string, error) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	if req.Text == nil || strings.TrimSpace(*req.Text) == "" {
		return "", ErrEmptyText
	}
	return *req.Text, nil
}

// writeDecodeError maps decodeText failures to 400 or 413.
func writeDecodeError(rw *response.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		rw.Error(http.StatusRequestEntityTooLarge, response.ErrorCodeRequestTooLarge,
			fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit), nil)
	case errors.Is(err, ErrEmptyText):
		rw.ValidationError("Text is required", map[string]string{"field": "text"})
	default:
		rw.BadRequest("Invalid JSON request", err.Error())
	}
}

func responder(w http.ResponseWriter, r *http.Request) *response.ResponseWriter {
	return response.NewResponseWriter(w, logger.RequestIDFromContext(r.Context()))
}

// positiveInt parses s, falling back to def for anything that is not a positive integer.
func positiveInt(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}

// parseDate accepts RFC 3339 timestamps or plain YYYY-MM-DD dates (midnight UTC).
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: expected RFC 3339 or YYYY-MM-DD", s)
	}
	return &t, nil
}
