package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// jsonAPIError represents a JSON:API error object.
type jsonAPIError struct {
	Status int    `json:"status"`
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type jsonAPIErrorDocument struct {
	Errors []jsonAPIError `json:"errors"`
}

// APIError is a non-2xx response from the oracle.
type APIError struct {
	StatusCode int
	Code       string
	Title      string
	Detail     string
}

func (e *APIError) Error() string {
	msg := e.Title
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
}

// parseError turns an error response into an *APIError. Bodies that are not
// JSON:API error documents fall back to the status text.
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var doc jsonAPIErrorDocument
	if err := json.Unmarshal(body, &doc); err == nil && len(doc.Errors) > 0 {
		apiErr.Code = doc.Errors[0].Code
		apiErr.Title = doc.Errors[0].Title
		apiErr.Detail = doc.Errors[0].Detail
	}
	return apiErr
}
