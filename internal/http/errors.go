package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// CodeMissingDecryptionKeys tags the entitlement failure.
const CodeMissingDecryptionKeys = "missing_decryption_keys"

// ErrorBody is the JSON error document a non-success response may carry.
//
// Servers put the details either under "detail" (a string, or an object with
// "error" and "message") or at the top level.
type ErrorBody struct {
	Detail  json.RawMessage `json:"detail,omitempty"`
	Code    string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// ErrorDetail is the object form of ErrorBody.Detail.
type ErrorDetail struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

// Resolve returns the classification tag and the best human-readable message.
// Both are empty when the body says nothing useful.
func (b ErrorBody) Resolve() (code, message string) {
	if len(b.Detail) > 0 {
		var text string
		if err := json.Unmarshal(b.Detail, &text); err == nil {
			return b.Code, firstNonEmpty(text, b.Message)
		}
		var d ErrorDetail
		if err := json.Unmarshal(b.Detail, &d); err == nil {
			return firstNonEmpty(d.Code, b.Code), firstNonEmpty(d.Message, b.Message, d.Code)
		}
	}
	return b.Code, b.Message
}

// APIError is a non-success response from the catalog API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Unwrap maps the status code onto the package's sentinel errors.
func (e *APIError) Unwrap() error {
	return checkStatusCode(e.StatusCode)
}

// Is reports entitlement failures as ErrMissingDecryptionKeys.
func (e *APIError) Is(target error) bool {
	return target == ErrMissingDecryptionKeys && e.Entitlement()
}

// Entitlement reports whether the server refused because required
// decryption material is missing.
func (e *APIError) Entitlement() bool {
	return e.Code == CodeMissingDecryptionKeys
}

// newAPIError builds an APIError from a non-success response, falling back
// to a status-based message when the body is absent or not JSON.
func newAPIError(resp *http.Response) *APIError {
	e := &APIError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil && len(data) > 0 {
		var body ErrorBody
		if json.Unmarshal(data, &body) == nil {
			e.Code, e.Message = body.Resolve()
		}
	}

	if e.Message == "" {
		e.Message = fmt.Sprintf("status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return e
}

// AsAPIError extracts an *APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
