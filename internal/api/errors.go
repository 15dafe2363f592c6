package api

import (
	"errors"
	"net/http"
)

// Error is a non-2xx response from the backend. Body holds the decoded
// JSON value when the response body was JSON, else the raw text.
type Error struct {
	StatusCode int
	StatusText string
	URL        string
	Header     http.Header
	Body       interface{}
	message    string
}

func (e *Error) Error() string {
	return e.message
}

// Field extracts a field-level message from a 422 validation body of the
// form {"errors":{"<name>":"<message>"}}. Empty when absent.
func (e *Error) Field(name string) string {
	obj, ok := e.Body.(map[string]interface{})
	if !ok {
		return ""
	}
	errs, ok := obj["errors"].(map[string]interface{})
	if !ok {
		return ""
	}
	msg, _ := errs[name].(string)
	return msg
}

// IsValidation reports whether err is a 422 response.
func IsValidation(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity
}

// errorMessage picks the user-facing message for a failed response:
// a "message" field inside a JSON body wins, then a non-empty text body,
// then the HTTP status text.
func errorMessage(body interface{}, statusText string) string {
	if obj, ok := body.(map[string]interface{}); ok {
		if msg, ok := obj["message"].(string); ok && msg != "" {
			return msg
		}
	} else if text, ok := body.(string); ok && text != "" {
		return text
	}
	return statusText
}
