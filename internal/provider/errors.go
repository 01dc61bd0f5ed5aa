package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// errorCodeProjectNotFound is what the provider reports when a background
// probe races a project that it has not finished registering yet.
const errorCodeProjectNotFound = 102

// APIError is the decoded form of a non-2xx provider REST response.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"errorCode"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider: http %d", e.Status)
	}
	if e.Code != 0 {
		return fmt.Sprintf("provider: %s (code %d, http %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("provider: %s (http %d)", e.Message, e.Status)
}

// IsProjectNotFound reports whether err is the transient "project not found"
// shape. Callers decide where that shape counts as noise.
func IsProjectNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Status != http.StatusNotFound {
		return false
	}
	if apiErr.Code == errorCodeProjectNotFound {
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "project not found")
}
