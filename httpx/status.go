package httpx

import (
	"encoding/json"
	"net/http"
)

const (
	StatusOK            = http.StatusOK
	StatusBadRequest    = http.StatusBadRequest    // invalid_request, invalid_grant
	StatusUnauthorized  = http.StatusUnauthorized  // invalid_client
	StatusInternalError = http.StatusInternalServerError
)

// OAuthError is the error document a token endpoint returns (RFC 6749 5.2).
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// OAuth decodes the response body as an OAuth error document. It reports
// false when the body is not one.
func (e *StatusError) OAuth() (OAuthError, bool) {
	var doc OAuthError
	if e == nil || json.Unmarshal(e.Body, &doc) != nil || doc.Code == "" {
		return OAuthError{}, false
	}
	return doc, true
}
