package m2m

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication is returned when the service does not deliver a session token
	ErrAuthentication = errors.New("authentication failed")
	// ErrEmptyResponse is returned when the service answers without a body
	ErrEmptyResponse = errors.New("no output from service")
	// ErrNotAuthenticated is returned when an authenticated endpoint is called before login
	ErrNotAuthenticated = errors.New("not authenticated")
)

// APIError is returned when the response carries an error code, whatever the http status
type APIError struct {
	Endpoint string
	Code     string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s - %s", e.Endpoint, e.Code, e.Message)
}

// HTTPError is returned when the http status is not a success and the response has no error code
type HTTPError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	switch e.StatusCode {
	case 404:
		return fmt.Sprintf("%s: 404 Not Found", e.Endpoint)
	case 401:
		return fmt.Sprintf("%s: 401 Unauthorized", e.Endpoint)
	}
	return fmt.Sprintf("%s: Error Code %d: %s", e.Endpoint, e.StatusCode, e.Body)
}
