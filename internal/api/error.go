package api

import (
	"errors"
	"fmt"
)

// RequestError is returned for any response outside the 2xx range.
type RequestError struct {
	StatusCode int
	Status     string
	Method     string
	Path       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%d %s", e.StatusCode, e.Status)
}

// StatusCode extracts the HTTP status of a RequestError, or 0.
func StatusCode(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}
	return 0
}
